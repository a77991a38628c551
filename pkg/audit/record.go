package audit

import (
	"github.com/polisai/sentinel/pkg/domain"
)

// Record is one sealed entry of the forensic trail.
type Record struct {
	Sequence     uint64             `cbor:"1,keyasint" json:"sequence"`
	TimestampNS  int64              `cbor:"2,keyasint" json:"timestampNs"`
	Tick         uint64             `cbor:"3,keyasint" json:"tick"`
	Intent       domain.Intent      `cbor:"4,keyasint" json:"intent"`
	RawCommand   []float64          `cbor:"5,keyasint" json:"rawCommand"`
	SafeCommand  []float64          `cbor:"6,keyasint" json:"safeCommand"`
	SafetyFactor float64            `cbor:"7,keyasint" json:"safetyFactor"`
	Mode         domain.RuntimeMode `cbor:"8,keyasint" json:"mode"`
	Rejected     bool               `cbor:"9,keyasint,omitempty" json:"rejected,omitempty"`
	Note         string             `cbor:"10,keyasint,omitempty" json:"note,omitempty"`
	PrevHash     string             `cbor:"11,keyasint" json:"prevHash"`
	Hash         string             `cbor:"12,keyasint" json:"hash"`
}

// Entry is the unsealed content submitted by the runtime. Sequence and hashes
// are assigned by the Chain.
type Entry struct {
	TimestampNS  int64
	Tick         uint64
	Intent       domain.Intent
	RawCommand   []float64
	SafeCommand  []float64
	SafetyFactor float64
	Mode         domain.RuntimeMode
	Rejected     bool
	Note         string
}

// body is the hashed portion of a record. Field keys are fixed so the
// encoding is stable across releases.
type body struct {
	Sequence     uint64             `cbor:"1,keyasint"`
	TimestampNS  int64              `cbor:"2,keyasint"`
	Tick         uint64             `cbor:"3,keyasint"`
	Intent       intentBody         `cbor:"4,keyasint"`
	RawCommand   []float64          `cbor:"5,keyasint"`
	SafeCommand  []float64          `cbor:"6,keyasint"`
	SafetyFactor float64            `cbor:"7,keyasint"`
	Mode         domain.RuntimeMode `cbor:"8,keyasint"`
	Rejected     bool               `cbor:"9,keyasint"`
	Note         string             `cbor:"10,keyasint"`
}

type intentBody struct {
	Type        domain.IntentType `cbor:"1,keyasint"`
	Target      float64           `cbor:"2,keyasint"`
	Priority    int               `cbor:"3,keyasint"`
	TimestampNS int64             `cbor:"4,keyasint"`
}

func (r Record) body() body {
	return body{
		Sequence:    r.Sequence,
		TimestampNS: r.TimestampNS,
		Tick:        r.Tick,
		Intent: intentBody{
			Type:        r.Intent.Type,
			Target:      r.Intent.Target,
			Priority:    r.Intent.Priority,
			TimestampNS: r.Intent.TimestampNS,
		},
		RawCommand:   r.RawCommand,
		SafeCommand:  r.SafeCommand,
		SafetyFactor: r.SafetyFactor,
		Mode:         r.Mode,
		Rejected:     r.Rejected,
		Note:         r.Note,
	}
}
