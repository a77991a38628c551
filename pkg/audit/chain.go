package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
)

// HashLength is the number of hex characters kept from the SHA-256 digest.
const HashLength = 12

// GenesisHash is the PrevHash of the first record in a chain.
const GenesisHash = "000000000000"

// ErrChainBroken indicates a record does not link to its predecessor or its
// hash does not match its content.
var ErrChainBroken = errors.New("audit chain broken")

// ChainError describes where verification failed.
type ChainError struct {
	Sequence uint64
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at sequence %d: %s", e.Sequence, e.Reason)
}

func (e *ChainError) Is(target error) bool {
	return target == ErrChainBroken
}

// Chain assigns sequence numbers and links record hashes. It is safe for
// concurrent use, though the Dispatcher is its only writer in practice.
type Chain struct {
	mu   sync.Mutex
	seq  uint64
	prev string
}

// NewChain starts a chain at sequence 1 with the genesis hash.
func NewChain() *Chain {
	return &Chain{prev: GenesisHash}
}

// ResumeChain continues a chain whose last sealed record is last.
func ResumeChain(last Record) *Chain {
	return &Chain{seq: last.Sequence, prev: last.Hash}
}

// Seal turns an entry into the next record of the chain.
func (c *Chain) Seal(e Entry) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := Record{
		Sequence:     c.seq + 1,
		TimestampNS:  e.TimestampNS,
		Tick:         e.Tick,
		Intent:       e.Intent,
		RawCommand:   e.RawCommand,
		SafeCommand:  e.SafeCommand,
		SafetyFactor: e.SafetyFactor,
		Mode:         e.Mode,
		Rejected:     e.Rejected,
		Note:         e.Note,
		PrevHash:     c.prev,
	}
	hash, err := ComputeHash(r)
	if err != nil {
		return Record{}, err
	}
	r.Hash = hash

	c.seq = r.Sequence
	c.prev = hash
	return r, nil
}

// Head returns the last assigned sequence and hash.
func (c *Chain) Head() (uint64, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq, c.prev
}

// ComputeHash returns hex(SHA-256(prevHash || cbor(body)))[:HashLength].
func ComputeHash(r Record) (string, error) {
	data, err := encMode.Marshal(r.body())
	if err != nil {
		return "", fmt.Errorf("encode record body: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(r.PrevHash))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))[:HashLength], nil
}

// Verify checks that records form a contiguous chain starting after the
// given predecessor (use GenesisHash and 0 for a full chain).
func Verify(records []Record, prevSeq uint64, prevHash string) error {
	for _, r := range records {
		if r.Sequence != prevSeq+1 {
			return &ChainError{Sequence: r.Sequence, Reason: fmt.Sprintf("expected sequence %d", prevSeq+1)}
		}
		if r.PrevHash != prevHash {
			return &ChainError{Sequence: r.Sequence, Reason: "previous hash mismatch"}
		}
		want, err := ComputeHash(r)
		if err != nil {
			return err
		}
		if want != r.Hash {
			return &ChainError{Sequence: r.Sequence, Reason: "content hash mismatch"}
		}
		prevSeq, prevHash = r.Sequence, r.Hash
	}
	return nil
}
