package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/sentinel/pkg/domain"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func simulate(t *testing.T, args ...string) simulationSummary {
	t.Helper()
	out, err := execute(t, append([]string{"simulate", "--json", "--log-level", "error"}, args...)...)
	require.NoError(t, err)
	var summary simulationSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	return summary
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "sentinel dev")
}

func TestSimulateNominalPlantStaysNormal(t *testing.T) {
	t.Setenv("SENTINEL_WCET", "1s")
	summary := simulate(t, "--ticks", "300", "--spike-probability", "0")

	assert.Equal(t, 300, summary.Ticks)
	assert.Equal(t, domain.ModeNormal, summary.Mode)
	assert.Equal(t, 1.0, summary.Scale)
	assert.Zero(t, summary.Transitions)
	assert.Empty(t, summary.Failures)
	assert.Equal(t, uint64(300), summary.AuditRecords)
	assert.Len(t, summary.AuditHead, 12)
	for _, v := range summary.Theta {
		assert.InDelta(t, 1.0, v, 1e-9)
	}
}

func TestSimulateDriftEscalates(t *testing.T) {
	summary := simulate(t, "--ticks", "300", "--drift", "3", "--spike-probability", "0")

	assert.Equal(t, domain.ModeInternalFault, summary.Mode)
	assert.Equal(t, 0.0, summary.Scale)
	assert.NotEmpty(t, summary.Failures)
	for _, v := range summary.Theta {
		assert.GreaterOrEqual(t, v, 0.1)
		assert.LessOrEqual(t, v, 10.0)
	}
}

func TestSimulateSpikesReportEnvelopeViolations(t *testing.T) {
	summary := simulate(t, "--ticks", "5", "--spike-probability", "1")

	assert.Equal(t, 5, summary.Ticks)
	assert.Contains(t, summary.Failures, "envelope_violation")
}

func TestSimulateRejectsZeroTicks(t *testing.T) {
	_, err := execute(t, "simulate", "--ticks", "0")
	assert.Error(t, err)
}

func TestSimulatePersistsVerifiableLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit")

	first := simulate(t, "--ticks", "50", "--ledger", path)
	assert.Equal(t, uint64(50), first.AuditRecords)

	out, err := execute(t, "ledger", "verify", "--path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ledger ok: 50 records, head "+first.AuditHead)

	// A second run resumes the chain from the stored head.
	second := simulate(t, "--ticks", "25", "--ledger", path)
	assert.NotEqual(t, first.AuditHead, second.AuditHead)

	out, err = execute(t, "ledger", "verify", "--path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ledger ok: 75 records, head "+second.AuditHead)

	out, err = execute(t, "ledger", "tail", "--path", path, "-n", "3")
	require.NoError(t, err)
	assert.Equal(t, 3, bytes.Count([]byte(out), []byte("\n")))
	assert.Contains(t, out, second.AuditHead)
}

func TestSimulateWithConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
governor:
  dof: 2
audit:
  enabled: false
policy:
  enabled: false
`), 0o600))

	summary := simulate(t, "--config", path, "--ticks", "20", "--spike-probability", "0")
	assert.Len(t, summary.Theta, 2)
	assert.Equal(t, 20, summary.Ticks)
	assert.Equal(t, uint64(20), summary.AuditRecords, "headless runs audit to memory")
}

func TestMissingConfigFileFails(t *testing.T) {
	_, err := execute(t, "simulate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
