package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileProviderPublishesReloads(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "governor:\n  dof: 2\n")

	p, err := NewFileProvider(path, nil)
	require.NoError(t, err)
	defer p.Close()

	updates := p.Subscribe()
	initial := <-updates
	require.Equal(t, 2, initial.Governor.DOF)

	require.NoError(t, os.WriteFile(path, []byte("governor:\n  dof: 5\n"), 0o600))

	select {
	case cfg := <-updates:
		assert.Equal(t, 5, cfg.Governor.DOF)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	assert.Equal(t, 5, p.Current().Governor.DOF)
}

func TestFileProviderKeepsLastGoodConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "governor:\n  dof: 2\n")

	p, err := NewFileProvider(path, nil)
	require.NoError(t, err)
	defer p.Close()

	updates := p.Subscribe()
	<-updates

	require.NoError(t, os.WriteFile(path, []byte("governor:\n  dof: -1\n"), 0o600))

	select {
	case cfg := <-updates:
		t.Fatalf("invalid config must not be published, got dof=%d", cfg.Governor.DOF)
	case <-time.After(500 * time.Millisecond):
	}
	assert.Equal(t, 2, p.Current().Governor.DOF)
}

func TestNewFileProviderRejectsInvalidFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "logging:\n  level: loud\n")
	_, err := NewFileProvider(path, nil)
	assert.Error(t, err)
}
