package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/milosgajdos/go-control"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSolve(t *testing.T) {
	assert := assert.New(t)

	out, err := run(t, "solve", "--preset", "mpc", "--x0", "0.1,0.05")
	assert.NoError(err)
	assert.Contains(out, "controller: mpc (ipm)")
	assert.Contains(out, "status:     optimal")
	assert.Contains(out, "state:")

	out, err = run(t, "solve", "--preset", "mpc", "--x0", "1,0")
	assert.NoError(err)
	assert.Contains(out, "status:     infeasible")
	assert.Contains(out, "fallback:")
}

func TestSolveFilter(t *testing.T) {
	assert := assert.New(t)

	out, err := run(t, "solve", "--preset", "sf", "--kind", "ibsf", "--input", "10")
	assert.NoError(err)
	assert.Contains(out, "controller: ibsf ()")
	assert.Contains(out, "status:     optimal")
	assert.NotContains(out, "state:")
}

func TestTighten(t *testing.T) {
	assert := assert.New(t)

	out, err := run(t, "tighten", "--preset", "rmpc")
	assert.NoError(err)
	assert.Contains(out, "STAGE")
	assert.Contains(out, "\n10 ")
}

func TestConfigFile(t *testing.T) {
	assert := assert.New(t)

	path := filepath.Join(t.TempDir(), "rmpc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ctrl:\n  N: 4\n"), 0o600))

	out, err := run(t, "tighten", "--preset", "rmpc", "--config", path)
	assert.NoError(err)
	assert.Contains(out, "\n4 ")
	assert.NotContains(out, "\n10 ")

	_, err = run(t, "solve", "--preset", "lqr")
	assert.ErrorIs(err, control.ErrConfiguration)
}
