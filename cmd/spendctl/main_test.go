package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/spend-approval/internal/domain/entity"
)

const cliSeed = `
routes:
  - org_unit: CC-1
    levels:
      - level: 1
        approver: identity:mgr
budgets:
  - org_unit: CC-1
    account: opex
    fiscal_period: "2026"
    total: "1000"
users:
  - id: alice
  - id: mgr
`

type cliEnv struct {
	config string
	seed   string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	seed := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(cliSeed), 0o644))

	config := filepath.Join(dir, "config.yaml")
	body := "database:\n  path: " + filepath.Join(dir, "spend.db") + "\nmetrics:\n  enabled: false\n"
	require.NoError(t, os.WriteFile(config, []byte(body), 0o644))
	return &cliEnv{config: config, seed: seed}
}

func (e *cliEnv) run(t *testing.T, args ...string) ([]byte, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.config, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.Bytes(), err
}

func TestCLI_ApproveFlow(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "seed-routes", env.seed)
	require.NoError(t, err)

	out, err := env.run(t, "create", "--requester", "alice", "--org", "CC-1", "--account", "opex", "--period", "2026", "--amount", "400")
	require.NoError(t, err)
	var req entity.SpendRequest
	require.NoError(t, json.Unmarshal(out, &req))
	id := strconv.FormatInt(req.ID, 10)

	_, err = env.run(t, "submit", id, "--actor", "alice")
	require.NoError(t, err)

	_, err = env.run(t, "approve", id, "--actor", "alice")
	assert.Error(t, err, "requester is not the level approver")

	out, err = env.run(t, "approve", id, "--actor", "mgr")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(out, &req))
	assert.Equal(t, entity.StatusApproved, req.Status)

	out, err = env.run(t, "status", id)
	require.NoError(t, err)
	var status statusOutput
	require.NoError(t, json.Unmarshal(out, &status))
	assert.Len(t, status.Reservations, 1)
	assert.NotEmpty(t, status.History)

	out, err = env.run(t, "balance", "CC-1", "opex", "2026")
	require.NoError(t, err)
	assert.Contains(t, string(out), `"available": "600"`)

	out, err = env.run(t, "cancel", id, "--mode", "cascade", "--actor", "alice")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(out, &req))
	assert.True(t, req.Cancelled)
}

func TestCLI_Validation(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "submit", "abc")
	assert.Error(t, err)

	_, err = env.run(t, "cancel", "1", "--mode", "shred")
	assert.Error(t, err)

	_, err = env.run(t, "approve", "1")
	assert.Error(t, err, "--actor is required")

	_, err = env.run(t, "seed-routes", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
