package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/meeting-pilot/internal/config"
	"github.com/GriffinCanCode/meeting-pilot/internal/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd(&Dependencies{Version: "test"})
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestEnvCommand(t *testing.T) {
	out, err := execute(t, "env")
	require.NoError(t, err)
	assert.Contains(t, out, "PILOT_INFERENCE_ADDR")
}

func TestHistoryCommand(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PILOT_DATA_DIR", dir)

	cfg, err := config.Load("")
	require.NoError(t, err)
	st, err := store.Open(cfg.StorePath())
	require.NoError(t, err)
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.AddSession(store.SessionInput{ID: "s1", StartTime: start, Summary: "Budget review", Topics: []string{"budget"}}))
	require.NoError(t, st.AddSession(store.SessionInput{ID: "s2", StartTime: start.Add(time.Hour), Summary: "Hiring sync"}))

	out, err := execute(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "Budget review")
	assert.Contains(t, out, "Hiring sync")

	out, err = execute(t, "history", "hiring")
	require.NoError(t, err)
	assert.Contains(t, out, "Hiring sync")
	assert.NotContains(t, out, "Budget review")
}

func TestInvalidConfigFails(t *testing.T) {
	t.Setenv("PILOT_DATA_DIR", t.TempDir())
	t.Setenv("PILOT_STT_BACKEND", "fax")
	_, err := execute(t, "history")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "test")
}
