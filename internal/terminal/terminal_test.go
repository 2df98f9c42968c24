package terminal

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ClawAgent/internal/correlator"
	xerrors "ClawAgent/internal/errors"
)

func TestLocalRunnerCapturesOutput(t *testing.T) {
	r := NewLocalRunner(5*time.Second, 0)
	res, err := r.Run(context.Background(), Command{Name: "echo", Args: []string{"hello"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
}

func TestLocalRunnerNonZeroExitIsResult(t *testing.T) {
	r := NewLocalRunner(5*time.Second, 0)
	res, err := r.Run(context.Background(), Command{Name: "echo oops >&2; exit 4"})
	require.NoError(t, err)
	assert.Equal(t, 4, res.ExitCode)
	assert.Equal(t, "oops\n", res.Stderr)
}

func TestLocalRunnerLimitsOutput(t *testing.T) {
	r := NewLocalRunner(5*time.Second, 8)
	res, err := r.Run(context.Background(), Command{Name: "printf 0123456789abcdef"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Stdout, "01234567"))
	assert.Contains(t, res.Stdout, "[output truncated]")
}

func TestLocalRunnerTimeout(t *testing.T) {
	r := NewLocalRunner(50*time.Millisecond, 0)
	_, err := r.Run(context.Background(), Command{Name: "sleep", Args: []string{"5"}})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
}

func TestLocalRunnerMissingBinary(t *testing.T) {
	r := NewLocalRunner(time.Second, 0)
	_, err := r.Run(context.Background(), Command{Name: "definitely-not-a-binary-claw"})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeCommandFailed, xerrors.CodeOf(err))

	_, err = r.Run(context.Background(), Command{Name: "  "})
	require.Error(t, err)
}

func TestCorrelatedRunner(t *testing.T) {
	var c *correlator.Correlator
	var seen correlator.Request
	c = correlator.New(correlator.NotifierFunc(func(_ context.Context, req correlator.Request) error {
		seen = req
		go c.Complete(correlator.Result{
			RequestID: req.RequestID,
			OK:        true,
			Data:      map[string]any{"exitCode": float64(2), "stdout": "out", "stderr": "err"},
		})
		return nil
	}))

	r := NewCorrelatedRunner(c, time.Second)
	res, err := r.Run(context.Background(), Command{Name: "git", Dir: "/repo"})
	require.NoError(t, err)
	assert.Equal(t, Result{ExitCode: 2, Stdout: "out", Stderr: "err"}, res)
	assert.Equal(t, "git", seen.Command)
	assert.Equal(t, []string{}, seen.Args)
	assert.Equal(t, "/repo", seen.Cwd)
}

func TestCorrelatedRunnerFailure(t *testing.T) {
	var c *correlator.Correlator
	c = correlator.New(correlator.NotifierFunc(func(_ context.Context, req correlator.Request) error {
		go c.Complete(correlator.Result{RequestID: req.RequestID, OK: false, Error: "denied"})
		return nil
	}))
	_, err := NewCorrelatedRunner(c, time.Second).Run(context.Background(), Command{Name: "rm"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}
