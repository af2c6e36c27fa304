package command

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunner(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	result, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo out; echo err 1>&2")
	require.NoError(t, err)
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
	assert.Zero(t, result.ExitCode)

	_, err = ExecRunner{}.Run(context.Background(), "sh", "-c", "echo broken 1>&2; exit 3")
	require.Error(t, err)

	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 3, ce.Result.ExitCode)
	assert.Equal(t, "broken", ce.Tail(100))
	assert.Equal(t, "broken\n", Stderr(err))
}

func TestFakeRecordsCalls(t *testing.T) {
	f := &Fake{}
	_, err := f.Run(context.Background(), "ffprobe", "-i", "a.mp3")
	require.NoError(t, err)

	calls := f.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ffprobe", calls[0].Name)
	assert.Equal(t, "a.mp3", ArgValue(calls[0].Args, "-i"))
	assert.Equal(t, "", ArgValue(calls[0].Args, "-x"))
}
