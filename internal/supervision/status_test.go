package supervision

import (
	"fmt"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitError(t *testing.T, command ...string) error {
	t.Helper()

	cmd := exec.Command(command[0], command[1:]...)
	require.NoError(t, cmd.Start())

	return cmd.Wait()
}

func TestDecodeWaitStatus_NormalExit(t *testing.T) {
	code, err := decodeWaitStatus(waitError(t, "true"))

	assert.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestDecodeWaitStatus_NonZeroExit(t *testing.T) {
	code, err := decodeWaitStatus(waitError(t, "sh", "-c", "exit 7"))

	assert.NoError(t, err)
	assert.Equal(t, 7, code)
}

func TestDecodeWaitStatus_SignalDeath(t *testing.T) {
	// the child kills itself with SIGKILL
	code, err := decodeWaitStatus(waitError(t, "sh", "-c", "kill -9 $$"))

	assert.NoError(t, err)
	assert.Equal(t, 128+9, code)
}

func TestDecodeWaitStatus_Idempotent(t *testing.T) {
	waitErr := waitError(t, "sh", "-c", "exit 42")

	first, err := decodeWaitStatus(waitErr)
	require.NoError(t, err)

	second, err := decodeWaitStatus(waitErr)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 42, first)
}

func TestDecodeWaitStatus_UnknownError(t *testing.T) {
	_, err := decodeWaitStatus(fmt.Errorf("process table corrupted"))

	assert.Error(t, err)
}
