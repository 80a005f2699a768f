package machine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// shadowStack has no exported surface (it is wired into CALL/LEAVE
// internally, unconditionally, not gated by a Safety flag), so these cases
// live in package machine rather than machine_test.

func TestShadowStackLockStep(t *testing.T) {
	var s shadowStack
	s.push(100)
	s.push(200)
	require.NoError(t, s.pop(200))
	require.NoError(t, s.pop(100))
}

func TestShadowStackDetectsMismatchedReturn(t *testing.T) {
	var s shadowStack
	s.push(100)
	err := s.pop(999)
	require.ErrorContains(t, err, "CFI VIOLATION")
	require.ErrorContains(t, err, "does not match call site")
}

func TestShadowStackDetectsEmptyPop(t *testing.T) {
	var s shadowStack
	err := s.pop(1)
	require.ErrorContains(t, err, "CFI VIOLATION")
	require.ErrorContains(t, err, "empty shadow stack")
}

func TestShadowStackNestedCalls(t *testing.T) {
	var s shadowStack
	s.push(1)
	s.push(2)
	s.push(3)
	require.NoError(t, s.pop(3))
	s.push(4)
	require.NoError(t, s.pop(4))
	require.NoError(t, s.pop(2))
	require.NoError(t, s.pop(1))
}
