package replerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplicationErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := New(KindTransientCommunication, "Commit", cause)

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "transient_communication")
	require.Contains(t, err.Error(), "Commit")
}

func TestKindString(t *testing.T) {
	require.Equal(t, "branched_data", KindBranchedData.String())
	require.Equal(t, "unknown", Kind(99).String())
}
