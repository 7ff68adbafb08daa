package walog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterAppendCommitScan(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, false)
	require.NoError(t, err)

	require.NoError(t, w.Append(1, []byte("command-a")))
	require.NoError(t, w.Append(1, []byte("command-b")))
	require.NoError(t, w.Prepare(1))
	require.NoError(t, w.Commit(1, 100, 7, 42))
	require.NoError(t, w.Close())

	txs, err := Scan([]string{activeFileName(dir, 0), activeFileName(dir, 1)})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, uint64(100), txs[0].Commit.GlobalTxID)
	require.Equal(t, uint64(7), txs[0].Commit.PrimaryEpoch)
	require.Len(t, txs[0].Commands, 2)
}

func TestScanDiscardsUncommittedTx(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, false)
	require.NoError(t, err)

	require.NoError(t, w.Append(1, []byte("orphan-command")))
	require.NoError(t, w.Prepare(1))
	// No Commit call: this transaction must never be replayed.
	require.NoError(t, w.Close())

	txs, err := Scan([]string{activeFileName(dir, 0), activeFileName(dir, 1)})
	require.NoError(t, err)
	require.Len(t, txs, 0)
}

func TestScanDiscardsRolledBackTx(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, false)
	require.NoError(t, err)

	require.NoError(t, w.Append(2, []byte("cmd")))
	require.NoError(t, w.Rollback(2))
	require.NoError(t, w.Close())

	txs, err := Scan([]string{activeFileName(dir, 0), activeFileName(dir, 1)})
	require.NoError(t, err)
	require.Len(t, txs, 0)
}

func TestWriterRotation(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, false)
	require.NoError(t, err)
	defer w.Close()

	// Shrink the rotation threshold surface by writing large payloads
	// rather than looping millions of times.
	payload := make([]byte, RotateThreshold/4)

	startSlot := w.slot
	for i := 0; i < 5; i++ {
		require.NoError(t, w.Append(uint64(i), payload))
	}
	require.NotEqual(t, startSlot, w.slot)
}
