package broker

import (
	"bytes"
	"io"
)

// memSink is a minimal in-memory raft.SnapshotSink for exercising
// brokerSnapshot.Persist/brokerFSM.Restore without a real raft
// snapshot store.
type memSink struct {
	buf bytes.Buffer
}

func (s *memSink) Write(p []byte) (int, error) { return s.buf.Write(p) }
func (s *memSink) Close() error                 { return nil }
func (s *memSink) Cancel() error                { return nil }
func (s *memSink) ID() string                   { return "mem" }

func (s *memSink) readCloser() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(s.buf.Bytes()))
}
