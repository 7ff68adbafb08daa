package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFollowerContextLastTxID(t *testing.T) {
	fc := FollowerContext{
		FollowerID: "follower-1",
		EventID:    7,
		Cursors: []ResourceCursor{
			{Resource: "graph", LastTxID: 42},
			{Resource: "index", LastTxID: 10},
		},
	}

	require.Equal(t, uint64(42), fc.LastTxID("graph"))
	require.Equal(t, uint64(10), fc.LastTxID("index"))
	require.Equal(t, uint64(0), fc.LastTxID("unknown"))
}

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	require.Equal(t, jsonCodecName, c.Name())

	req := &CommitRequest{
		Context: FollowerContext{
			FollowerID: "f1",
			Cursors:    []ResourceCursor{{Resource: "graph", LastTxID: 5}},
		},
		TxLocalID: 9,
		Resources: []ResourceCommands{
			{Resource: "graph", Commands: [][]byte{[]byte("cmd-a"), []byte("cmd-b")}},
		},
	}

	data, err := c.Marshal(req)
	require.NoError(t, err)

	var decoded CommitRequest
	require.NoError(t, c.Unmarshal(data, &decoded))
	require.Equal(t, req.TxLocalID, decoded.TxLocalID)
	require.Equal(t, req.Resources, decoded.Resources)
	require.Equal(t, uint64(5), decoded.Context.LastTxID("graph"))
}
