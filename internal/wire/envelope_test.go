package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteRequestRoundTrip(t *testing.T) {
	req := &ExecuteRequest{
		Header: &CorrelationHeader{RequestID: "r1", Metadata: map[string]string{"a": "1", "b": "2"}},
		Keys:   [][]byte{{0x01, 0x02}, {}, {0xff}},
	}
	data, err := req.MarshalBinary()
	require.NoError(t, err)

	got := new(ExecuteRequest)
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Equal(t, req.Header.RequestID, got.Header.RequestID)
	assert.Equal(t, req.Header.Metadata, got.Header.Metadata)
	assert.Equal(t, req.Keys, got.Keys)
}

func TestExecuteResultRoundTrip(t *testing.T) {
	res := &ExecuteResult{
		Header: &ResultHeader{RequestID: "r2", Code: -1, Msg: "boom"},
		Keys:   [][]byte{{0x09}},
	}
	data, err := res.MarshalBinary()
	require.NoError(t, err)

	got := new(ExecuteResult)
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Equal(t, res.Header.RequestID, got.Header.RequestID)
	assert.Equal(t, res.Header.Code, got.Header.Code)
	assert.Equal(t, res.Header.Msg, got.Header.Msg)
	assert.Equal(t, res.Keys, got.Keys)
}

func TestExecuteRequestNoHeader(t *testing.T) {
	req := &ExecuteRequest{Keys: [][]byte{{0x01}}}
	data, err := req.MarshalBinary()
	require.NoError(t, err)

	got := new(ExecuteRequest)
	require.NoError(t, got.UnmarshalBinary(data))
	assert.Nil(t, got.Header)
	assert.Equal(t, req.Keys, got.Keys)
}

func TestEnsureRequestIDFillsOnlyWhenEmpty(t *testing.T) {
	req := &ExecuteRequest{}
	req.EnsureRequestID()
	assert.NotEmpty(t, req.Header.RequestID)

	id := req.Header.RequestID
	req.EnsureRequestID()
	assert.Equal(t, id, req.Header.RequestID)
}

func TestBackHeaderZeroesCode(t *testing.T) {
	h := &CorrelationHeader{RequestID: "r3", Metadata: map[string]string{"k": "v"}}
	bh := BackHeader(h)
	assert.Equal(t, "r3", bh.RequestID)
	assert.Equal(t, "v", bh.Metadata["k"])
	assert.Equal(t, int32(0), bh.Code)
	assert.Empty(t, bh.Msg)
}

func TestFromErrorPreservesCorrelation(t *testing.T) {
	h := &CorrelationHeader{RequestID: "r4"}
	res := FromError(assert.AnError, h)
	assert.Equal(t, int32(-1), res.Header.Code)
	assert.Equal(t, "r4", res.Header.RequestID)
	assert.Contains(t, res.Header.Msg, assert.AnError.Error())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "BadInput", KindBadInput.String())
	assert.Equal(t, "PeerUnavailable", KindPeerUnavailable.String())
	assert.Equal(t, "Unknown", Kind(99).String())
}

func TestUnmarshalTruncated(t *testing.T) {
	req := new(ExecuteRequest)
	err := req.UnmarshalBinary([]byte{0xff, 0xff})
	assert.Error(t, err)
}
