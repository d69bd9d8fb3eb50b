package psirpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"

	"github.com/ninefl/psi-node/internal/wire"
)

func TestCodecRegistered(t *testing.T) {
	c := encoding.GetCodec(CodecName)
	require.NotNil(t, c)
	assert.Equal(t, CodecName, c.Name())
}

func TestCodecRoundTripsExecuteRequest(t *testing.T) {
	c := codec{}
	req := &wire.ExecuteRequest{
		Header: &wire.CorrelationHeader{RequestID: "rid"},
		Keys:   [][]byte{{0x01, 0x02}},
	}
	data, err := c.Marshal(req)
	require.NoError(t, err)

	got := new(wire.ExecuteRequest)
	require.NoError(t, c.Unmarshal(data, got))
	assert.Equal(t, req.Header.RequestID, got.Header.RequestID)
	assert.Equal(t, req.Keys, got.Keys)
}

func TestCodecRejectsNonBinaryTypes(t *testing.T) {
	c := codec{}
	_, err := c.Marshal("not a wire type")
	assert.Error(t, err)

	err = c.Unmarshal([]byte{}, "not a wire type")
	assert.Error(t, err)
}
