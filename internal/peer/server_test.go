package peer

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ninefl/psi-node/internal/curve"
	"github.com/ninefl/psi-node/internal/wire"
)

func TestServerPsiExecuteAppliesEncryptPeer(t *testing.T) {
	sec, err := curve.New(curve.Curve25519, []byte("12345678901234567890123456789012"))
	require.NoError(t, err)
	srv := NewServer(sec, zerolog.Nop())

	record := make([]byte, 32)
	record[0] = 0x09
	encryptedOnce, err := sec.EncryptSelf([][]byte{record})
	require.NoError(t, err)

	req := &wire.ExecuteRequest{
		Header: &wire.CorrelationHeader{RequestID: "abc", Metadata: map[string]string{"k": "v"}},
		Keys:   encryptedOnce,
	}
	res, err := srv.PsiExecute(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Keys, 1)
	assert.Equal(t, "abc", res.Header.RequestID)
	assert.Equal(t, int32(0), res.Header.Code)
	assert.Equal(t, "v", res.Header.Metadata["k"])
}

func TestServerPsiExecuteBadInputReportedInBand(t *testing.T) {
	sec, err := curve.New(curve.Curve25519, []byte("12345678901234567890123456789012"))
	require.NoError(t, err)
	srv := NewServer(sec, zerolog.Nop())

	req := &wire.ExecuteRequest{Header: &wire.CorrelationHeader{RequestID: "x"}, Keys: [][]byte{{0x01}}}
	res, err := srv.PsiExecute(context.Background(), req)
	require.NoError(t, err) // errors are reported in-band, not returned
	assert.NotEqual(t, int32(0), res.Header.Code)
	assert.Equal(t, "x", res.Header.RequestID)
}

func TestIsBrokenPipe(t *testing.T) {
	assert.True(t, isBrokenPipe(io.ErrClosedPipe))
	assert.True(t, isBrokenPipe(&net.OpError{Op: "write", Err: errors.New("broken pipe")}))
	assert.False(t, isBrokenPipe(errors.New("some other error")))
	assert.False(t, isBrokenPipe(nil))
}
