package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ninefl/psi-node/internal/curve"
	"github.com/ninefl/psi-node/internal/wire"
)

func TestNewRejectsBadCurveKeyAsLocalFatal(t *testing.T) {
	cfg := Config{
		CurveType:  curve.Curve25519,
		Key:        []byte("too-short"),
		ID:         "a",
		Target:     "b",
		ListenAddr: "127.0.0.1:0",
		PeerAddr:   "127.0.0.1:1",
		PolicyName: "default",
	}
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	werr, ok := wire.AsError(err)
	require.True(t, ok)
	assert.Equal(t, wire.KindLocalFatal, werr.Kind)
}

func TestNewRejectsUnbindableAddress(t *testing.T) {
	cfg := Config{
		CurveType:  curve.Curve25519,
		Key:        []byte("12345678901234567890123456789012"),
		ID:         "a",
		Target:     "b",
		ListenAddr: "not-a-valid-address",
		PeerAddr:   "127.0.0.1:1",
		PolicyName: "default",
	}
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	werr, ok := wire.AsError(err)
	require.True(t, ok)
	assert.Equal(t, wire.KindLocalFatal, werr.Kind)
}
