package curve

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	k1 = []byte("12345678901234567890123456789012")[:32]
	k2 = []byte("32345678901234567890123456789012")[:32]
)

func input32() []byte {
	b := make([]byte, 32)
	for i := range b {
		b[i] = 0x01
	}
	return b
}

func TestCurve25519Commutes(t *testing.T) {
	s1, err := New(Curve25519, k1)
	require.NoError(t, err)
	s2, err := New(Curve25519, k2)
	require.NoError(t, err)

	record := input32()

	// Party 1 encrypts own record, party 2 applies peer encryption, and
	// vice versa. Both orderings must land on the same double-encrypted
	// point (P2: commutativity).
	a1, err := s1.EncryptSelf([][]byte{record})
	require.NoError(t, err)
	a12, err := s2.EncryptPeer(a1)
	require.NoError(t, err)

	b1, err := s2.EncryptSelf([][]byte{record})
	require.NoError(t, err)
	b12, err := s1.EncryptPeer(b1)
	require.NoError(t, err)

	assert.True(t, bytes.Equal(a12[0], b12[0]), "curve25519 double-encryption must commute")
}

func TestP256Commutes(t *testing.T) {
	s1, err := New(P256, k1)
	require.NoError(t, err)
	s2, err := New(P256, k2)
	require.NoError(t, err)

	record := input32()

	a1, err := s1.EncryptSelf([][]byte{record})
	require.NoError(t, err)
	a12, err := s2.EncryptPeer(a1)
	require.NoError(t, err)

	b1, err := s2.EncryptSelf([][]byte{record})
	require.NoError(t, err)
	b12, err := s1.EncryptPeer(b1)
	require.NoError(t, err)

	assert.True(t, bytes.Equal(a12[0], b12[0]), "p256 double-encryption must commute")
}

func TestCurve25519RejectsShortKey(t *testing.T) {
	_, err := New(Curve25519, []byte("too-short"))
	assert.Error(t, err)
}

func TestP256AcceptsArbitraryLengthKey(t *testing.T) {
	_, err := New(P256, []byte("any length works for p256"))
	assert.NoError(t, err)
}

func TestCurve25519EncryptPeerRejectsBadLength(t *testing.T) {
	s, err := New(Curve25519, k1)
	require.NoError(t, err)
	_, err = s.EncryptPeer([][]byte{{0x01, 0x02}})
	assert.Error(t, err)
}

func TestP256EncryptPeerRejectsMalformedPoint(t *testing.T) {
	s, err := New(P256, k1)
	require.NoError(t, err)
	_, err = s.EncryptPeer([][]byte{{0x01, 0x02, 0x03}})
	assert.Error(t, err)
}

func TestUnsupportedCurveType(t *testing.T) {
	_, err := New("curve448", k1)
	assert.Error(t, err)
}
