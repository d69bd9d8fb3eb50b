// Package curve holds the elliptic-curve cryptographic core (C1): a
// per-instance Secret that hashes-then-multiplies its own records
// (EncryptSelf) and multiplies already-encoded peer records (EncryptPeer).
// Scalar multiplication commutes, which is the property DH-PSI soundness
// rests on (P2).
package curve

import (
	"crypto/elliptic"
	"fmt"
	"math/big"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/sha3"

	"github.com/ninefl/psi-node/internal/wire"
)

// Type names the curve a Secret operates over. Both peers MUST agree on
// this (and on the hash-to-curve strategy, which is fixed per Type) — the
// system does not negotiate it (I5).
type Type string

const (
	Curve25519 Type = "curve25519"
	P256       Type = "p256"
)

// Secret is a per-instance scalar. It never leaves the process (I1) and is
// immutable for the process lifetime (I3).
type Secret interface {
	// EncryptSelf hashes each record onto the curve, then multiplies by the
	// secret scalar: the first encryption layer applied to raw client input.
	EncryptSelf(records [][]byte) ([][]byte, error)
	// EncryptPeer treats each record as an already-encoded curve point and
	// multiplies by the secret scalar: the second encryption layer applied
	// to records the peer has already multiplied once.
	EncryptPeer(records [][]byte) ([][]byte, error)
}

// New constructs a Secret of the given Type from key material. For
// Curve25519, key must be exactly 32 bytes, reduced to a scalar the way
// X25519 (RFC 7748) clamps its scalar input. For P256, key may be any
// length: it is normalised via Shake-256 into a 32-byte digest, then
// reduced mod the curve's scalar order into a non-zero field element.
func New(typ Type, key []byte) (Secret, error) {
	switch typ {
	case Curve25519:
		if len(key) != 32 {
			return nil, wire.NewError(wire.KindBadInput,
				fmt.Errorf("curve25519 key material must be exactly 32 bytes, got %d", len(key)))
		}
		var scalar [32]byte
		copy(scalar[:], key)
		return &curve25519Secret{scalar: scalar}, nil
	case P256:
		return &p256Secret{scalar: normalizeP256Scalar(key)}, nil
	default:
		return nil, wire.NewError(wire.KindBadInput, fmt.Errorf("unsupported curve type %q", typ))
	}
}

// shake256 hashes data into a 32-byte digest via the extendable-output hash
// Shake-256, the hash-to-curve strategy both curve variants share (I4).
func shake256(data []byte) [32]byte {
	var out [32]byte
	h := sha3.NewShake256()
	_, _ = h.Write(data)
	_, _ = h.Read(out[:])
	return out
}

func normalizeP256Scalar(key []byte) *big.Int {
	digest := shake256(key)
	n := elliptic.P256().Params().N
	s := new(big.Int).Mod(new(big.Int).SetBytes(digest[:]), n)
	if s.Sign() == 0 {
		s.SetInt64(1)
	}
	return s
}

// curve25519Secret implements Secret over Curve25519, using X25519's
// Montgomery-ladder scalar multiplication directly on the 32-byte
// u-coordinate wire encoding.
type curve25519Secret struct {
	scalar [32]byte
}

func (s *curve25519Secret) EncryptSelf(records [][]byte) ([][]byte, error) {
	out := make([][]byte, len(records))
	for i, r := range records {
		digest := shake256(r)
		p, err := curve25519.X25519(s.scalar[:], digest[:])
		if err != nil {
			return nil, wire.NewError(wire.KindBadInput, err)
		}
		out[i] = p
	}
	return out, nil
}

func (s *curve25519Secret) EncryptPeer(records [][]byte) ([][]byte, error) {
	out := make([][]byte, len(records))
	for i, r := range records {
		if len(r) != 32 {
			return nil, wire.NewError(wire.KindBadInput,
				fmt.Errorf("curve25519 point must be exactly 32 bytes, got %d", len(r)))
		}
		p, err := curve25519.X25519(s.scalar[:], r)
		if err != nil {
			return nil, wire.NewError(wire.KindBadInput, err)
		}
		out[i] = p
	}
	return out, nil
}

// p256Secret implements Secret over NIST P-256, reusing the teacher's SEC1
// marshal/unmarshal logic (Point, below) for peer-facing point encodings.
type p256Secret struct {
	scalar *big.Int
}

func (s *p256Secret) EncryptSelf(records [][]byte) ([][]byte, error) {
	c := elliptic.P256()
	out := make([][]byte, len(records))
	for i, r := range records {
		digest := shake256(r)
		// Derive a public key from the digest (a fresh secret key), then
		// multiply that point by our own secret scalar.
		px, py := c.ScalarBaseMult(digest[:])
		if !c.IsOnCurve(px, py) {
			return nil, wire.NewError(wire.KindBadInput, fmt.Errorf("hash-to-curve produced an off-curve point"))
		}
		rx, ry := c.ScalarMult(px, py, s.scalar.Bytes())
		out[i] = (&Point{Curve: c, X: rx, Y: ry}).Marshal()
	}
	return out, nil
}

func (s *p256Secret) EncryptPeer(records [][]byte) ([][]byte, error) {
	c := elliptic.P256()
	out := make([][]byte, len(records))
	for i, r := range records {
		p := &Point{Curve: c}
		if err := p.Unmarshal(c, r); err != nil {
			return nil, wire.NewError(wire.KindBadInput, err)
		}
		rx, ry := c.ScalarMult(p.X, p.Y, s.scalar.Bytes())
		out[i] = (&Point{Curve: c, X: rx, Y: ry}).Marshal()
	}
	return out, nil
}
