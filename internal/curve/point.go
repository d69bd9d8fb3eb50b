package curve

import (
	"crypto/elliptic"
	"errors"
	"math/big"
)

// Point is adapted from the teacher's crypto.Point: a SEC1-encoded
// elliptic-curve point, used here for the P-256 variant's peer-facing
// wire encoding.
type Point struct {
	Curve elliptic.Curve
	X, Y  *big.Int
}

var ErrInvalidPoint = errors.New("marshaled point was invalid")

// Marshal produces an uncompressed SEC1 2.3.3 point encoding.
func (p *Point) Marshal() []byte {
	return elliptic.Marshal(p.Curve, p.X, p.Y)
}

// Unmarshal interprets SEC1 2.3.4 compressed points in addition to the raw
// uncompressed points elliptic.Unmarshal supports. Assumes a = -3, true of
// every NIST curve including P-256.
func (p *Point) Unmarshal(curve elliptic.Curve, data []byte) error {
	byteLen := (curve.Params().BitSize + 7) >> 3
	fieldOrder := curve.Params().P
	if len(data) == byteLen+1 {
		x := new(big.Int).SetBytes(data[1 : 1+byteLen])
		if x.Cmp(fieldOrder) != -1 {
			return ErrInvalidPoint
		}
		if data[0] == 0x02 || data[0] == 0x03 {
			sign := data[0] & 1

			x3 := new(big.Int).Mul(x, x)
			x3.Mul(x3, x)
			threeTimesX := new(big.Int).Lsh(x, 1)
			threeTimesX.Add(threeTimesX, x)
			x3.Sub(x3, threeTimesX)
			x3.Add(x3, curve.Params().B)
			y := x3.ModSqrt(x3, fieldOrder)
			if y == nil {
				return ErrInvalidPoint
			}
			if sign != isOdd(y) {
				y.Sub(fieldOrder, y)
			}
			if !curve.IsOnCurve(x, y) {
				return ErrInvalidPoint
			}
			p.Curve = curve
			p.X, p.Y = x, y
			return nil
		}
		return ErrInvalidPoint
	}
	if len(data) == (2*byteLen)+1 && data[0] == 0x04 {
		p.Curve = curve
		p.X, p.Y = elliptic.Unmarshal(curve, data)
		if p.X == nil {
			return ErrInvalidPoint
		}
		return nil
	}
	return ErrInvalidPoint
}

func isOdd(x *big.Int) byte {
	return byte(x.Bit(0) & 1)
}
