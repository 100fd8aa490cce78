package colorspace

import (
	"math"
	"math/bits"
	"sync"
)

// matrix coefficients carry this many fractional bits
const matrixBits = 44

// Converter maps pixel values between two working spaces. Inputs are
// linearized through the source table, transformed by one fixed-point
// matrix (including chromatic adaptation), clipped to [0,1] per axis and
// encoded through the destination table.
type Converter struct {
	from, to *ColorSpace
	identity bool
	m        [9]int64
}

type converterKey struct{ from, to *ColorSpace }

var converters sync.Map

// NewConverter returns the cached converter for the pair.
func NewConverter(from, to *ColorSpace) *Converter {
	key := converterKey{from, to}
	if c, ok := converters.Load(key); ok {
		return c.(*Converter)
	}
	c, _ := converters.LoadOrStore(key, buildConverter(from, to))
	return c.(*Converter)
}

func buildConverter(from, to *ColorSpace) *Converter {
	c := &Converter{from: from, to: to}
	if from.Equal(to) {
		c.identity = true
		return c
	}
	m := from.toXYZ
	if from.white != to.white {
		m = ChromaticAdaptation(from.WhiteXYZ(), to.WhiteXYZ()).Multiply(m)
	}
	m = to.fromXYZ.Multiply(m)
	for i, v := range m {
		c.m[i] = int64(math.Round(v * (1 << matrixBits)))
	}
	return c
}

func (c *Converter) From() *ColorSpace { return c.from }
func (c *Converter) To() *ColorSpace   { return c.to }

// IsIdentity reports whether the converter returns its input unchanged.
func (c *Converter) IsIdentity() bool { return c.identity }

// Quantize maps v in [0,1] to a 16-bit code, clamping.
func Quantize(v float64) uint16 {
	return uint16(math.Round(clamp01(v) * CodeMax))
}

// mulFixed returns a*b with matrixBits fractional bits dropped, rounded
// half away from zero. The product is formed in 128 bits.
func mulFixed(a, b int64) int64 {
	neg := (a < 0) != (b < 0)
	hi, lo := bits.Mul64(uabs(a), uabs(b))
	lo, carry := bits.Add64(lo, 1<<(matrixBits-1), 0)
	hi += carry
	v := int64(hi<<(64-matrixBits) | lo>>matrixBits)
	if neg {
		return -v
	}
	return v
}

func uabs(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}

func clipLinear(v int64) int64 {
	return min(max(v, 0), LinearOne)
}

func (c *Converter) linearToCodes(r, g, b int64) (float64, float64, float64) {
	m := &c.m
	lr := clipLinear(mulFixed(m[0], r) + mulFixed(m[1], g) + mulFixed(m[2], b))
	lg := clipLinear(mulFixed(m[3], r) + mulFixed(m[4], g) + mulFixed(m[5], b))
	lb := clipLinear(mulFixed(m[6], r) + mulFixed(m[7], g) + mulFixed(m[8], b))
	return c.to.encode(lr), c.to.encode(lg), c.to.encode(lb)
}

// ConvertCodes converts 16-bit codes and returns fractional destination
// codes in [0, CodeMax].
func (c *Converter) ConvertCodes(r, g, b uint16) (float64, float64, float64) {
	if c.identity {
		return float64(r), float64(g), float64(b)
	}
	t := c.from.LinearTable()
	return c.linearToCodes(t[r], t[g], t[b])
}

// linearOf interpolates the source table at the fractional code v*CodeMax.
// Integer codes hit table entries exactly.
func (c *Converter) linearOf(v float64) int64 {
	x := clamp01(v) * CodeMax
	i := int(x)
	t := c.from.LinearTable()
	if i >= CodeMax {
		return t[CodeMax]
	}
	lo, hi := t[i], t[i+1]
	return lo + int64(math.Round(float64(hi-lo)*(x-float64(i))))
}

// Convert converts normalized values. The identity converter returns its
// input untouched, including values outside [0,1]; otherwise inputs are
// clamped to [0,1].
func (c *Converter) Convert(r, g, b float64) (float64, float64, float64) {
	if c.identity {
		return r, g, b
	}
	or, og, ob := c.linearToCodes(c.linearOf(r), c.linearOf(g), c.linearOf(b))
	return or / CodeMax, og / CodeMax, ob / CodeMax
}

// Convert16 converts 16-bit channel values.
func (c *Converter) Convert16(r, g, b uint16) (uint16, uint16, uint16) {
	if c.identity {
		return r, g, b
	}
	or, og, ob := c.ConvertCodes(r, g, b)
	return uint16(math.Round(or)), uint16(math.Round(og)), uint16(math.Round(ob))
}

// Convert8 converts 8-bit channel values.
func (c *Converter) Convert8(r, g, b uint8) (uint8, uint8, uint8) {
	if c.identity {
		return r, g, b
	}
	t := c.from.LinearTable8()
	or, og, ob := c.linearToCodes(t[r], t[g], t[b])
	return uint8(math.Round(or / 257)), uint8(math.Round(og / 257)), uint8(math.Round(ob / 257))
}
