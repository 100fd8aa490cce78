package colorspace

import (
	"fmt"
	"math"
	"sync"

	"github.com/mixcode/imagecore/errs"
)

// Fixed-point layout shared by the lookup tables and the converter.
const (
	// CodeMax is the largest quantized channel code; inputs are
	// quantized to 16 fractional bits.
	CodeMax = 1<<16 - 1

	// LinearBits is the fractional precision of linear-light values. A
	// pure 2.2 gamma needs about 36 bits to keep code 1 apart from black.
	LinearBits = 44
	LinearOne  = 1 << LinearBits
)

// Chromaticity is a CIE 1931 xy coordinate.
type Chromaticity struct {
	X, Y float64
}

// XYZ returns the tristimulus value of c scaled to Y = 1.
func (c Chromaticity) XYZ() Vector3 {
	return Vector3{c.X / c.Y, 1, (1 - c.X - c.Y) / c.Y}
}

func chromaticityOf(v Vector3) Chromaticity {
	sum := v[0] + v[1] + v[2]
	if sum == 0 {
		return Chromaticity{}
	}
	return Chromaticity{v[0] / sum, v[1] / sum}
}

// Standard illuminants.
var (
	D65 = Chromaticity{0.3127, 0.3290}
	D50 = Chromaticity{0.3457, 0.3585}
)

// ColorSpace is an RGB working space: a transfer function and a linear
// RGB to XYZ matrix. A ColorSpace is immutable and safe for concurrent
// use; its lookup tables are built on first use.
type ColorSpace struct {
	name      string
	primaries [3]Chromaticity
	white     Chromaticity
	transfer  TransferFunction
	toXYZ     Matrix3
	fromXYZ   Matrix3

	tablesOnce sync.Once
	toLinear   []int64
	toLinear8  [256]int64
}

// BuildWorkingSpace derives a working space from its primaries and white
// point.
func BuildWorkingSpace(name string, primaries [3]Chromaticity, white Chromaticity, transfer TransferFunction) (*ColorSpace, error) {
	for _, c := range append(primaries[:], white) {
		if c.Y <= 0 || c.X < 0 || c.X+c.Y > 1 {
			return nil, fmt.Errorf("colorspace: %s: invalid chromaticity %v: %w", name, c, errs.ErrMalformed)
		}
	}
	r, g, b := primaries[0].XYZ(), primaries[1].XYZ(), primaries[2].XYZ()
	p := Matrix3{
		r[0], g[0], b[0],
		r[1], g[1], b[1],
		r[2], g[2], b[2],
	}
	pi, ok := p.Inverse()
	if !ok {
		return nil, fmt.Errorf("colorspace: %s: collinear primaries: %w", name, errs.ErrMalformed)
	}
	s := pi.Apply(white.XYZ())
	return newSpace(name, p.Multiply(Diagonal(s)), transfer)
}

// FromMatrix builds a working space from an explicit linear RGB to XYZ
// matrix. The white point and primaries are derived from it.
func FromMatrix(name string, toXYZ Matrix3, transfer TransferFunction) (*ColorSpace, error) {
	return newSpace(name, toXYZ, transfer)
}

func newSpace(name string, toXYZ Matrix3, transfer TransferFunction) (*ColorSpace, error) {
	inv, ok := toXYZ.Inverse()
	if !ok {
		return nil, fmt.Errorf("colorspace: %s: singular matrix: %w", name, errs.ErrMalformed)
	}
	cs := &ColorSpace{
		name:     name,
		transfer: transfer,
		toXYZ:    toXYZ,
		fromXYZ:  inv,
		white:    chromaticityOf(toXYZ.Apply(Vector3{1, 1, 1})),
	}
	for i := range cs.primaries {
		cs.primaries[i] = chromaticityOf(toXYZ.Column(i))
	}
	return cs, nil
}

func mustSpace(cs *ColorSpace, err error) *ColorSpace {
	if err != nil {
		panic(err)
	}
	return cs
}

func (cs *ColorSpace) Name() string               { return cs.name }
func (cs *ColorSpace) Primaries() [3]Chromaticity { return cs.primaries }
func (cs *ColorSpace) White() Chromaticity        { return cs.white }
func (cs *ColorSpace) Transfer() TransferFunction { return cs.transfer }
func (cs *ColorSpace) ToXYZ() Matrix3             { return cs.toXYZ }
func (cs *ColorSpace) FromXYZ() Matrix3           { return cs.fromXYZ }
func (cs *ColorSpace) WhiteXYZ() Vector3          { return cs.toXYZ.Apply(Vector3{1, 1, 1}) }
func (cs *ColorSpace) String() string             { return cs.name }
func (cs *ColorSpace) IsLinear() bool             { return cs.transfer.IsLinear() }

// Equal reports whether both spaces have numerically equal transfer
// functions and matrices. Names are ignored.
func (cs *ColorSpace) Equal(other *ColorSpace) bool {
	if cs == other {
		return true
	}
	if cs == nil || other == nil {
		return false
	}
	return cs.toXYZ == other.toXYZ && cs.transfer.Equal(other.transfer)
}

// Similar reports whether two spaces agree within tol on primaries, white
// point and transfer curve. Profiles read from files carry s15Fixed16
// rounding and rarely compare Equal to a built-in.
func (cs *ColorSpace) Similar(other *ColorSpace, tol float64) bool {
	if cs.Equal(other) {
		return true
	}
	if cs == nil || other == nil {
		return false
	}
	near := func(a, b Chromaticity) bool {
		return math.Abs(a.X-b.X) <= tol && math.Abs(a.Y-b.Y) <= tol
	}
	if !near(cs.white, other.white) {
		return false
	}
	for i := range cs.primaries {
		if !near(cs.primaries[i], other.primaries[i]) {
			return false
		}
	}
	for i := 0; i <= 32; i++ {
		v := float64(i) / 32
		if math.Abs(cs.transfer.ToLinear(v)-other.transfer.ToLinear(v)) > tol {
			return false
		}
	}
	return true
}

func (cs *ColorSpace) buildTables() {
	cs.tablesOnce.Do(func() {
		t := make([]int64, CodeMax+1)
		var prev int64
		for i := range t {
			v := int64(math.Round(cs.transfer.ToLinear(float64(i)/CodeMax) * LinearOne))
			// inversion by search needs a non-decreasing table
			if v < prev {
				v = prev
			}
			t[i] = v
			prev = v
		}
		cs.toLinear = t
		for i := range cs.toLinear8 {
			cs.toLinear8[i] = t[i*257]
		}
	})
}

// LinearTable returns the cached 65536-entry table mapping a 16-bit code
// to linear light with LinearBits fractional bits. It must not be
// modified.
func (cs *ColorSpace) LinearTable() []int64 {
	cs.buildTables()
	return cs.toLinear
}

// LinearTable8 is the 256-entry view of LinearTable for 8-bit codes.
func (cs *ColorSpace) LinearTable8() *[256]int64 {
	cs.buildTables()
	return &cs.toLinear8
}

// encode maps a linear value back to a fractional 16-bit code by searching
// the cached table and interpolating between neighbours.
func (cs *ColorSpace) encode(l int64) float64 {
	t := cs.LinearTable()
	if l <= t[0] {
		return 0
	}
	if l >= t[CodeMax] {
		return CodeMax
	}
	// largest i with t[i] <= l
	lo, hi := 0, CodeMax
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if t[mid] <= l {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	d := t[lo+1] - t[lo]
	if d <= 0 {
		return float64(lo)
	}
	return float64(lo) + float64(l-t[lo])/float64(d)
}
