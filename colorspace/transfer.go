package colorspace

import (
	"fmt"
	"math"
	"slices"

	"github.com/mixcode/imagecore/errs"
)

// TransferKind tells how a TransferFunction is defined.
type TransferKind int

const (
	// TransferParametric is an ICC parametricCurveType, types 0 to 4.
	// A pure gamma is type 0.
	TransferParametric TransferKind = iota
	// TransferSampled is an ICC curveType table, linearly interpolated.
	TransferSampled
)

// TransferFunction maps encoded (non-linear) values in [0,1] to linear
// light in [0,1].
//
// Parametric FuncType and Params [g, a, b, c, d, e, f]:
//   - 0: y = x^g
//   - 1: y = (ax+b)^g for x >= -b/a, else 0
//   - 2: y = (ax+b)^g + c for x >= -b/a, else c
//   - 3: y = (ax+b)^g for x >= d, else cx
//   - 4: y = (ax+b)^g + e for x >= d, else cx + f
type TransferFunction struct {
	Kind     TransferKind
	FuncType int
	Params   []float64
	Table    []uint16
}

var paramCount = [...]int{1, 3, 4, 5, 7}

// Linear is the identity transfer.
func Linear() TransferFunction { return Gamma(1) }

// Gamma is y = x^g.
func Gamma(g float64) TransferFunction {
	return TransferFunction{Kind: TransferParametric, Params: []float64{g}}
}

// Parametric returns an ICC parametric curve.
func Parametric(funcType int, params ...float64) (t TransferFunction, err error) {
	if funcType < 0 || funcType >= len(paramCount) || len(params) != paramCount[funcType] {
		err = fmt.Errorf("colorspace: parametric curve type %d with %d parameters: %w", funcType, len(params), errs.ErrMalformed)
		return
	}
	if params[0] <= 0 {
		err = fmt.Errorf("colorspace: parametric curve gamma %v: %w", params[0], errs.ErrMalformed)
		return
	}
	return TransferFunction{Kind: TransferParametric, FuncType: funcType, Params: slices.Clone(params)}, nil
}

func mustParametric(funcType int, params ...float64) TransferFunction {
	t, err := Parametric(funcType, params...)
	if err != nil {
		panic(err)
	}
	return t
}

// Sampled returns a table curve. An empty table is the identity and a
// single entry is a u8Fixed8 gamma, as in an ICC curveType.
func Sampled(table []uint16) TransferFunction {
	switch len(table) {
	case 0:
		return Linear()
	case 1:
		return Gamma(float64(table[0]) / 256)
	}
	return TransferFunction{Kind: TransferSampled, Table: slices.Clone(table)}
}

// SRGBTransfer is the IEC 61966-2-1 curve.
func SRGBTransfer() TransferFunction {
	return mustParametric(3, 2.4, 1/1.055, 0.055/1.055, 1/12.92, 0.04045)
}

// Rec709Transfer is the ITU-R BT.709/BT.2020 curve.
func Rec709Transfer() TransferFunction {
	return mustParametric(3, 1/0.45, 1/1.099, 0.099/1.099, 1/4.5, 0.081)
}

// ROMMTransfer is the ProPhoto (ROMM RGB) curve.
func ROMMTransfer() TransferFunction {
	return mustParametric(3, 1.8, 1, 0, 1.0/16, 16.0/512)
}

// IsLinear reports whether t is the identity.
func (t TransferFunction) IsLinear() bool {
	return t.Kind == TransferParametric && t.FuncType == 0 && len(t.Params) == 1 && t.Params[0] == 1
}

// Equal reports numeric equality.
func (t TransferFunction) Equal(o TransferFunction) bool {
	return t.Kind == o.Kind && t.FuncType == o.FuncType &&
		slices.Equal(t.Params, o.Params) && slices.Equal(t.Table, o.Table)
}

func (t TransferFunction) param(i int) float64 {
	if i < len(t.Params) {
		return t.Params[i]
	}
	return 0
}

// ToLinear evaluates the curve at v; input and output are clamped to [0,1].
func (t TransferFunction) ToLinear(v float64) float64 {
	v = clamp01(v)
	if t.Kind == TransferSampled {
		return clamp01(t.sampled(v))
	}
	g, a, b, c, d, e, f := t.param(0), t.param(1), t.param(2), t.param(3), t.param(4), t.param(5), t.param(6)
	var y float64
	switch t.FuncType {
	case 0:
		y = math.Pow(v, g)
	case 1:
		if a != 0 && v >= -b/a {
			y = math.Pow(a*v+b, g)
		}
	case 2:
		y = c
		if a != 0 && v >= -b/a {
			y = math.Pow(a*v+b, g) + c
		}
	case 3:
		if v >= d {
			y = math.Pow(a*v+b, g)
		} else {
			y = c * v
		}
	case 4:
		if v >= d {
			y = math.Pow(a*v+b, g) + e
		} else {
			y = c*v + f
		}
	}
	return clamp01(y)
}

// FromLinear inverts ToLinear.
func (t TransferFunction) FromLinear(l float64) float64 {
	l = clamp01(l)
	if t.Kind == TransferSampled {
		return t.invertByBisection(l)
	}
	g, a, b, c, d, e, f := t.param(0), t.param(1), t.param(2), t.param(3), t.param(4), t.param(5), t.param(6)
	ig := 1 / g
	var x float64
	switch t.FuncType {
	case 0:
		x = math.Pow(l, ig)
	case 1:
		if a == 0 {
			return t.invertByBisection(l)
		}
		x = (math.Pow(l, ig) - b) / a
	case 2:
		if a == 0 {
			return t.invertByBisection(l)
		}
		x = (math.Pow(math.Max(l-c, 0), ig) - b) / a
	case 3:
		if l < c*d && c > 0 {
			x = l / c
		} else if a != 0 {
			x = (math.Pow(l, ig) - b) / a
		} else {
			return t.invertByBisection(l)
		}
	case 4:
		if l < c*d+f && c > 0 {
			x = (l - f) / c
		} else if a != 0 {
			x = (math.Pow(math.Max(l-e, 0), ig) - b) / a
		} else {
			return t.invertByBisection(l)
		}
	}
	return clamp01(x)
}

func (t TransferFunction) sampled(v float64) float64 {
	n := len(t.Table) - 1
	pos := v * float64(n)
	i := int(pos)
	if i >= n {
		return float64(t.Table[n]) / 65535
	}
	frac := pos - float64(i)
	y0, y1 := float64(t.Table[i]), float64(t.Table[i+1])
	return (y0 + (y1-y0)*frac) / 65535
}

// invertByBisection assumes a non-decreasing curve.
func (t TransferFunction) invertByBisection(l float64) float64 {
	lo, hi := 0.0, 1.0
	for i := 0; i < 40; i++ {
		mid := (lo + hi) / 2
		if t.ToLinear(mid) < l {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
