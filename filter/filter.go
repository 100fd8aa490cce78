// Package filter derives adjusted bitmaps from a source bitmap: brightness
// and contrast, per-channel color balance, saturation and vibrance,
// grayscale and color-space conversion.
//
// Color adjustments are built once per invocation into per-channel lookup
// tables and applied by table lookup. A Runner executes a filter over row
// ranges in parallel and checks for cancellation at every row.
package filter

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mixcode/imagecore/bitmap"
	"github.com/mixcode/imagecore/colorspace"
	"github.com/mixcode/imagecore/errs"
)

// Filter is a pixel transform with its parameters.
type Filter interface {
	// Clone returns a copy that shares nothing mutable with the receiver.
	Clone() Filter

	newKernel(format bitmap.Format, pool *Pool) (kernel, error)
}

// Curve is a Filter acting on each color channel independently. Curves
// compose into a single set of tables with Chain.
type Curve interface {
	Filter
	curves() ([3]func(float64) float64, error)
}

type kernel interface {
	// row transforms the pixel bytes of one row.
	row(src, dst []byte)
	release()
}

func badParam(name string, v float64) error {
	return fmt.Errorf("filter: %s %v out of [-1,1]: %w", name, v, errs.ErrContractViolation)
}

func checkUnit(name string, v float64) error {
	if math.IsNaN(v) || v < -1 || v > 1 {
		return badParam(name, v)
	}
	return nil
}

func curveKernel(c Curve, format bitmap.Format, pool *Pool) (kernel, error) {
	fns, err := c.curves()
	if err != nil {
		return nil, err
	}
	t := identityTables(tableSize(format), pool)
	t.apply(fns)
	return &lutKernel{format: format, t: t}, nil
}

// BrightnessContrast shifts brightness and scales contrast around mid
// gray. Both are in [-1,1]; zero leaves the image unchanged.
type BrightnessContrast struct {
	Brightness float64
	Contrast   float64
}

func (f BrightnessContrast) Clone() Filter { return f }

func (f BrightnessContrast) curves() (c [3]func(float64) float64, err error) {
	if err = checkUnit("brightness", f.Brightness); err != nil {
		return
	}
	if err = checkUnit("contrast", f.Contrast); err != nil {
		return
	}
	k := (1 + f.Contrast) / math.Max(1-f.Contrast, 1e-6)
	fn := func(v float64) float64 {
		return (v-0.5)*k + 0.5 + f.Brightness
	}
	return [3]func(float64) float64{fn, fn, fn}, nil
}

func (f BrightnessContrast) newKernel(format bitmap.Format, pool *Pool) (kernel, error) {
	return curveKernel(f, format, pool)
}

// ColorBalance moves each channel toward full (positive) or toward zero
// (negative). Values are in [-1,1].
type ColorBalance struct {
	Red, Green, Blue float64
}

func (f ColorBalance) Clone() Filter { return f }

func balance(r float64) func(float64) float64 {
	if r == 0 {
		return nil
	}
	if r > 0 {
		return func(v float64) float64 { return v + r*(1-v) }
	}
	return func(v float64) float64 { return v * (1 + r) }
}

func (f ColorBalance) curves() (c [3]func(float64) float64, err error) {
	for _, p := range []struct {
		name string
		v    float64
	}{{"red", f.Red}, {"green", f.Green}, {"blue", f.Blue}} {
		if err = checkUnit(p.name, p.v); err != nil {
			return
		}
	}
	return [3]func(float64) float64{balance(f.Red), balance(f.Green), balance(f.Blue)}, nil
}

func (f ColorBalance) newKernel(format bitmap.Format, pool *Pool) (kernel, error) {
	if format.Info().IsGrayscale {
		return nil, fmt.Errorf("filter: color balance on %s: %w", format, errs.ErrUnsupported)
	}
	return curveKernel(f, format, pool)
}

// Chain applies curves in order through one set of tables.
type Chain []Curve

func (f Chain) Clone() Filter {
	c := make(Chain, len(f))
	for i, e := range f {
		c[i] = e.Clone().(Curve)
	}
	return c
}

func (f Chain) curves() (c [3]func(float64) float64, err error) {
	steps := make([][3]func(float64) float64, 0, len(f))
	for _, e := range f {
		s, err := e.curves()
		if err != nil {
			return c, err
		}
		steps = append(steps, s)
	}
	for ch := range c {
		ch := ch
		c[ch] = func(v float64) float64 {
			for _, s := range steps {
				if s[ch] != nil {
					v = clamp(s[ch](v))
				}
			}
			return v
		}
	}
	return
}

func (f Chain) newKernel(format bitmap.Format, pool *Pool) (kernel, error) {
	for _, e := range f {
		if _, ok := e.(ColorBalance); ok && format.Info().IsGrayscale {
			return nil, fmt.Errorf("filter: color balance on %s: %w", format, errs.ErrUnsupported)
		}
	}
	// compose table by table so every step is quantized like a lone filter
	t := identityTables(tableSize(format), pool)
	for _, e := range f {
		fns, err := e.curves()
		if err != nil {
			t.release()
			return nil, err
		}
		t.apply(fns)
	}
	return &lutKernel{format: format, t: t}, nil
}

// Rec. 709 luma weights with 16 fractional bits; they sum to 1<<16 so
// that neutral colors keep their value.
const (
	lumaR = 13933
	lumaG = 46871
	lumaB = 4732
)

// Luminance returns the Rec. 709 weighted luminance of a 16-bit color.
func Luminance(r, g, b uint16) uint16 {
	return uint16((lumaR*uint32(r) + lumaG*uint32(g) + lumaB*uint32(b) + 1<<15) >> 16)
}

// Luminance8 is Luminance for 8-bit channels.
func Luminance8(r, g, b uint8) uint8 {
	return uint8((lumaR*uint32(r) + lumaG*uint32(g) + lumaB*uint32(b) + 1<<15) >> 16)
}

// Saturation scales chroma around each pixel's luminance. Saturation -1
// removes all color and +1 doubles it; Vibrance acts the same way but
// weighted toward the least saturated pixels. Pixels with equal channels
// are left unchanged.
type Saturation struct {
	Saturation float64
	Vibrance   float64
}

func (f Saturation) Clone() Filter { return f }

// gain factors carry 14 fractional bits
const gainBits = 14

type saturationKernel struct {
	format bitmap.Format
	gain   []uint16 // indexed by chroma, max-min of the channels
	pool   *Pool
}

func (f Saturation) newKernel(format bitmap.Format, pool *Pool) (kernel, error) {
	if err := checkUnit("saturation", f.Saturation); err != nil {
		return nil, err
	}
	if err := checkUnit("vibrance", f.Vibrance); err != nil {
		return nil, err
	}
	if format.Info().IsGrayscale {
		return nil, fmt.Errorf("filter: saturation on %s: %w", format, errs.ErrUnsupported)
	}
	size := tableSize(format)
	gain := pool.Get(size)
	top := float64(size - 1)
	for i := range gain {
		chroma := float64(i) / top
		k := 1 + f.Saturation + f.Vibrance*(1-chroma)
		gain[i] = uint16(math.Round(math.Max(k, 0) * (1 << gainBits)))
	}
	return &saturationKernel{format: format, gain: gain, pool: pool}, nil
}

func saturate(c, l, gain, top int64) int64 {
	v := l + ((c-l)*gain+1<<(gainBits-1))>>gainBits
	if v < 0 {
		return 0
	}
	if v > top {
		return top
	}
	return v
}

func (k *saturationKernel) row(src, dst []byte) {
	switch k.format {
	case bitmap.FormatBGRA32:
		for i := 0; i+3 < len(src); i += 4 {
			b, g, r := src[i], src[i+1], src[i+2]
			hi, lo := max(r, g, b), min(r, g, b)
			if hi == lo {
				copy(dst[i:i+4], src[i:i+4])
				continue
			}
			l := int64(Luminance8(r, g, b))
			gain := int64(k.gain[hi-lo])
			dst[i] = byte(saturate(int64(b), l, gain, 255))
			dst[i+1] = byte(saturate(int64(g), l, gain, 255))
			dst[i+2] = byte(saturate(int64(r), l, gain, 255))
			dst[i+3] = src[i+3]
		}
	case bitmap.FormatBGRA64:
		le := binary.LittleEndian
		for i := 0; i+7 < len(src); i += 8 {
			b, g, r := le.Uint16(src[i:]), le.Uint16(src[i+2:]), le.Uint16(src[i+4:])
			hi, lo := max(r, g, b), min(r, g, b)
			if hi == lo {
				copy(dst[i:i+8], src[i:i+8])
				continue
			}
			l := int64(Luminance(r, g, b))
			gain := int64(k.gain[hi-lo])
			le.PutUint16(dst[i:], uint16(saturate(int64(b), l, gain, 65535)))
			le.PutUint16(dst[i+2:], uint16(saturate(int64(g), l, gain, 65535)))
			le.PutUint16(dst[i+4:], uint16(saturate(int64(r), l, gain, 65535)))
			copy(dst[i+6:i+8], src[i+6:i+8])
		}
	}
}

func (k *saturationKernel) release() { k.pool.Put(k.gain) }

// Grayscale replaces the color channels with their Rec. 709 luminance and
// keeps alpha. Gray formats are copied.
type Grayscale struct{}

func (f Grayscale) Clone() Filter { return f }

type grayKernel struct {
	format bitmap.Format
}

func (f Grayscale) newKernel(format bitmap.Format, _ *Pool) (kernel, error) {
	return grayKernel{format}, nil
}

func (k grayKernel) row(src, dst []byte) {
	switch k.format {
	case bitmap.FormatBGRA32:
		for i := 0; i+3 < len(src); i += 4 {
			l := Luminance8(src[i+2], src[i+1], src[i])
			dst[i], dst[i+1], dst[i+2], dst[i+3] = l, l, l, src[i+3]
		}
	case bitmap.FormatBGRA64:
		le := binary.LittleEndian
		for i := 0; i+7 < len(src); i += 8 {
			l := Luminance(le.Uint16(src[i+4:]), le.Uint16(src[i+2:]), le.Uint16(src[i:]))
			le.PutUint16(dst[i:], l)
			le.PutUint16(dst[i+2:], l)
			le.PutUint16(dst[i+4:], l)
			copy(dst[i+6:i+8], src[i+6:i+8])
		}
	default:
		copy(dst, src)
	}
}

func (grayKernel) release() {}

// ColorConversion re-encodes pixels from one working space into another.
type ColorConversion struct {
	From, To *colorspace.ColorSpace
}

func (f ColorConversion) Clone() Filter { return f }

type conversionKernel struct {
	format bitmap.Format
	conv   *colorspace.Converter
}

func (f ColorConversion) newKernel(format bitmap.Format, _ *Pool) (kernel, error) {
	if f.From == nil || f.To == nil {
		return nil, fmt.Errorf("filter: color conversion without both spaces: %w", errs.ErrContractViolation)
	}
	if format.Info().IsGrayscale {
		return nil, fmt.Errorf("filter: color conversion on %s: %w", format, errs.ErrUnsupported)
	}
	return &conversionKernel{format: format, conv: colorspace.NewConverter(f.From, f.To)}, nil
}

func (k *conversionKernel) row(src, dst []byte) {
	if k.conv.IsIdentity() {
		copy(dst, src)
		return
	}
	switch k.format {
	case bitmap.FormatBGRA32:
		for i := 0; i+3 < len(src); i += 4 {
			r, g, b := k.conv.Convert8(src[i+2], src[i+1], src[i])
			dst[i], dst[i+1], dst[i+2], dst[i+3] = b, g, r, src[i+3]
		}
	case bitmap.FormatBGRA64:
		le := binary.LittleEndian
		for i := 0; i+7 < len(src); i += 8 {
			r, g, b := k.conv.Convert16(le.Uint16(src[i+4:]), le.Uint16(src[i+2:]), le.Uint16(src[i:]))
			le.PutUint16(dst[i:], b)
			le.PutUint16(dst[i+2:], g)
			le.PutUint16(dst[i+4:], r)
			copy(dst[i+6:i+8], src[i+6:i+8])
		}
	}
}

func (*conversionKernel) release() {}
