package filter

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/mixcode/imagecore/bitmap"
	"github.com/mixcode/imagecore/colorspace"
	"github.com/mixcode/imagecore/config"
	"github.com/mixcode/imagecore/errs"
	"github.com/mixcode/imagecore/internal/logging"
)

func testRunner(workers int) *Runner {
	cfg := config.Default()
	cfg.MinRowsPerTask = 1
	if workers == 1 {
		cfg.MaxProcessorFraction = 1e-9
	} else {
		cfg.MaxProcessorFraction = 1
	}
	return NewRunner(cfg, logging.NopLogger{}).WithPool(NewPool())
}

func fill(b *bitmap.Buffer, bgra ...byte) {
	pix := b.Pix()
	for i := range pix {
		pix[i] = bgra[i%len(bgra)]
	}
}

func randomBuffer(t *testing.T, format bitmap.Format, w, h int, seed int64) *bitmap.Buffer {
	b, err := bitmap.Allocate(format, w, h)
	if err != nil {
		t.Fatal(err)
	}
	rand.New(rand.NewSource(seed)).Read(b.Pix())
	return b
}

func TestNonAliasing(t *testing.T) {
	r := testRunner(4)
	src, _ := bitmap.Allocate(bitmap.FormatBGRA32, 8, 8)
	fill(src, 10, 20, 30, 255)
	before := bytes.Clone(src.Pix())

	alias, _ := src.Share()
	other, _ := bitmap.Allocate(bitmap.FormatBGRA32, 8, 4)
	gray, _ := bitmap.Allocate(bitmap.FormatGray8, 8, 8)

	filters := []Filter{
		BrightnessContrast{Brightness: 0.5},
		ColorBalance{Red: 1},
		Saturation{Saturation: -1},
		Grayscale{},
		ColorConversion{From: colorspace.SRGB(), To: colorspace.LinearSRGB()},
		Chain{BrightnessContrast{Contrast: 0.5}},
	}
	for _, f := range filters {
		for _, dst := range []*bitmap.Buffer{src, alias, other, gray} {
			if err := r.Apply(context.Background(), src, dst, f); !errors.Is(err, errs.ErrContractViolation) {
				t.Fatalf("%T: %v", f, err)
			}
		}
	}
	if !bytes.Equal(src.Pix(), before) {
		t.Fatal("source touched by a rejected call")
	}
	if src.RefCount() != 2 {
		t.Fatalf("rejected calls leaked shares: %d", src.RefCount())
	}
}

func TestSaturationWhite(t *testing.T) {
	r := testRunner(4)
	src, _ := bitmap.Allocate(bitmap.FormatBGRA32, 4, 4)
	fill(src, 255, 255, 255, 255)
	for _, s := range []float64{-1, 1} {
		dst, _ := bitmap.Allocate(bitmap.FormatBGRA32, 4, 4)
		if err := r.Apply(context.Background(), src, dst, Saturation{Saturation: s}); err != nil {
			t.Fatal(err)
		}
		for i, v := range dst.Pix() {
			if v != 255 {
				t.Fatalf("saturation %v: byte %d is %d", s, i, v)
			}
		}
	}
}

func TestSaturation(t *testing.T) {
	r := testRunner(2)
	src, _ := bitmap.Allocate(bitmap.FormatBGRA32, 2, 2)
	fill(src, 50, 100, 200, 128)
	dst, _ := bitmap.Allocate(bitmap.FormatBGRA32, 2, 2)

	if err := r.Apply(context.Background(), src, dst, Saturation{Saturation: -1}); err != nil {
		t.Fatal(err)
	}
	l := Luminance8(200, 100, 50)
	if p := dst.Pix()[:4]; p[0] != l || p[1] != l || p[2] != l || p[3] != 128 {
		t.Fatalf("desaturated pixel %v, want luminance %d", p, l)
	}

	if err := r.Apply(context.Background(), src, dst, Saturation{Saturation: 0.5}); err != nil {
		t.Fatal(err)
	}
	if p := dst.Pix()[:4]; int(p[2])-int(p[0]) <= 150 {
		t.Fatalf("saturated pixel %v did not gain chroma", p)
	}

	// vibrance favours dull colors
	dull, _ := bitmap.Allocate(bitmap.FormatBGRA32, 1, 1)
	fill(dull, 110, 120, 130, 255)
	out, _ := bitmap.Allocate(bitmap.FormatBGRA32, 1, 1)
	if err := r.Apply(context.Background(), dull, out, Saturation{Vibrance: 1}); err != nil {
		t.Fatal(err)
	}
	if spread := int(out.Pix()[2]) - int(out.Pix()[0]); spread < 35 {
		t.Fatalf("vibrance spread %d", spread)
	}
}

func TestGrayscale(t *testing.T) {
	r := testRunner(4)
	src, _ := bitmap.Allocate(bitmap.FormatBGRA64, 3, 5)
	le := binary.LittleEndian
	pix := src.Pix()
	for i := 0; i < len(pix); i += 8 {
		le.PutUint16(pix[i:], 1000)
		le.PutUint16(pix[i+2:], 30000)
		le.PutUint16(pix[i+4:], 60000)
		le.PutUint16(pix[i+6:], 12345)
	}
	dst, _ := bitmap.Allocate(bitmap.FormatBGRA64, 3, 5)
	if err := r.Apply(context.Background(), src, dst, Grayscale{}); err != nil {
		t.Fatal(err)
	}
	want := Luminance(60000, 30000, 1000)
	out := dst.Pix()
	for i := 0; i < len(out); i += 8 {
		if le.Uint16(out[i:]) != want || le.Uint16(out[i+2:]) != want || le.Uint16(out[i+4:]) != want {
			t.Fatalf("pixel %d not gray %d", i/8, want)
		}
		if le.Uint16(out[i+6:]) != 12345 {
			t.Fatal("alpha changed")
		}
	}
	if Luminance(65535, 65535, 65535) != 65535 || Luminance8(255, 255, 255) != 255 {
		t.Fatal("luminance of white is not white")
	}
}

func TestIdentityCurves(t *testing.T) {
	r := testRunner(4)
	for _, format := range []bitmap.Format{bitmap.FormatBGRA32, bitmap.FormatBGRA64, bitmap.FormatGray8, bitmap.FormatGray16} {
		src := randomBuffer(t, format, 17, 9, 1)
		dst, _ := bitmap.Allocate(format, 17, 9)
		if err := r.Apply(context.Background(), src, dst, BrightnessContrast{}); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(src.Pix(), dst.Pix()) {
			t.Fatalf("%s: zero brightness/contrast changed pixels", format)
		}
	}
}

func TestCurves(t *testing.T) {
	r := testRunner(1)
	src, _ := bitmap.Allocate(bitmap.FormatBGRA32, 1, 1)
	fill(src, 100, 100, 100, 7)
	dst, _ := bitmap.Allocate(bitmap.FormatBGRA32, 1, 1)

	if err := r.Apply(context.Background(), src, dst, ColorBalance{Red: 1, Green: -1}); err != nil {
		t.Fatal(err)
	}
	if p := dst.Pix(); p[0] != 100 || p[1] != 0 || p[2] != 255 || p[3] != 7 {
		t.Fatalf("color balance gave %v", p)
	}

	if err := r.Apply(context.Background(), src, dst, BrightnessContrast{Contrast: 1}); err != nil {
		t.Fatal(err)
	}
	if p := dst.Pix(); p[0] != 0 || p[1] != 0 || p[2] != 0 {
		t.Fatalf("full contrast of a dark gray gave %v", p)
	}

	chain := Chain{BrightnessContrast{Brightness: 0.2}, ColorBalance{Blue: -0.25}}
	if err := r.Apply(context.Background(), src, dst, chain); err != nil {
		t.Fatal(err)
	}
	up := byte(math.Round(100 + 0.2*255))
	if p := dst.Pix(); p[2] != up || p[1] != up || p[0] != byte(math.Round(float64(up)*0.75)) {
		t.Fatalf("chain gave %v", p)
	}

	if err := r.Apply(context.Background(), src, dst, Saturation{Saturation: math.NaN()}); !errors.Is(err, errs.ErrContractViolation) {
		t.Fatalf("NaN parameter: %v", err)
	}
	if err := r.Apply(context.Background(), src, dst, BrightnessContrast{Brightness: 2}); !errors.Is(err, errs.ErrContractViolation) {
		t.Fatalf("out of range parameter: %v", err)
	}
}

func TestColorConversion(t *testing.T) {
	r := testRunner(4)
	src := randomBuffer(t, bitmap.FormatBGRA32, 16, 16, 2)
	dst, _ := bitmap.Allocate(bitmap.FormatBGRA32, 16, 16)
	if err := r.Apply(context.Background(), src, dst, ColorConversion{From: colorspace.SRGB(), To: colorspace.SRGB()}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(src.Pix(), dst.Pix()) {
		t.Fatal("identity conversion changed pixels")
	}

	conv := colorspace.NewConverter(colorspace.SRGB(), colorspace.DisplayP3())
	if err := r.Apply(context.Background(), src, dst, ColorConversion{From: colorspace.SRGB(), To: colorspace.DisplayP3()}); err != nil {
		t.Fatal(err)
	}
	in, out := src.Pix(), dst.Pix()
	for i := 0; i < len(in); i += 4 {
		r, g, b := conv.Convert8(in[i+2], in[i+1], in[i])
		if out[i] != b || out[i+1] != g || out[i+2] != r || out[i+3] != in[i+3] {
			t.Fatalf("pixel %d: %v", i/4, out[i:i+4])
		}
	}
}

func TestParallelMatchesSerial(t *testing.T) {
	src := randomBuffer(t, bitmap.FormatBGRA64, 31, 97, 3)
	f := Chain{BrightnessContrast{Brightness: -0.1, Contrast: 0.3}, ColorBalance{Green: 0.2}}
	a, _ := bitmap.Allocate(bitmap.FormatBGRA64, 31, 97)
	b, _ := bitmap.Allocate(bitmap.FormatBGRA64, 31, 97)
	if err := testRunner(1).Apply(context.Background(), src, a, f); err != nil {
		t.Fatal(err)
	}
	if err := testRunner(8).Apply(context.Background(), src, b, f); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Pix(), b.Pix()) {
		t.Fatal("parallel result differs from serial")
	}
}

func TestCanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := randomBuffer(t, bitmap.FormatBGRA32, 8, 8, 4)
	dst, _ := bitmap.Allocate(bitmap.FormatBGRA32, 8, 8)
	err := testRunner(2).Apply(ctx, src, dst, Grayscale{})
	if !errors.Is(err, errs.ErrCanceled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
}

// blocks the first row until released
type blockingFilter struct {
	reached, proceed chan struct{}
	once             *sync.Once
}

func (f blockingFilter) Clone() Filter { return f }

func (f blockingFilter) newKernel(bitmap.Format, *Pool) (kernel, error) { return f, nil }

func (f blockingFilter) row(src, dst []byte) {
	f.once.Do(func() {
		close(f.reached)
		<-f.proceed
	})
	copy(dst, src)
}

func (blockingFilter) release() {}

func TestCancelMidRun(t *testing.T) {
	f := blockingFilter{make(chan struct{}), make(chan struct{}), new(sync.Once)}
	src := randomBuffer(t, bitmap.FormatGray8, 4, 64, 5)
	dst, _ := bitmap.Allocate(bitmap.FormatGray8, 4, 64)

	task := testRunner(1).Start(context.Background(), src, dst, f)
	<-f.reached
	task.Cancel()
	close(f.proceed)
	err := task.Wait()
	if !errors.Is(err, errs.ErrCanceled) {
		t.Fatalf("got %v", err)
	}
	select {
	case <-task.Done():
	default:
		t.Fatal("Done not closed after Wait")
	}
	if !bytes.Equal(dst.Row(0), src.Row(0)) || bytes.Equal(dst.Pix(), src.Pix()) {
		t.Fatal("rows after the cancellation point were written")
	}
	if src.RefCount() != 1 || dst.RefCount() != 1 {
		t.Fatal("canceled run kept its shares")
	}
}

func TestOwnerReleasesMidRun(t *testing.T) {
	f := blockingFilter{make(chan struct{}), make(chan struct{}), new(sync.Once)}
	src := randomBuffer(t, bitmap.FormatGray8, 4, 8, 6)
	want := bytes.Clone(src.Pix())
	dst, _ := bitmap.Allocate(bitmap.FormatGray8, 4, 8)
	keep, _ := dst.Share()

	task := testRunner(1).Start(context.Background(), src, dst, f)
	<-f.reached
	src.Release()
	dst.Release()
	close(f.proceed)
	if err := task.Wait(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(keep.Pix(), want) {
		t.Fatal("result incomplete after owners released")
	}
}

func TestParametersCopied(t *testing.T) {
	f := &BrightnessContrast{Brightness: 0.5}
	src, _ := bitmap.Allocate(bitmap.FormatGray8, 1, 1)
	dst, _ := bitmap.Allocate(bitmap.FormatGray8, 1, 1)
	task := testRunner(1).Start(context.Background(), src, dst, f)
	f.Brightness = -1
	if err := task.Wait(); err != nil {
		t.Fatal(err)
	}
	if dst.Pix()[0] != 128 {
		t.Fatalf("result %d, want the brightness at call time", dst.Pix()[0])
	}
}

func TestPool(t *testing.T) {
	p := NewPool()
	small, large := p.Get(256), p.Get(1<<16)
	if len(small) != 256 || len(large) != 1<<16 {
		t.Fatal("wrong table sizes")
	}
	if p.Created() != 2 {
		t.Fatalf("created %d", p.Created())
	}
	p.Put(small)
	p.Put(large)
	p.Put(make([]uint16, 3))
}
