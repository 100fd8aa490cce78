package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"golang.org/x/image/tiff"

	"github.com/mixcode/imagecore/bitmap"
	"github.com/mixcode/imagecore/config"
	"github.com/mixcode/imagecore/errs"
	"github.com/mixcode/imagecore/filter"
	"github.com/mixcode/imagecore/internal/logging"
	"github.com/mixcode/imagecore/source"
)

const testW, testH = 6, 4

func testImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, testW, testH))
	for y := 0; y < testH; y++ {
		for x := 0; x < testW; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(40 * x), uint8(60 * y), 200, 255})
		}
	}
	return img
}

func testSource(t *testing.T, name string) source.Source {
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, testImage(), &tiff.Options{Compression: tiff.Uncompressed}); err != nil {
		t.Fatal(err)
	}
	return source.Bytes(name, buf.Bytes())
}

func testManager(budget int64) *Manager {
	cfg := config.Default()
	cfg.MemoryBudget = budget
	cfg.MinRowsPerTask = 1
	return NewManager(cfg, logging.NopLogger{})
}

func openRendered(t *testing.T, m *Manager, name string) *Session {
	t.Helper()
	s, err := m.Open(context.Background(), testSource(t, name))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Render(context.Background(), DecodePacked); err != nil {
		t.Fatal(err)
	}
	return s
}

func current(t *testing.T, s *Session) *bitmap.Buffer {
	t.Helper()
	b, err := s.Current()
	if err != nil {
		t.Fatal(err)
	}
	if b == nil {
		t.Fatal("no current image")
	}
	return b
}

func TestRenderPacked(t *testing.T) {
	m := testManager(0)
	s := openRendered(t, m, "a.tif")
	defer s.Close()

	b := current(t, s)
	defer b.Release()
	if b.Format() != bitmap.FormatBGRA32 || b.Width() != testW || b.Height() != testH {
		t.Fatalf("rendered %dx%d %v", b.Width(), b.Height(), b.Format())
	}
	img := testImage()
	for y := 0; y < testH; y++ {
		row := b.Row(y)
		for x := 0; x < testW; x++ {
			c := img.NRGBAAt(x, y)
			got := row[4*x : 4*x+4]
			if got[0] != c.B || got[1] != c.G || got[2] != c.R || got[3] != c.A {
				t.Fatalf("(%d,%d) = %v, want %v", x, y, got, c)
			}
		}
	}
}

func TestApplyFilterKeepsBase(t *testing.T) {
	m := testManager(0)
	s := openRendered(t, m, "a.tif")
	defer s.Close()

	if err := s.ApplyFilter(context.Background(), filter.Grayscale{}); err != nil {
		t.Fatal(err)
	}
	b := current(t, s)
	for y := 0; y < testH; y++ {
		row := b.Row(y)
		for x := 0; x < testW; x++ {
			if row[4*x] != row[4*x+1] || row[4*x+1] != row[4*x+2] {
				t.Fatalf("(%d,%d) not gray: %v", x, y, row[4*x:4*x+4])
			}
		}
	}
	b.Release()

	// a later filter starts again from the rendered image
	if err := s.ApplyFilter(context.Background(), filter.BrightnessContrast{}); err != nil {
		t.Fatal(err)
	}
	b = current(t, s)
	defer b.Release()
	if c := testImage().NRGBAAt(5, 0); b.Row(0)[20] != c.B || b.Row(0)[22] != c.R {
		t.Fatalf("pixel %v, want %v", b.Row(0)[20:24], c)
	}
}

func TestCancelDiscardsOutput(t *testing.T) {
	m := testManager(0)
	s := openRendered(t, m, "a.tif")
	defer s.Close()
	before := current(t, s)
	defer before.Release()
	inUse := m.Allocator().InUse()

	started := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		result <- s.Render(context.Background(), func(ctx context.Context, s *Session) (*bitmap.Buffer, error) {
			b, err := s.Allocate(bitmap.FormatGray8, testW, testH)
			if err != nil {
				return nil, err
			}
			close(started)
			<-ctx.Done()
			// output produced anyway must not be published
			return b, nil
		})
	}()
	<-started

	// a new operation cancels the one in flight and waits for it
	failed := errors.New("render failed")
	err := s.Render(context.Background(), func(context.Context, *Session) (*bitmap.Buffer, error) {
		return nil, failed
	})
	if !errors.Is(err, failed) {
		t.Fatalf("unexpected error %v", err)
	}
	if err := <-result; !errors.Is(err, errs.ErrCanceled) {
		t.Fatalf("unexpected error %v", err)
	}

	after := current(t, s)
	defer after.Release()
	if !after.SameMemory(before) {
		t.Fatal("the previous image is no longer current")
	}
	if got := m.Allocator().InUse(); got != inUse {
		t.Fatalf("%d bytes in use, want %d", got, inUse)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.ApplyFilter(ctx, filter.Grayscale{}); !errors.Is(err, errs.ErrCanceled) {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestReclaimInactive(t *testing.T) {
	size := int64(testW * testH * 4)
	m := testManager(size + size/2)

	idle := openRendered(t, m, "idle.tif")
	defer idle.Close()

	s, err := m.Open(context.Background(), testSource(t, "shown.tif"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	s.SetActive(true)

	idle.SetActive(true)
	if err := s.Render(context.Background(), DecodePacked); !errors.Is(err, errs.ErrInsufficientMemory) {
		t.Fatalf("unexpected error %v", err)
	}

	idle.SetActive(false)
	if err := s.Render(context.Background(), DecodePacked); err != nil {
		t.Fatal(err)
	}
	if b, err := idle.Current(); err != nil || b != nil {
		t.Fatalf("idle session kept its image: %v %v", b, err)
	}
	if got := m.Allocator().InUse(); got != size {
		t.Fatalf("%d bytes in use, want %d", got, size)
	}
}

func TestClose(t *testing.T) {
	m := testManager(0)
	s := openRendered(t, m, "a.tif")
	b := current(t, s)

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Render(context.Background(), DecodePacked); !errors.Is(err, errs.ErrDisposed) {
		t.Fatalf("unexpected error %v", err)
	}
	if _, err := s.Current(); !errors.Is(err, errs.ErrDisposed) {
		t.Fatalf("unexpected error %v", err)
	}

	// a share taken before Close stays valid
	if b.Released() || b.Row(0)[3] != 255 {
		t.Fatal("outstanding share was released")
	}
	b.Release()
	if got := m.Allocator().InUse(); got != 0 {
		t.Fatalf("%d bytes in use after close", got)
	}
}

func TestOpenUnknown(t *testing.T) {
	m := testManager(0)
	_, err := m.Open(context.Background(), source.Bytes("x.bin", []byte("nothing")))
	if !errors.Is(err, errs.ErrNoProfile) {
		t.Fatalf("unexpected error %v", err)
	}
}
