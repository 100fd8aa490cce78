// Package bitmap holds pixel buffers shared between renderers, filters and
// sessions, and the allocator that keeps them inside a memory budget.
package bitmap

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/mixcode/imagecore/errs"
	"github.com/mixcode/imagecore/shared"
)

// the physical memory behind every handle of one buffer
type pixels struct {
	pix []byte
}

// Buffer is a rectangle of pixels in one Format. Copies made with Share
// alias the same memory; the memory is returned when the last of them is
// released.
type Buffer struct {
	format Format
	width  int
	height int
	stride int
	h      *shared.Handle[*pixels]
}

func checkGeometry(format Format, width, height, stride int) (size int64, err error) {
	if !format.Valid() {
		err = fmt.Errorf("bitmap: invalid format %d: %w", format, errs.ErrContractViolation)
		return
	}
	if width <= 0 || height <= 0 {
		err = fmt.Errorf("bitmap: invalid dimensions %dx%d: %w", width, height, errs.ErrContractViolation)
		return
	}
	rowBytes := int64(width) * int64(format.BytesPerPixel())
	if int64(stride) < rowBytes {
		err = fmt.Errorf("bitmap: stride %d below row size %d: %w", stride, rowBytes, errs.ErrContractViolation)
		return
	}
	size = int64(stride) * int64(height)
	if size/int64(height) != int64(stride) || size > math.MaxInt {
		err = fmt.Errorf("bitmap: %dx%d %s does not fit in memory: %w", width, height, format, errs.ErrInsufficientMemory)
	}
	return
}

// Allocate returns a zeroed buffer outside any memory budget.
func Allocate(format Format, width, height int) (*Buffer, error) {
	stride := width * format.BytesPerPixel()
	size, err := checkGeometry(format, width, height, stride)
	if err != nil {
		return nil, err
	}
	return newBuffer(format, width, height, stride, make([]byte, size), nil), nil
}

// Wrap makes a buffer over caller-owned memory. Nothing is freed on
// release.
func Wrap(format Format, width, height, stride int, pix []byte) (*Buffer, error) {
	size, err := checkGeometry(format, width, height, stride)
	if err != nil {
		return nil, err
	}
	// the last row needs only its pixel bytes
	need := size - int64(stride) + int64(width*format.BytesPerPixel())
	if int64(len(pix)) < need {
		return nil, fmt.Errorf("bitmap: %d bytes for %dx%d stride %d: %w", len(pix), width, height, stride, errs.ErrContractViolation)
	}
	return newBuffer(format, width, height, stride, pix, nil), nil
}

func newBuffer(format Format, width, height, stride int, pix []byte, teardown func(*pixels) error) *Buffer {
	return &Buffer{
		format: format,
		width:  width,
		height: height,
		stride: stride,
		h:      shared.New(&pixels{pix: pix}, teardown),
	}
}

func (b *Buffer) Format() Format { return b.format }
func (b *Buffer) Width() int     { return b.width }
func (b *Buffer) Height() int    { return b.height }

// Stride is the distance in bytes between the starts of two rows.
func (b *Buffer) Stride() int { return b.stride }

// RowBytes is the number of pixel bytes in one row.
func (b *Buffer) RowBytes() int { return b.width * b.format.BytesPerPixel() }

// Share returns another owner of the same memory.
func (b *Buffer) Share() (*Buffer, error) {
	h, err := b.h.Share()
	if err != nil {
		return nil, fmt.Errorf("bitmap: %w", err)
	}
	c := *b
	c.h = h
	return &c, nil
}

// Release drops this owner. It is safe to call more than once.
func (b *Buffer) Release() error {
	return b.h.Release()
}

func (b *Buffer) Released() bool { return b.h.Released() }

// RefCount returns the number of live owners of the memory.
func (b *Buffer) RefCount() int { return b.h.RefCount() }

// Pix returns the pixel memory. It panics on a released buffer.
func (b *Buffer) Pix() []byte {
	return b.h.MustValue().pix
}

// Row returns the pixel bytes of row y.
func (b *Buffer) Row(y int) []byte {
	if y < 0 || y >= b.height {
		panic(fmt.Errorf("bitmap: row %d out of [0,%d): %w", y, b.height, errs.ErrContractViolation))
	}
	off := y * b.stride
	return b.Pix()[off : off+b.RowBytes()]
}

// SameGeometry reports whether both buffers have the same size and format.
func (b *Buffer) SameGeometry(o *Buffer) bool {
	return b.format == o.format && b.width == o.width && b.height == o.height
}

// SameMemory reports whether writing one buffer may change the other.
func (b *Buffer) SameMemory(o *Buffer) bool {
	if b == nil || o == nil {
		return false
	}
	if b.h.Aliases(o.h) {
		return true
	}
	p, err := b.h.Value()
	if err != nil {
		return false
	}
	q, err := o.h.Value()
	if err != nil {
		return false
	}
	if len(p.pix) == 0 || len(q.pix) == 0 {
		return false
	}
	// overlap of the two backing ranges
	p0, p1 := &p.pix[0], &p.pix[len(p.pix)-1]
	q0, q1 := &q.pix[0], &q.pix[len(q.pix)-1]
	return addr(p0) <= addr(q1) && addr(q0) <= addr(p1)
}

// CopyTo copies every pixel into dst, which must have the same geometry
// and format and must not share memory with b.
func (b *Buffer) CopyTo(dst *Buffer) error {
	if !b.SameGeometry(dst) {
		return fmt.Errorf("bitmap: copy %dx%d %s to %dx%d %s: %w",
			b.width, b.height, b.format, dst.width, dst.height, dst.format, errs.ErrContractViolation)
	}
	if b.SameMemory(dst) {
		return fmt.Errorf("bitmap: copy onto itself: %w", errs.ErrContractViolation)
	}
	src, err := b.h.Value()
	if err != nil {
		return fmt.Errorf("bitmap: source: %w", err)
	}
	out, err := dst.h.Value()
	if err != nil {
		return fmt.Errorf("bitmap: destination: %w", err)
	}
	if b.stride == dst.stride {
		n := b.stride*(b.height-1) + b.RowBytes()
		copy(out.pix[:n], src.pix[:n])
		return nil
	}
	rb := b.RowBytes()
	for y := 0; y < b.height; y++ {
		copy(out.pix[y*dst.stride:y*dst.stride+rb], src.pix[y*b.stride:y*b.stride+rb])
	}
	return nil
}

// Clone allocates a buffer of the same geometry and copies b into it.
func (b *Buffer) Clone() (*Buffer, error) {
	c, err := Allocate(b.format, b.width, b.height)
	if err != nil {
		return nil, err
	}
	if err = b.CopyTo(c); err != nil {
		c.Release()
		return nil, err
	}
	return c, nil
}

func addr(p *byte) uintptr { return uintptr(unsafe.Pointer(p)) }
