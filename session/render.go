package session

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/mixcode/imagecore/bitmap"
	"github.com/mixcode/imagecore/errs"
	"github.com/mixcode/imagecore/profile"
)

// DecodePacked renders uncompressed interleaved gray, gray+alpha, RGB and
// RGBA images with 8- or 16-bit samples. Samples narrower than their
// storage are scaled to the full range. Alpha is dropped from gray images;
// RGB images get an opaque alpha.
func DecodePacked(ctx context.Context, s *Session) (*bitmap.Buffer, error) {
	p := s.Profile()
	opt := p.Options()
	if p.Renderer != profile.RendererPacked || len(opt.Planes) != 1 {
		return nil, fmt.Errorf("session: %s renderer: %w", p.Renderer, errs.ErrUnsupported)
	}
	pl := opt.Planes[0]

	sampleBytes := 1
	if pl.EffectiveBits > 8 {
		sampleBytes = 2
	}
	if pl.EffectiveBits > 16 || pl.PixelStride == 0 || pl.PixelStride%sampleBytes != 0 {
		return nil, fmt.Errorf("session: %+v plane: %w", pl, errs.ErrUnsupported)
	}
	channels := pl.PixelStride / sampleBytes
	if channels > 4 {
		return nil, fmt.Errorf("session: %d channels: %w", channels, errs.ErrUnsupported)
	}

	var format bitmap.Format
	switch {
	case channels <= 2 && sampleBytes == 1:
		format = bitmap.FormatGray8
	case channels <= 2:
		format = bitmap.FormatGray16
	case sampleBytes == 1:
		format = bitmap.FormatBGRA32
	default:
		format = bitmap.FormatBGRA64
	}

	rd, err := s.Reader()
	if err != nil {
		return nil, err
	}
	dst, err := s.Allocate(format, opt.Width, opt.Height)
	if err != nil {
		return nil, err
	}

	var order binary.ByteOrder = binary.LittleEndian
	if opt.ByteOrder == profile.BigEndian {
		order = binary.BigEndian
	}
	top := uint32(1)<<(8*sampleBytes) - 1
	scale := sampleScale(pl.EffectiveBits, top)
	sample := func(b []byte) uint32 {
		if sampleBytes == 1 {
			return scale(uint32(b[0]))
		}
		return scale(uint32(order.Uint16(b)))
	}

	row := make([]byte, opt.Width*pl.PixelStride)
	for y := 0; y < opt.Height; y++ {
		if err := ctx.Err(); err != nil {
			dst.Release()
			return nil, errs.Canceled(err)
		}
		if _, err := rd.ReadAt(row, opt.DataOffset+int64(y)*int64(pl.RowStride)); err != nil {
			dst.Release()
			return nil, fmt.Errorf("session: row %d: %v: %w", y, err, errs.ErrMalformed)
		}
		out := dst.Row(y)
		for x := 0; x < opt.Width; x++ {
			px := row[x*pl.PixelStride:]
			var c [4]uint32 // r, g, b, a
			switch channels {
			case 1, 2:
				c[0] = sample(px)
			case 3:
				c[0], c[1], c[2], c[3] = sample(px), sample(px[sampleBytes:]), sample(px[2*sampleBytes:]), top
			case 4:
				c[0], c[1], c[2], c[3] = sample(px), sample(px[sampleBytes:]), sample(px[2*sampleBytes:]), sample(px[3*sampleBytes:])
			}
			putPixel(out, x, format, c)
		}
	}
	return dst, nil
}

// sampleScale maps bits-wide samples onto [0, top].
func sampleScale(bits int, top uint32) func(uint32) uint32 {
	full := uint32(1)<<bits - 1
	if full == top {
		return func(v uint32) uint32 { return v }
	}
	return func(v uint32) uint32 {
		v = min(v, full)
		return (v*top + full/2) / full
	}
}

func putPixel(out []byte, x int, format bitmap.Format, c [4]uint32) {
	le := binary.LittleEndian
	switch format {
	case bitmap.FormatGray8:
		out[x] = byte(c[0])
	case bitmap.FormatGray16:
		le.PutUint16(out[2*x:], uint16(c[0]))
	case bitmap.FormatBGRA32:
		out[4*x], out[4*x+1], out[4*x+2], out[4*x+3] = byte(c[2]), byte(c[1]), byte(c[0]), byte(c[3])
	case bitmap.FormatBGRA64:
		o := out[8*x:]
		le.PutUint16(o, uint16(c[2]))
		le.PutUint16(o[2:], uint16(c[1]))
		le.PutUint16(o[4:], uint16(c[0]))
		le.PutUint16(o[6:], uint16(c[3]))
	}
}
