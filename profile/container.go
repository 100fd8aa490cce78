package profile

import (
	"context"
	"fmt"
	"io"

	"github.com/mixcode/imagecore"
	"github.com/mixcode/imagecore/colorspace"
	"github.com/mixcode/imagecore/errs"
	"github.com/mixcode/imagecore/internal/logging"
	"github.com/mixcode/imagecore/tagreader"
)

// JPEG, PNG and WebP images are decoded by a codec. Their profiles carry
// geometry, orientation and color space only.

func parseJPEG(ctx context.Context, in io.ReadSeeker, f FileFormat, log logging.Logger) (*Profile, []byte, error) {
	info, err := imagecore.ScanJPEG(in)
	if err != nil {
		return nil, nil, err
	}
	p := &Profile{
		Format:    FormatJPEG,
		Renderer:  RendererCodec,
		ByteOrder: BigEndian,
		Width:     info.Width,
		Height:    info.Height,
	}
	if info.ExifOffset > 0 {
		if err := ctx.Err(); err != nil {
			return nil, nil, errs.Canceled(err)
		}
		if err := readExif(in, info.ExifOffset, p); err != nil {
			// a broken Exif block leaves the image itself usable
			log.Debug("jpg: ignoring Exif block", logging.Error("err", err))
		}
	}
	return p, info.ICC, nil
}

// readExif reads the primary directory of an Exif block in place. Offsets
// inside the block are relative to its TIFF header at pos.
func readExif(in io.ReadSeeker, pos int64, p *Profile) error {
	if _, err := in.Seek(pos, io.SeekStart); err != nil {
		return err
	}
	r, err := tagreader.New(in)
	if err != nil {
		return err
	}
	for {
		ok, err := r.Read()
		if err != nil {
			return err
		}
		if !ok || r.DirectoryIndex() != 0 {
			return nil
		}
		var v uint64
		switch r.EntryID() {
		case tagreader.TagOrientation:
			if v, err = r.Uint(); err == nil {
				p.Orientation = OrientationFromExif(int64(v))
			}
		case tagreader.TagMake:
			p.Make, err = r.String()
		case tagreader.TagModel:
			p.Model, err = r.String()
		}
		if err != nil {
			return err
		}
	}
}

var pngChannels = map[int]int{0: 1, 2: 3, 3: 1, 4: 2, 6: 4}

func parsePNG(ctx context.Context, in io.ReadSeeker, f FileFormat, log logging.Logger) (*Profile, []byte, error) {
	info, err := imagecore.ScanPNG(in)
	if err != nil {
		return nil, nil, err
	}
	ch, ok := pngChannels[info.ColorType]
	if !ok {
		return nil, nil, malformedPNG(info.ColorType)
	}
	p := &Profile{
		Format:    FormatPNG,
		Renderer:  RendererCodec,
		ByteOrder: BigEndian,
		Width:     info.Width,
		Height:    info.Height,
		Planes:    []Plane{{PixelStride: ch * info.BitDepth / 8, RowStride: (info.Width*ch*info.BitDepth + 7) / 8, EffectiveBits: info.BitDepth}},
	}
	switch {
	case info.SRGB:
		// sRGB takes precedence over iCCP and gAMA
		p.ColorSpace = colorspace.SRGB()
		return p, nil, nil
	case info.ICC != nil:
		return p, info.ICC, nil
	case info.Gamma > 0:
		cs, err := colorspace.BuildWorkingSpace(
			"sRGB primaries, gamma "+formatGamma(info.Gamma),
			colorspace.SRGB().Primaries(), colorspace.D65,
			colorspace.Gamma(info.Gamma))
		if err != nil {
			log.Debug("png: ignoring gAMA", logging.Error("err", err))
			break
		}
		p.ColorSpace = colorspace.DefaultRegistry().Intern(cs)
	}
	return p, nil, nil
}

func parseWebP(ctx context.Context, in io.ReadSeeker, f FileFormat, log logging.Logger) (*Profile, []byte, error) {
	info, err := imagecore.ScanWebP(in)
	if err != nil {
		return nil, nil, err
	}
	return &Profile{
		Format:    FormatWebP,
		Renderer:  RendererCodec,
		ByteOrder: LittleEndian,
		Width:     info.Width,
		Height:    info.Height,
	}, info.ICC, nil
}

func malformedPNG(colorType int) error {
	return fmt.Errorf("png: color type %d: %w", colorType, errs.ErrMalformed)
}

func formatGamma(g float64) string { return fmt.Sprintf("%.4g", g) }
