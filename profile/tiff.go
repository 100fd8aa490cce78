package profile

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"

	"github.com/mixcode/imagecore/errs"
	"github.com/mixcode/imagecore/internal/logging"
	"github.com/mixcode/imagecore/tagreader"
)

// directory names used when enqueueing pointer tags
const (
	subIFDDirectory = "SubIFD"
	exifDirectory   = "Exif"
)

type dirKey struct {
	name  string
	index int
}

// image parameters gathered from one directory
type ifd struct {
	key          dirKey
	subfileType  uint64
	width        int
	height       int
	bitsPerSamp  []uint64
	compression  uint64
	photometric  uint64
	samples      int
	rowsPerStrip int
	planar       uint64
	stripOffsets []uint64
	stripCounts  []uint64
	tiled        bool
	whiteLevel   uint64
}

func (d *ifd) area() int { return d.width * d.height }

// tiffMeta is what the walk collects beside the image directories.
type tiffMeta struct {
	orientation Orientation
	make, model string
	dng         bool
	icc         []byte
}

// parseTIFF walks every directory of a TIFF-family file, following SubIFD
// and Exif pointers, and describes the largest full-resolution image.
func parseTIFF(ctx context.Context, in io.ReadSeeker, f FileFormat, log logging.Logger) (*Profile, []byte, error) {
	r, err := tagreader.New(in)
	if err != nil {
		return nil, nil, err
	}
	dirs, meta, err := walkTIFF(ctx, r, log)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case meta.dng:
		f = FormatDNG
	case r.Variant() == "ORF":
		f = FormatORF
	case r.Variant() == "RW2":
		f = FormatRW2
	case f == FormatUnknown:
		f = FormatTIFF
	}

	primary := primaryImage(dirs)
	if primary == nil {
		return nil, nil, fmt.Errorf("tiff: no image directory: %w", errs.ErrUnsupported)
	}
	p, err := primary.profile()
	if err != nil {
		return nil, nil, err
	}
	p.Format = f
	if r.ByteOrder() == binary.BigEndian {
		p.ByteOrder = BigEndian
	}
	p.Orientation = meta.orientation
	p.Make, p.Model = meta.make, meta.model
	log.Debug("tiff: primary image",
		logging.String("directory", primary.key.name),
		logging.Int("index", primary.key.index),
		logging.String("renderer", p.Renderer.String()))
	return p, meta.icc, nil
}

func walkTIFF(ctx context.Context, r *tagreader.Reader, log logging.Logger) ([]*ifd, tiffMeta, error) {
	var (
		meta  tiffMeta
		dirs  []*ifd
		byKey = make(map[dirKey]*ifd)
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, meta, errs.Canceled(err)
		}
		ok, err := r.Read()
		if err != nil {
			log.Debug("tiff: skipping directory", logging.Error("err", err))
			continue
		}
		if !ok {
			break
		}

		key := dirKey{r.DirectoryName(), r.DirectoryIndex()}
		d := byKey[key]
		if d == nil {
			d = &ifd{key: key, compression: tagreader.CompressionNone, samples: 1, planar: 1}
			byKey[key] = d
			dirs = append(dirs, d)
		}
		if err := readEntry(r, d, &meta); err != nil {
			log.Debug("tiff: skipping entry",
				logging.Int("tag", int(r.EntryID())),
				logging.Error("err", err))
		}
	}
	return dirs, meta, nil
}

func readEntry(r *tagreader.Reader, d *ifd, meta *tiffMeta) (err error) {
	root := d.key == dirKey{tagreader.RootDirectory, 0}
	var v uint64
	switch r.EntryID() {
	case tagreader.TagNewSubfileType:
		d.subfileType, err = r.Uint()
	case tagreader.TagImageWidth:
		v, err = r.Uint()
		d.width = int(v)
	case tagreader.TagImageLength:
		v, err = r.Uint()
		d.height = int(v)
	case tagreader.TagBitsPerSample:
		d.bitsPerSamp, err = r.Uints()
	case tagreader.TagCompression:
		d.compression, err = r.Uint()
	case tagreader.TagPhotometricInterpretation:
		d.photometric, err = r.Uint()
	case tagreader.TagSamplesPerPixel:
		v, err = r.Uint()
		d.samples = int(v)
	case tagreader.TagRowsPerStrip:
		v, err = r.Uint()
		d.rowsPerStrip = int(v)
	case tagreader.TagPlanarConfiguration:
		d.planar, err = r.Uint()
	case tagreader.TagStripOffsets:
		d.stripOffsets, err = r.Uints()
	case tagreader.TagStripByteCounts:
		d.stripCounts, err = r.Uints()
	case tagreader.TagTileOffsets:
		d.tiled = true
		d.stripOffsets, err = r.Uints()
	case tagreader.TagWhiteLevel:
		var l []uint64
		if l, err = r.Uints(); err == nil && len(l) > 0 {
			d.whiteLevel = l[0]
		}

	case tagreader.TagSubIFDs:
		var offsets []uint64
		if offsets, err = r.Uints(); err != nil {
			return
		}
		for _, o := range offsets {
			if e := r.EnqueueDirectory(int64(o), subIFDDirectory); e != nil {
				err = e
			}
		}
	case tagreader.TagExifIFD:
		if err = r.EnqueueDirectory(r.EntryOffset(), exifDirectory); err != nil {
			return
		}
	case tagreader.TagDNGVersion:
		meta.dng = true
	case tagreader.TagICCProfile:
		if meta.icc == nil {
			meta.icc, err = r.Bytes()
		}
	case tagreader.TagOrientation:
		if root {
			v, err = r.Uint()
			meta.orientation = OrientationFromExif(int64(v))
		}
	case tagreader.TagMake:
		if root {
			meta.make, err = r.String()
		}
	case tagreader.TagModel:
		if root {
			meta.model, err = r.String()
		}
	}
	return
}

// primaryImage returns the largest full-resolution image directory.
// Ties go to the directory walked first.
func primaryImage(dirs []*ifd) *ifd {
	var best *ifd
	for _, d := range dirs {
		if d.key.name == exifDirectory || d.subfileType&1 != 0 {
			continue
		}
		if d.width <= 0 || d.height <= 0 || len(d.stripOffsets) == 0 {
			continue
		}
		if best == nil || d.area() > best.area() {
			best = d
		}
	}
	return best
}

// contiguous reports whether the strips follow each other without gaps.
func (d *ifd) contiguous() bool {
	if len(d.stripCounts) != len(d.stripOffsets) {
		return false
	}
	for i := 1; i < len(d.stripOffsets); i++ {
		if d.stripOffsets[i] != d.stripOffsets[i-1]+d.stripCounts[i-1] {
			return false
		}
	}
	return true
}

func (d *ifd) effectiveBits(storage int) int {
	if d.whiteLevel > 0 {
		if n := bits.Len64(d.whiteLevel); n < storage {
			return n
		}
	}
	return storage
}

func (d *ifd) profile() (*Profile, error) {
	p := &Profile{
		Width:      d.width,
		Height:     d.height,
		DataOffset: int64(d.stripOffsets[0]),
	}
	if d.compression != tagreader.CompressionNone || d.tiled || !d.contiguous() {
		p.Renderer = RendererCodec
		return p, nil
	}

	if d.samples < 1 || d.samples > MaxPlanes {
		return nil, fmt.Errorf("tiff: %d samples per pixel: %w", d.samples, errs.ErrUnsupported)
	}
	storage := 8
	if len(d.bitsPerSamp) > 0 {
		storage = int(d.bitsPerSamp[0])
	}
	for _, b := range d.bitsPerSamp {
		if int(b) != storage {
			return nil, fmt.Errorf("tiff: mixed sample sizes %v: %w", d.bitsPerSamp, errs.ErrUnsupported)
		}
	}
	if storage <= 0 || storage > 32 {
		return nil, fmt.Errorf("tiff: %d bits per sample: %w", storage, errs.ErrUnsupported)
	}
	eff := d.effectiveBits(storage)

	// byte-aligned samples have a pixel stride; others are bit-packed
	sampleBytes := 0
	if storage%8 == 0 {
		sampleBytes = storage / 8
	}

	switch {
	case d.photometric == tagreader.PhotometricCFA:
		p.Renderer = RendererBayer
		p.Demosaic = true
	case d.photometric == tagreader.PhotometricLinearRaw:
		p.Renderer = RendererLinearRaw
	case d.planar == 2 && d.samples > 1:
		p.Renderer = RendererPlanar
	default:
		p.Renderer = RendererPacked
	}

	if p.Renderer == RendererPlanar {
		rowStride := (d.width*storage + 7) / 8
		for i := 0; i < d.samples; i++ {
			p.Planes = append(p.Planes, Plane{PixelStride: sampleBytes, RowStride: rowStride, EffectiveBits: eff})
		}
		return p, nil
	}

	rowStride := (d.width*d.samples*storage + 7) / 8
	p.Planes = []Plane{{PixelStride: sampleBytes * d.samples, RowStride: rowStride, EffectiveBits: eff}}
	return p, nil
}
