package profile

import (
	"fmt"

	bst "github.com/mixcode/binarystruct"

	"github.com/mixcode/imagecore/colorspace"
	"github.com/mixcode/imagecore/errs"
)

const (
	presetMagic   = "IRP1"
	presetVersion = 1
)

// stored form of a profile; the color space is kept by name
type presetRecord struct {
	Magic        string `binary:"[4]byte"`
	Version      uint16
	Format       uint16
	Renderer     uint8
	ByteOrder    uint8
	Demosaic     uint8
	Orientation  uint16
	Width        int `binary:"uint32"`
	Height       int `binary:"uint32"`
	DataOffset   int64
	FramePadding int64
	PlaneCount   int           `binary:"uint8"`
	Planes       []presetPlane `binary:"[PlaneCount]"`
	ColorSpace   string        `binary:"zstring"` // empty when unspecified
	Make         string        `binary:"zstring"`
	Model        string        `binary:"zstring"`
}

type presetPlane struct {
	PixelStride   int `binary:"uint32"`
	RowStride     int `binary:"uint32"`
	EffectiveBits int `binary:"uint8"`
}

// MarshalBinary encodes p for the preset store.
func (p *Profile) MarshalBinary() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	rec := presetRecord{
		Magic:        presetMagic,
		Version:      presetVersion,
		Format:       uint16(p.Format),
		Renderer:     uint8(p.Renderer),
		ByteOrder:    uint8(p.ByteOrder),
		Orientation:  uint16(p.Orientation),
		Width:        p.Width,
		Height:       p.Height,
		DataOffset:   p.DataOffset,
		FramePadding: p.FramePadding,
		PlaneCount:   len(p.Planes),
		Make:         p.Make,
		Model:        p.Model,
	}
	if p.Demosaic {
		rec.Demosaic = 1
	}
	for _, pl := range p.Planes {
		rec.Planes = append(rec.Planes, presetPlane(pl))
	}
	if p.ColorSpace != nil {
		rec.ColorSpace = p.ColorSpace.Name()
	}
	return bst.Marshal(rec, bst.LittleEndian)
}

// UnmarshalBinary decodes a preset. The color space is resolved through
// the default registry; a name it does not know is an error.
func (p *Profile) UnmarshalBinary(data []byte) error {
	var rec presetRecord
	if _, err := bst.Unmarshal(data, bst.LittleEndian, &rec); err != nil {
		return fmt.Errorf("profile: preset: %v: %w", err, errs.ErrMalformed)
	}
	if rec.Magic != presetMagic {
		return fmt.Errorf("profile: preset: bad magic %q: %w", rec.Magic, errs.ErrMalformed)
	}
	if rec.Version != presetVersion {
		return fmt.Errorf("profile: preset: version %d: %w", rec.Version, errs.ErrUnsupported)
	}

	q := Profile{
		Format:       FileFormat(rec.Format),
		Renderer:     Renderer(rec.Renderer),
		ByteOrder:    ByteOrder(rec.ByteOrder),
		Width:        rec.Width,
		Height:       rec.Height,
		DataOffset:   rec.DataOffset,
		FramePadding: rec.FramePadding,
		Orientation:  Orientation(rec.Orientation),
		Demosaic:     rec.Demosaic != 0,
		Make:         rec.Make,
		Model:        rec.Model,
	}
	for _, pl := range rec.Planes {
		q.Planes = append(q.Planes, Plane(pl))
	}
	if rec.ColorSpace != "" {
		cs, ok := colorspace.DefaultRegistry().Lookup(rec.ColorSpace)
		if !ok {
			return fmt.Errorf("profile: preset: unknown color space %q: %w", rec.ColorSpace, errs.ErrUnsupported)
		}
		q.ColorSpace = cs
	}
	if err := q.Validate(); err != nil {
		return err
	}
	*p = q
	return nil
}
