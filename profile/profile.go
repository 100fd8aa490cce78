// Package profile extracts image rendering profiles: what a renderer needs
// to know to turn a file's bytes into pixels (format, geometry, plane
// layout, data offset, orientation and color space).
//
// Parsers are picked from lookup tables by file extension and by header
// signature; see Extract.
package profile

import (
	"fmt"

	"github.com/mixcode/imagecore/colorspace"
	"github.com/mixcode/imagecore/errs"
)

// MaxPlanes is the largest number of planes a profile describes.
const MaxPlanes = 4

// ByteOrder of multi-byte samples in the image data.
type ByteOrder uint8

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

func (o ByteOrder) String() string {
	if o == BigEndian {
		return "big-endian"
	}
	return "little-endian"
}

// Renderer names the family of renderer able to decode the image data.
type Renderer uint8

const (
	RendererNone Renderer = iota
	// RendererPacked reads uncompressed interleaved samples.
	RendererPacked
	// RendererPlanar reads uncompressed samples stored plane after plane.
	RendererPlanar
	// RendererBayer reads an uncompressed color filter array and demosaics it.
	RendererBayer
	// RendererLinearRaw reads uncompressed demosaiced linear sensor data.
	RendererLinearRaw
	// RendererCodec hands the stream to an external decoder.
	RendererCodec
)

var rendererNames = [...]string{"none", "packed", "planar", "bayer", "linear-raw", "codec"}

func (r Renderer) String() string {
	if int(r) < len(rendererNames) {
		return rendererNames[r]
	}
	return fmt.Sprintf("Renderer(%d)", r)
}

// Orientation is the clockwise rotation, in degrees, that displays the
// image upright.
type Orientation uint16

const (
	Rotate0   Orientation = 0
	Rotate90  Orientation = 90
	Rotate180 Orientation = 180
	Rotate270 Orientation = 270
)

func (o Orientation) Valid() bool {
	return o == Rotate0 || o == Rotate90 || o == Rotate180 || o == Rotate270
}

// OrientationFromExif maps the TIFF/Exif orientation tag. Mirrored values
// map to the rotation of their unmirrored counterpart.
func OrientationFromExif(v int64) Orientation {
	switch v {
	case 3, 4:
		return Rotate180
	case 6, 5:
		return Rotate90
	case 8, 7:
		return Rotate270
	}
	return Rotate0
}

// Plane describes the layout of one sample plane. Strides are in bytes;
// a zero PixelStride means samples are bit-packed at EffectiveBits.
type Plane struct {
	PixelStride   int
	RowStride     int
	EffectiveBits int
}

// Profile is the outcome of metadata parsing for one file. Treat it as
// immutable; use Revise to make an edited copy.
type Profile struct {
	Format       FileFormat
	Renderer     Renderer
	ByteOrder    ByteOrder
	Width        int
	Height       int
	Planes       []Plane
	DataOffset   int64
	FramePadding int64 // bytes between consecutive planes
	Orientation  Orientation
	Demosaic     bool
	ColorSpace   *colorspace.ColorSpace // nil when the file does not say

	Make, Model string
}

// RenderingOptions is the record a renderer consumes.
type RenderingOptions struct {
	ByteOrder    ByteOrder
	Width        int
	Height       int
	DataOffset   int64
	FramePadding int64
	Planes       []Plane
	Demosaic     bool
}

// Options returns the renderer's view of p.
func (p *Profile) Options() RenderingOptions {
	return RenderingOptions{
		ByteOrder:    p.ByteOrder,
		Width:        p.Width,
		Height:       p.Height,
		DataOffset:   p.DataOffset,
		FramePadding: p.FramePadding,
		Planes:       append([]Plane(nil), p.Planes...),
		Demosaic:     p.Demosaic,
	}
}

// ColorSpaceOrDefault returns the profile's color space, or sRGB.
func (p *Profile) ColorSpaceOrDefault() *colorspace.ColorSpace {
	if p.ColorSpace != nil {
		return p.ColorSpace
	}
	return colorspace.SRGB()
}

func (p *Profile) clone() *Profile {
	c := *p
	c.Planes = append([]Plane(nil), p.Planes...)
	return &c
}

// Revise returns a copy of p changed by edit. The copy is validated; p is
// never modified.
func (p *Profile) Revise(edit func(*Profile)) (*Profile, error) {
	c := p.clone()
	edit(c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the invariants every renderer relies on.
func (p *Profile) Validate() error {
	switch {
	case p.Width <= 0 || p.Height <= 0:
		return fmt.Errorf("profile: invalid dimensions %dx%d: %w", p.Width, p.Height, errs.ErrContractViolation)
	case len(p.Planes) > MaxPlanes:
		return fmt.Errorf("profile: %d planes: %w", len(p.Planes), errs.ErrContractViolation)
	case !p.Orientation.Valid():
		return fmt.Errorf("profile: orientation %d: %w", p.Orientation, errs.ErrContractViolation)
	case p.DataOffset < 0 || p.FramePadding < 0:
		return fmt.Errorf("profile: negative offset: %w", errs.ErrContractViolation)
	}
	for i, pl := range p.Planes {
		if pl.PixelStride < 0 || pl.RowStride <= 0 || pl.EffectiveBits <= 0 || pl.EffectiveBits > 32 {
			return fmt.Errorf("profile: plane %d %+v: %w", i, pl, errs.ErrContractViolation)
		}
	}
	return nil
}
