package bitmap

import "fmt"

// Format is a pixel storage layout. Multi-byte channels are little-endian.
type Format uint8

const (
	FormatInvalid Format = iota

	// FormatBGRA32 is 8 bits per channel, blue first.
	FormatBGRA32

	// FormatBGRA64 is 16 bits per channel, blue first.
	FormatBGRA64

	FormatGray8
	FormatGray16

	formatCount
)

// FormatInfo describes a Format.
type FormatInfo struct {
	Name           string
	BytesPerPixel  int
	Channels       int
	BitsPerChannel int
	HasAlpha       bool
	IsGrayscale    bool
}

var formatInfoTable = [formatCount]FormatInfo{
	FormatInvalid: {Name: "invalid"},
	FormatBGRA32: {
		Name:           "BGRA32",
		BytesPerPixel:  4,
		Channels:       4,
		BitsPerChannel: 8,
		HasAlpha:       true,
	},
	FormatBGRA64: {
		Name:           "BGRA64",
		BytesPerPixel:  8,
		Channels:       4,
		BitsPerChannel: 16,
		HasAlpha:       true,
	},
	FormatGray8: {
		Name:           "Gray8",
		BytesPerPixel:  1,
		Channels:       1,
		BitsPerChannel: 8,
		IsGrayscale:    true,
	},
	FormatGray16: {
		Name:           "Gray16",
		BytesPerPixel:  2,
		Channels:       1,
		BitsPerChannel: 16,
		IsGrayscale:    true,
	},
}

// Info returns the format's metadata; invalid formats report zero sizes.
func (f Format) Info() FormatInfo {
	if f >= formatCount {
		return formatInfoTable[FormatInvalid]
	}
	return formatInfoTable[f]
}

func (f Format) Valid() bool { return f > FormatInvalid && f < formatCount }

func (f Format) BytesPerPixel() int { return f.Info().BytesPerPixel }

func (f Format) String() string {
	if !f.Valid() {
		return fmt.Sprintf("Format(%d)", f)
	}
	return f.Info().Name
}
