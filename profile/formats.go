package profile

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/mixcode/imagecore"
	"github.com/mixcode/imagecore/internal/logging"
)

// FileFormat identifies the file type a profile was read from.
type FileFormat uint16

const (
	FormatUnknown FileFormat = iota
	FormatTIFF
	FormatDNG
	FormatNEF
	FormatCR2
	FormatARW
	FormatPEF
	FormatORF
	FormatRW2
	FormatJPEG
	FormatPNG
	FormatWebP
)

var formatNames = map[FileFormat]string{
	FormatUnknown: "unknown",
	FormatTIFF:    "TIFF",
	FormatDNG:     "DNG",
	FormatNEF:     "NEF",
	FormatCR2:     "CR2",
	FormatARW:     "ARW",
	FormatPEF:     "PEF",
	FormatORF:     "ORF",
	FormatRW2:     "RW2",
	FormatJPEG:    "JPEG",
	FormatPNG:     "PNG",
	FormatWebP:    "WebP",
}

func (f FileFormat) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return "unknown"
}

// lower-case file extension to format
var byExtension = map[string]FileFormat{
	".tif":  FormatTIFF,
	".tiff": FormatTIFF,
	".dng":  FormatDNG,
	".nef":  FormatNEF,
	".nrw":  FormatNEF,
	".cr2":  FormatCR2,
	".arw":  FormatARW,
	".sr2":  FormatARW,
	".pef":  FormatPEF,
	".orf":  FormatORF,
	".rw2":  FormatRW2,
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".jpe":  FormatJPEG,
	".png":  FormatPNG,
	".webp": FormatWebP,
}

// container signature to the format assumed when the extension says nothing
var byContainer = map[imagecore.Container]FileFormat{
	imagecore.ContainerTIFF: FormatTIFF,
	imagecore.ContainerJPEG: FormatJPEG,
	imagecore.ContainerPNG:  FormatPNG,
	imagecore.ContainerWebP: FormatWebP,
}

// parser reads a profile and the raw embedded ICC profile, if any, from a
// stream positioned at its start.
type parser func(ctx context.Context, in io.ReadSeeker, f FileFormat, log logging.Logger) (*Profile, []byte, error)

type parserEntry struct {
	family string
	parse  parser
}

var parsers = map[FileFormat]parserEntry{
	FormatTIFF: {"tiff", parseTIFF},
	FormatDNG:  {"tiff", parseTIFF},
	FormatNEF:  {"tiff", parseTIFF},
	FormatCR2:  {"tiff", parseTIFF},
	FormatARW:  {"tiff", parseTIFF},
	FormatPEF:  {"tiff", parseTIFF},
	FormatORF:  {"tiff", parseTIFF},
	FormatRW2:  {"tiff", parseTIFF},
	FormatJPEG: {"jpg", parseJPEG},
	FormatPNG:  {"png", parsePNG},
	FormatWebP: {"webp", parseWebP},
}

// FormatForName returns the format implied by a file name's extension.
func FormatForName(name string) FileFormat {
	return byExtension[strings.ToLower(filepath.Ext(name))]
}

// FormatForSignature returns the format implied by a stream's first bytes.
func FormatForSignature(head []byte) FileFormat {
	return byContainer[imagecore.SniffBytes(head)]
}
