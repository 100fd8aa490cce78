// Package imagecore locates the embedded ICC color profile and other
// container-level metadata of the image files the viewer opens.
//
// Containers are told apart by their leading signature bytes, and each has
// its own extractor; see Sniff and ExtractICC. The color-space engine,
// tag reader, buffers and filters live in the sub-packages.
package imagecore

import (
	"bytes"
	"fmt"
	"io"

	"github.com/mixcode/imagecore/errs"
)

// Container identifies an image file container.
type Container int

const (
	ContainerUnknown Container = iota
	ContainerJPEG
	ContainerPNG
	ContainerGIF
	ContainerWebP
	ContainerTIFF // TIFF and TIFF-based raw files
)

// MaxICCSize bounds a compressed embedded profile once inflated.
const MaxICCSize = 16 << 20

func (c Container) String() string {
	switch c {
	case ContainerJPEG:
		return "JPEG"
	case ContainerPNG:
		return "PNG"
	case ContainerGIF:
		return "GIF"
	case ContainerWebP:
		return "WebP"
	case ContainerTIFF:
		return "TIFF"
	}
	return "unknown"
}

type signature struct {
	offset int
	magic  []byte
	c      Container
}

// leading bytes of each container, checked in order
var signatures = []signature{
	{0, []byte{0xff, 0xd8, 0xff}, ContainerJPEG},
	{0, pngHeader, ContainerPNG},
	{0, []byte("GIF8"), ContainerGIF},
	{8, []byte("WEBP"), ContainerWebP},
	{0, []byte("II*\x00"), ContainerTIFF},
	{0, []byte("MM\x00*"), ContainerTIFF},
	{0, []byte("IIRO"), ContainerTIFF},    // ORF
	{0, []byte("IIRS"), ContainerTIFF},    // ORF
	{0, []byte("IIU\x00"), ContainerTIFF}, // RW2
}

// ICC extractor per container
var extractors = map[Container]func(io.ReadSeeker) ([]byte, error){
	ContainerJPEG: ExtractICCFromJPEG,
	ContainerPNG:  ExtractICCFromPNG,
	ContainerGIF:  ExtractICCFromGIF,
	ContainerWebP: ExtractICCFromWebP,
	ContainerTIFF: ExtractICCFromTIFF,
}

// SniffBytes identifies a container from its first bytes.
func SniffBytes(head []byte) Container {
	for _, s := range signatures {
		if len(head) >= s.offset+len(s.magic) && bytes.Equal(head[s.offset:s.offset+len(s.magic)], s.magic) {
			return s.c
		}
	}
	return ContainerUnknown
}

// Sniff identifies the container at the current position of in and
// rewinds to that position.
func Sniff(in io.ReadSeeker) (c Container, err error) {
	start, err := in.Seek(0, io.SeekCurrent)
	if err != nil {
		return
	}
	head := make([]byte, 12)
	n, err := io.ReadFull(in, head)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	if err != nil {
		return
	}
	if _, err = in.Seek(start, io.SeekStart); err != nil {
		return
	}
	return SniffBytes(head[:n]), nil
}

// ExtractICC identifies the container of in and returns its embedded ICC
// profile. A container without a profile yields nil data and no error.
func ExtractICC(in io.ReadSeeker) (iccProfile []byte, c Container, err error) {
	if c, err = Sniff(in); err != nil {
		return
	}
	extract, ok := extractors[c]
	if !ok {
		err = fmt.Errorf("unknown image container: %w", errs.ErrUnsupported)
		return
	}
	iccProfile, err = extract(in)
	return
}
