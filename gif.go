//
// read embedded ICC profile from a gif file
//
// GIF spec
// https://www.w3.org/Graphics/GIF/spec-gif89a.txt
//

package imagecore

import (
	"bytes"
	"fmt"
	"io"

	bst "github.com/mixcode/binarystruct"

	"github.com/mixcode/imagecore/errs"
)

const (
	gifIntroImage     = 0x2c // Image descriptor
	gifIntroExtension = 0x21 // extension block
	gifTrailer        = 0x3b // end of image

	gifextApplication = 0xff // 0x21 0xff: Application extension
)

// gifReader reads the sub-block framing of a GIF stream.
type gifReader struct {
	in  io.ReadSeeker
	buf [256]byte
}

func (g *gifReader) getC() (byte, error) {
	if _, err := io.ReadFull(g.in, g.buf[:1]); err != nil {
		return 0, err
	}
	return g.buf[0], nil
}

// read one sub-block
func (g *gifReader) block() ([]byte, error) {
	sz, err := g.getC()
	if err != nil || sz == 0 {
		return nil, err
	}
	b := make([]byte, sz)
	if _, err = io.ReadFull(g.in, b); err != nil {
		return nil, err
	}
	return b, nil
}

// read all sub-blocks up to the terminator
func (g *gifReader) blocks() ([]byte, error) {
	var out bytes.Buffer
	for {
		sz, err := g.getC()
		if err != nil {
			return nil, err
		}
		if sz == 0 {
			break
		}
		if _, err = io.CopyN(&out, g.in, int64(sz)); err != nil {
			return nil, err
		}
	}
	if out.Len() == 0 {
		return nil, nil
	}
	return out.Bytes(), nil
}

// skip sub-blocks up to the terminator
func (g *gifReader) skipBlocks() error {
	for {
		sz, err := g.getC()
		if err != nil || sz == 0 {
			return err
		}
		if _, err = g.in.Seek(int64(sz), io.SeekCurrent); err != nil {
			return err
		}
	}
}

// skip a color table given the packed flag byte of its descriptor
func (g *gifReader) skipColorTable(flag byte) error {
	if flag&0x80 == 0 {
		return nil
	}
	sz := 1 << (1 + flag&0x7) // a palette of RGB triplets
	_, err := g.in.Seek(int64(sz*3), io.SeekCurrent)
	return err
}

// ExtractICCFromGIF reads the ICC profile carried by an ICCRGBG1
// application extension. If there is no ICC profile then nil data and no
// error is returned.
func ExtractICCFromGIF(in io.ReadSeeker) (iccProfile []byte, err error) {
	g := &gifReader{in: in}

	var gifHeader struct {
		Version          string `binary:"[6]byte"`
		Width, Height    int    `binary:"uint16"`
		Flag             byte
		BGColorIndex     byte
		PixelAspectRatio byte
	}
	if _, err = bst.Read(in, bst.LittleEndian, &gifHeader); err != nil {
		return nil, malformed("gif", err)
	}
	if gifHeader.Version != "GIF87a" && gifHeader.Version != "GIF89a" {
		return nil, fmt.Errorf("gif: invalid GIF header: %w", errs.ErrMalformed)
	}
	if err = g.skipColorTable(gifHeader.Flag); err != nil {
		return nil, malformed("gif", err)
	}

	for {
		var c byte
		if c, err = g.getC(); err != nil {
			return nil, malformed("gif", err)
		}
		switch c {
		case gifTrailer:
			return nil, nil

		case gifIntroImage:
			var imgDesc struct {
				Left, Top, Width, Height int `binary:"uint16"`
				Flag                     byte
			}
			if _, err = bst.Read(in, bst.LittleEndian, &imgDesc); err != nil {
				return nil, malformed("gif", err)
			}
			if err = g.skipColorTable(imgDesc.Flag); err != nil {
				return nil, malformed("gif", err)
			}
			// LZW minimum code size, then the image data blocks
			if _, err = g.getC(); err == nil {
				err = g.skipBlocks()
			}
			if err != nil {
				return nil, malformed("gif", err)
			}

		case gifIntroExtension:
			if c, err = g.getC(); err != nil {
				return nil, malformed("gif", err)
			}
			if c != gifextApplication {
				if err = g.skipBlocks(); err != nil {
					return nil, malformed("gif", err)
				}
				continue
			}
			var block []byte
			if block, err = g.block(); err != nil {
				return nil, malformed("gif", err)
			}
			if len(block) != 8+3 { // ID + Auth
				return nil, fmt.Errorf("gif: application extension block header size mismatch: %w", errs.ErrMalformed)
			}
			if string(block) == "ICCRGBG1012" {
				if iccProfile, err = g.blocks(); err != nil {
					return nil, malformed("gif", err)
				}
				return iccProfile, nil
			}
			if err = g.skipBlocks(); err != nil {
				return nil, malformed("gif", err)
			}

		default:
			return nil, fmt.Errorf("gif: unknown block type %x: %w", c, errs.ErrMalformed)
		}
	}
}
