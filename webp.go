//
// read the canvas size and embedded ICC profile of a WebP file
//
// WebP container spec
// https://developers.google.com/speed/webp/docs/riff_container
//

package imagecore

import (
	"fmt"
	"io"

	bst "github.com/mixcode/binarystruct"

	"github.com/mixcode/imagecore/errs"
)

const (
	webpFlagICC = 0x20 // VP8X: ICC profile present
)

// a RIFF chunk header. Values are little-endian.
type riffChunk struct {
	Type    string `binary:"[4]byte"`
	DataLen int    `binary:"uint32"`
}

// WebPInfo is what ScanWebP learns from the RIFF chunks.
type WebPInfo struct {
	Width, Height int
	Extended      bool   // VP8X container
	Lossless      bool   // VP8L bitstream
	ICC           []byte // ICCP chunk, nil when absent
}

// ExtractICCFromWebP reads the ICC profile embedded in a WebP file.
// If there is no ICC profile then nil data and no error is returned.
func ExtractICCFromWebP(in io.ReadSeeker) (iccProfile []byte, err error) {
	info, err := ScanWebP(in)
	if err != nil {
		return
	}
	return info.ICC, nil
}

// ScanWebP walks the chunks of a RIFF/WEBP stream.
func ScanWebP(in io.ReadSeeker) (info *WebPInfo, err error) {
	start, err := in.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	var riff struct {
		Magic string `binary:"[4]byte"` // "RIFF"
		Size  int64  `binary:"uint32"`
		Form  string `binary:"[4]byte"` // "WEBP"
	}
	if _, err = bst.Read(in, bst.LittleEndian, &riff); err != nil {
		return nil, malformed("webp", err)
	}
	if riff.Magic != "RIFF" || riff.Form != "WEBP" {
		return nil, fmt.Errorf("webp: invalid RIFF header: %w", errs.ErrMalformed)
	}
	end := start + riff.Size + 8

	info = &WebPInfo{}
	pos := start + 12
	buf := make([]byte, 10)
	for pos+8 <= end {
		if _, err = in.Seek(pos, io.SeekStart); err != nil {
			return
		}
		var ch riffChunk
		if _, err = bst.Read(in, bst.LittleEndian, &ch); err != nil {
			if err == io.EOF && info.Width > 0 {
				// truncated trailer; the headers are complete
				break
			}
			return nil, malformed("webp", err)
		}
		dataLen := int64(ch.DataLen)

		switch ch.Type {
		case "VP8X":
			if dataLen < 10 {
				return nil, fmt.Errorf("webp: VP8X chunk too short: %w", errs.ErrMalformed)
			}
			if _, err = io.ReadFull(in, buf[:10]); err != nil {
				return nil, malformed("webp", err)
			}
			// {flags, reserved[3], canvasWidth-1[3], canvasHeight-1[3]}
			info.Extended = true
			info.Width = 1 + (int(buf[4]) | int(buf[5])<<8 | int(buf[6])<<16)
			info.Height = 1 + (int(buf[7]) | int(buf[8])<<8 | int(buf[9])<<16)
			if buf[0]&webpFlagICC == 0 {
				return info, nil
			}

		case "ICCP":
			info.ICC = make([]byte, dataLen)
			if _, err = io.ReadFull(in, info.ICC); err != nil {
				return nil, malformed("webp", err)
			}
			return info, nil

		case "VP8 ":
			if dataLen < 10 {
				return nil, fmt.Errorf("webp: VP8 chunk too short: %w", errs.ErrMalformed)
			}
			if _, err = io.ReadFull(in, buf[:10]); err != nil {
				return nil, malformed("webp", err)
			}
			// {frame tag[3], start code 9d 01 2a, width[2], height[2]}
			if buf[3] != 0x9d || buf[4] != 0x01 || buf[5] != 0x2a {
				return nil, fmt.Errorf("webp: missing VP8 start code: %w", errs.ErrMalformed)
			}
			if !info.Extended {
				info.Width = (int(buf[6]) | int(buf[7])<<8) & 0x3fff
				info.Height = (int(buf[8]) | int(buf[9])<<8) & 0x3fff
			}
			return info, nil

		case "VP8L":
			if dataLen < 5 {
				return nil, fmt.Errorf("webp: VP8L chunk too short: %w", errs.ErrMalformed)
			}
			if _, err = io.ReadFull(in, buf[:5]); err != nil {
				return nil, malformed("webp", err)
			}
			if buf[0] != 0x2f {
				return nil, fmt.Errorf("webp: missing VP8L signature: %w", errs.ErrMalformed)
			}
			info.Lossless = true
			if !info.Extended {
				bits := uint32(buf[1]) | uint32(buf[2])<<8 | uint32(buf[3])<<16 | uint32(buf[4])<<24
				info.Width = int(bits&0x3fff) + 1
				info.Height = int(bits>>14&0x3fff) + 1
			}
			return info, nil
		}

		// chunks are padded to an even size
		pos += 8 + dataLen + dataLen&1
	}

	if info.Width == 0 {
		return nil, fmt.Errorf("webp: no image chunk: %w", errs.ErrMalformed)
	}
	return info, nil
}
