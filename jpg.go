//
// walk the segments of a jpg file: frame geometry, Exif block and
// embedded ICC profile
//
// jpeg/JFIF format spec
// https://www.iso.org/standard/54989.html
//

package imagecore

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/mixcode/imagecore/errs"
	"github.com/mixcode/imagecore/internal/logging"
)

const (
	// jpeg markers
	markerSOF0  = 0xc0 // Start Of Frame (Baseline Sequential).
	markerSOF1  = 0xc1 // Start Of Frame (Extended Sequential).
	markerSOF2  = 0xc2 // Start Of Frame (Progressive).
	markerRST0  = 0xd0 // ReSTart (0).
	markerRST7  = 0xd7 // ReSTart (7).
	markerSOI   = 0xd8 // Start Of Image.
	markerEOI   = 0xd9 // End Of Image.
	markerSOS   = 0xda // Start Of Scan.
	markerAPP0  = 0xe0
	markerAPP1  = 0xe1 // Exif
	markerAPP2  = 0xe2 // ICC_PROFILE
	markerAPP14 = 0xee
)

// JPEGInfo is what ScanJPEG learns from the segment headers.
type JPEGInfo struct {
	Width, Height int
	Components    int   // 1: gray, 3: YCbCr/RGB, 4: YCCK/CMYK
	Progressive   bool  // SOF2
	ExifOffset    int64 // stream offset of the TIFF header inside APP1, 0 when absent
	ExifLength    int64
	ICC           []byte // reassembled APP2 ICC profile, nil when absent
}

// ExtractICCFromJPEG reads the ICC profile embedded in a JPG file.
// If there is no ICC profile then nil data and no error is returned.
func ExtractICCFromJPEG(in io.ReadSeeker) (iccProfile []byte, err error) {
	info, err := ScanJPEG(in)
	if err != nil {
		return
	}
	return info.ICC, nil
}

// ScanJPEG walks the segments of a JPG stream up to the end of image.
// Offsets in the result are absolute stream positions.
func ScanJPEG(in io.ReadSeeker) (info *JPEGInfo, err error) {
	log := logging.Default()
	buf := make([]byte, 16)

	// Read jpg SOI
	if _, err = io.ReadFull(in, buf[:2]); err != nil {
		return nil, malformed("jpg", err)
	}
	if buf[0] != 0xff || buf[1] != markerSOI { // 0xff 0xd8, Start of Image marker
		return nil, fmt.Errorf("jpg: start-of-image marker not found: %w", errs.ErrMalformed)
	}

	info = &JPEGInfo{}
	var iccData *bytes.Buffer
	var iccLastIndex, iccIndexMax int

	for {
		// read segment marker
		if _, err = io.ReadFull(in, buf[:2]); err != nil {
			if info.Components != 0 && (err == io.EOF || err == io.ErrUnexpectedEOF) {
				// missing EOI; the headers are complete
				log.Debug("jpg: stream ends without EOI marker")
				break
			}
			return nil, malformed("jpg", err)
		}
		if buf[0] != 0xff {
			log.Warn("jpg: unaligned segment header")
		}
		for buf[0] != 0xff {
			buf[0] = buf[1]
			if _, err = io.ReadFull(in, buf[1:2]); err != nil {
				return nil, malformed("jpg", err)
			}
		}
		marker := buf[1]
		if marker == 0xff { // fill byte
			in.Seek(-1, io.SeekCurrent)
			continue
		}
		if marker == markerEOI {
			break
		}
		if markerRST0 <= marker && marker <= markerRST7 {
			continue
		}

		// read segment length
		if _, err = io.ReadFull(in, buf[:2]); err != nil {
			return nil, malformed("jpg", err)
		}
		segLen := int(buf[0])<<8 + int(buf[1]) - 2 // segment length includes the length itself
		if segLen < 0 {
			return nil, fmt.Errorf("jpg: segment 0x%02x has negative length: %w", marker, errs.ErrMalformed)
		}

		switch marker {
		case markerAPP1: // possible Exif block
			if segLen >= 6 {
				if _, err = io.ReadFull(in, buf[:6]); err != nil {
					return nil, malformed("jpg", err)
				}
				segLen -= 6
				if string(buf[:6]) == "Exif\x00\x00" && info.ExifOffset == 0 {
					if info.ExifOffset, err = in.Seek(0, io.SeekCurrent); err != nil {
						return
					}
					info.ExifLength = int64(segLen)
				}
			}

		case markerAPP2: // APP2 markers may contain a ICC profile
			if segLen >= 0x0e { // {"ICC_PROFILE\0", chunknum, chunkmax}
				// read ICC_PROFILE chunk header
				if _, err = io.ReadFull(in, buf[:0x0e]); err != nil {
					return nil, malformed("jpg", err)
				}
				segLen -= 0x0e
				if string(buf[:0x0c]) == "ICC_PROFILE\x00" && iccLastIndex != iccIndexMax+1 {
					// max size of a segment is around 64KBytes, so large data is divided into multiple segs
					idx, count := int(buf[0x0c]), int(buf[0x0d])
					if count == 0 {
						return nil, fmt.Errorf("jpg: icc profile segment count is zero: %w", errs.ErrMalformed)
					}
					if iccIndexMax == 0 {
						iccIndexMax = count
					}
					if iccIndexMax != count {
						return nil, fmt.Errorf("jpg: icc profile segment count mismatch: %w", errs.ErrMalformed)
					}
					if idx != iccLastIndex+1 {
						return nil, fmt.Errorf("jpg: icc profile segments are not linearly stored: %w", errs.ErrMalformed)
					}
					if iccData == nil {
						iccData = new(bytes.Buffer)
					}
					if _, err = io.CopyN(iccData, in, int64(segLen)); err != nil {
						return nil, malformed("jpg", err)
					}
					segLen = 0
					iccLastIndex++
					if iccLastIndex == iccIndexMax {
						info.ICC = iccData.Bytes()
						if len(info.ICC) == 0 {
							info.ICC = nil
						}
						iccLastIndex = iccIndexMax + 1 // done; later chunks are ignored
					}
				}
			}

		case markerSOF0, markerSOF1, markerSOF2: // Start of Frame
			if info.Components != 0 {
				return nil, fmt.Errorf("jpg: multiple SOF markers: %w", errs.ErrMalformed)
			}
			if segLen < 6 {
				return nil, fmt.Errorf("jpg: SOF has wrong length: %w", errs.ErrMalformed)
			}
			if _, err = io.ReadFull(in, buf[:6]); err != nil {
				return nil, malformed("jpg", err)
			}
			segLen -= 6
			// {precision, height[2], width[2], components}
			info.Height = int(buf[1])<<8 + int(buf[2])
			info.Width = int(buf[3])<<8 + int(buf[4])
			info.Components = int(buf[5])
			info.Progressive = marker == markerSOF2
			if segLen != 3*info.Components {
				return nil, fmt.Errorf("jpg: SOF has wrong length: %w", errs.ErrMalformed)
			}

		case markerSOS: // start-of-scan
			if _, err = skipSOS(in, info.Components, segLen); err != nil {
				return nil, err
			}
			segLen = 0
		}

		if segLen > 0 {
			if _, err = in.Seek(int64(segLen), io.SeekCurrent); err != nil {
				return nil, malformed("jpg", err)
			}
		}
	}

	if info.Components == 0 {
		return nil, fmt.Errorf("jpg: no SOF marker: %w", errs.ErrMalformed)
	}
	return info, nil
}

// skip a Start of Scan segment and its entropy-coded data
func skipSOS(in io.ReadSeeker, numComponents int, headerLen int) (n int, err error) {
	if numComponents == 0 {
		err = fmt.Errorf("jpg: no SOF marker before SOS: %w", errs.ErrMalformed)
		return
	}
	if headerLen < 6 || headerLen > 4+2*numComponents || headerLen%2 != 0 {
		err = fmt.Errorf("jpg: SOS has wrong length: %w", errs.ErrMalformed)
		return
	}

	// save current position
	offset, err := in.Seek(0, io.SeekCurrent)
	if err != nil {
		return
	}
	readSz := 0

	// read start-of-scan segment header
	buf := make([]byte, headerLen)
	i, err := io.ReadFull(in, buf)
	if err != nil {
		err = malformed("jpg", err)
		return
	}
	readSz += i

	// Scan for next chunk header, 0xff 0xXX
	br := bufio.NewReader(in)
	var prevByte, c byte
	for {
		prevByte = c
		c, err = br.ReadByte()
		if err != nil {
			err = malformed("jpg", err)
			return
		}
		readSz++
		// in entropy encoding, 0xff 00 is a single-byte 0xff
		// 0xff followed by a non-zero byte other than RSTn is a segment header
		if prevByte == 0xff && c != 0 && !(markerRST0 <= c && c <= markerRST7) && c != 0xff {
			break
		}
	}

	readSz -= 2
	if _, err = in.Seek(offset+int64(readSz), io.SeekStart); err != nil {
		return
	}
	return readSz, nil
}

func malformed(container string, err error) error {
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%s: %v: %w", container, err, errs.ErrMalformed)
}
