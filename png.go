//
// read the header, gamma and embedded ICC profile of a PNG file
//
// PNG spec
// https://www.w3.org/TR/2003/REC-PNG-20031110/
//

package imagecore

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	bst "github.com/mixcode/binarystruct"

	"github.com/mixcode/imagecore/errs"
)

var (
	pngHeader = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a} // PNG file header
)

// PNG image is a list of chunks.
type png struct {
	Chunk       []pngChunk       // chunks appear in the PNG
	ChunkByType map[string][]int // [type] -> [ChunkIdx, ChunkIdx, ...]
}

// a PNG chunk. {DataLen, Type, [DATA], CRC32}
// Value is stored in big-endian.
type pngChunk struct {
	DataLen    int    `binary:"uint32"`  // size of actual data
	Type       string `binary:"[4]byte"` // type is 4-byte char sequence
	DataOffset int64  `binary:"ignore"`  // Offset of actual data in the file stream
}

// PNGInfo is what ScanPNG learns from the chunks before the image data.
type PNGInfo struct {
	Width, Height int
	BitDepth      int
	ColorType     int     // 0 gray, 2 RGB, 3 palette, 4 gray+alpha, 6 RGBA
	Gamma         float64 // gAMA, 0 when absent
	SRGB          bool    // sRGB chunk present
	ICC           []byte  // decompressed iCCP profile, nil when absent
	ICCName       string
}

// Parse PNG and get type, offset and size of chunks
func parsePNG(in io.ReadSeeker) (parsedPNG *png, err error) {
	// read PNG header
	h := make([]byte, len(pngHeader))
	if _, err = io.ReadFull(in, h); err != nil || !bytes.Equal(h, pngHeader) {
		err = fmt.Errorf("png: invalid PNG header: %w", errs.ErrMalformed)
		return
	}

	newPNG := png{
		Chunk:       make([]pngChunk, 0),
		ChunkByType: make(map[string][]int),
	}

	var offset int64
	offset, err = in.Seek(0, io.SeekCurrent)
	if err != nil {
		return
	}
	for {
		// read chunk header
		var ch pngChunk
		_, err = bst.Read(in, bst.BigEndian, &ch)
		if err == io.EOF {
			err = nil
			break
		}
		if err != nil {
			return nil, malformed("png", err)
		}
		ch.DataOffset = offset + 8 // 8: chunk header size

		newPNG.Chunk = append(newPNG.Chunk, ch)
		newPNG.ChunkByType[ch.Type] = append(newPNG.ChunkByType[ch.Type], len(newPNG.Chunk)-1)

		// skip the chunk data and CRC32 value
		offset, err = in.Seek(int64(ch.DataLen+4), io.SeekCurrent) // +4 to skip CRC32 value
		if err != nil {
			return
		}

		if ch.Type == "IEND" || ch.Type == "IDAT" {
			// everything this package reads precedes the image data
			break
		}
	}

	if len(newPNG.Chunk) == 0 || newPNG.Chunk[0].Type != "IHDR" {
		return nil, fmt.Errorf("png: IHDR is not the first chunk: %w", errs.ErrMalformed)
	}
	return &newPNG, nil
}

// crcReader is a reader with a built-in CRC32 calculator
type crcReader struct {
	R      io.Reader
	Crc    hash.Hash32
	ReadSz int
}

// a reader & crc32 calculator
func newCrcReader(r io.Reader) *crcReader {
	return &crcReader{R: r, Crc: crc32.NewIEEE()}
}

// reset CRC calculator
func (c *crcReader) ResetCRC(initialData []byte) {
	c.Crc.Reset()
	c.ReadSz = 0
	if initialData != nil {
		c.Crc.Write(initialData)
	}
}

// read data and update CRC32
func (c *crcReader) Read(p []byte) (n int, err error) {
	n, err = c.R.Read(p)
	i, _ := c.Crc.Write(p[:n])
	c.ReadSz += i
	return
}

// readChunk loads the data of a chunk and verifies its CRC.
func readChunk(in io.ReadSeeker, ch pngChunk) (data []byte, err error) {
	r := newCrcReader(in)
	r.ResetCRC([]byte(ch.Type)) // the CRC covers the type and the data
	if _, err = in.Seek(ch.DataOffset, io.SeekStart); err != nil {
		return
	}
	data = make([]byte, ch.DataLen)
	if _, err = io.ReadFull(r, data); err != nil {
		return nil, malformed("png", err)
	}
	var chunkCRC32 uint32
	if _, err = bst.Read(in, bst.BigEndian, &chunkCRC32); err != nil {
		return nil, malformed("png", err)
	}
	if chunkCRC32 != r.Crc.Sum32() {
		return nil, fmt.Errorf("png: chunk %s has invalid CRC: %w", ch.Type, errs.ErrMalformed)
	}
	return data, nil
}

// ExtractICCFromPNG reads the ICC profile embedded in a PNG file.
// If there is no ICC profile then nil data and no error is returned.
func ExtractICCFromPNG(in io.ReadSeeker) (iccProfile []byte, err error) {
	info, err := ScanPNG(in)
	if err != nil {
		return
	}
	return info.ICC, nil
}

// ScanPNG reads IHDR, gAMA, sRGB and iCCP.
func ScanPNG(in io.ReadSeeker) (info *PNGInfo, err error) {
	img, err := parsePNG(in)
	if err != nil {
		return
	}

	hdr, err := readChunk(in, img.Chunk[0])
	if err != nil {
		return
	}
	var ihdr struct {
		Width, Height int `binary:"uint32"`
		BitDepth      byte
		ColorType     byte
	}
	if _, err = bst.Unmarshal(hdr, bst.BigEndian, &ihdr); err != nil {
		return nil, malformed("png", err)
	}
	if ihdr.Width <= 0 || ihdr.Height <= 0 {
		return nil, fmt.Errorf("png: invalid dimensions %dx%d: %w", ihdr.Width, ihdr.Height, errs.ErrMalformed)
	}
	info = &PNGInfo{Width: ihdr.Width, Height: ihdr.Height, BitDepth: int(ihdr.BitDepth), ColorType: int(ihdr.ColorType)}

	if l := img.ChunkByType["gAMA"]; len(l) > 0 {
		var data []byte
		if data, err = readChunk(in, img.Chunk[l[0]]); err != nil {
			return
		}
		var g uint32
		if _, err = bst.Unmarshal(data, bst.BigEndian, &g); err == nil && g > 0 {
			info.Gamma = 100000 / float64(g) // stored as 1/gamma times 100000
		}
		err = nil
	}
	info.SRGB = len(img.ChunkByType["sRGB"]) > 0

	l := img.ChunkByType["iCCP"] // ICC profile type chunk
	if len(l) < 1 {
		// PNG does not contain an ICC profile
		return info, nil
	}
	data, err := readChunk(in, img.Chunk[l[0]]) // use the first chunk
	if err != nil {
		return
	}

	// read an icc profile chunk
	var iccpChunk struct {
		Name              string `binary:"zstring"` // ICC profile name
		CompressionMethod byte
	}
	sz, err := bst.Unmarshal(data, bst.BigEndian, &iccpChunk)
	if err != nil {
		return nil, malformed("png", err)
	}
	// decompress actual ICC profile chunk
	if iccpChunk.CompressionMethod != 0 {
		return nil, fmt.Errorf("png: unknown compression method %d: %w", iccpChunk.CompressionMethod, errs.ErrMalformed)
	}
	zl, err := zlib.NewReader(bytes.NewReader(data[sz:]))
	if err != nil {
		return nil, malformed("png", err)
	}
	info.ICC, err = io.ReadAll(io.LimitReader(zl, MaxICCSize+1))
	zl.Close()
	if err != nil {
		return nil, malformed("png", err)
	}
	if len(info.ICC) > MaxICCSize {
		return nil, fmt.Errorf("png: iCCP profile inflates past %d bytes: %w", MaxICCSize, errs.ErrMalformed)
	}
	info.ICCName = iccpChunk.Name
	return info, nil
}
