package imagecore

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"testing"

	"github.com/mixcode/imagecore/errs"
)

var testProfile = bytes.Repeat([]byte("fake icc profile payload "), 40)

func jpegSegment(marker byte, payload []byte) []byte {
	seg := []byte{0xff, marker, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))
	return append(seg, payload...)
}

func makeJPEG(icc []byte, chunks int) []byte {
	var b bytes.Buffer
	b.Write([]byte{0xff, markerSOI})
	b.Write(jpegSegment(markerAPP0, []byte("JFIF\x00\x01\x02\x00\x00\x01\x00\x01\x00\x00")))
	b.Write(jpegSegment(markerAPP1, append([]byte("Exif\x00\x00"), "II*\x00\x08\x00\x00\x00\x00\x00"...)))
	step := (len(icc) + chunks - 1) / chunks
	for i := 0; i < chunks; i++ {
		end := (i + 1) * step
		if end > len(icc) {
			end = len(icc)
		}
		payload := append([]byte("ICC_PROFILE\x00"), byte(i+1), byte(chunks))
		b.Write(jpegSegment(markerAPP2, append(payload, icc[i*step:end]...)))
	}
	// 8-bit, 48x32, 3 components
	b.Write(jpegSegment(markerSOF0, []byte{8, 0, 32, 0, 48, 3, 1, 0x22, 0, 2, 0x11, 1, 3, 0x11, 1}))
	b.Write(jpegSegment(markerSOS, []byte{3, 1, 0, 2, 0x11, 3, 0x11, 0, 63, 0}))
	b.Write([]byte{0x12, 0xff, 0x00, 0x34, 0xff, 0xd0, 0x56}) // entropy data with a stuffed byte and RST0
	b.Write([]byte{0xff, markerEOI})
	return b.Bytes()
}

func pngChunkBytes(typ string, data []byte) []byte {
	b := make([]byte, 8, 12+len(data))
	binary.BigEndian.PutUint32(b, uint32(len(data)))
	copy(b[4:], typ)
	b = append(b, data...)
	crc := crc32.ChecksumIEEE(append([]byte(typ), data...))
	return binary.BigEndian.AppendUint32(b, crc)
}

func makePNG(icc []byte) []byte {
	var b bytes.Buffer
	b.Write(pngHeader)
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr, 20)
	binary.BigEndian.PutUint32(ihdr[4:], 10)
	ihdr[8], ihdr[9] = 8, 6
	b.Write(pngChunkBytes("IHDR", ihdr))
	b.Write(pngChunkBytes("gAMA", []byte{0, 0, 0xb1, 0x8f})) // 45455
	if icc != nil {
		var z bytes.Buffer
		zw := zlib.NewWriter(&z)
		zw.Write(icc)
		zw.Close()
		b.Write(pngChunkBytes("iCCP", append([]byte("test profile\x00\x00"), z.Bytes()...)))
	}
	b.Write(pngChunkBytes("IDAT", []byte{1, 2, 3}))
	b.Write(pngChunkBytes("IEND", nil))
	return b.Bytes()
}

func makeGIF(icc []byte) []byte {
	var b bytes.Buffer
	b.WriteString("GIF89a")
	b.Write([]byte{2, 0, 2, 0, 0x80, 0, 0}) // 2x2, 2-entry global color table
	b.Write(make([]byte, 6))
	b.Write([]byte{0x21, 0xf9, 4, 0, 0, 0, 0, 0}) // graphic control
	b.Write([]byte{0x21, 0xff, 11})
	b.WriteString("ICCRGBG1012")
	for rest := icc; len(rest) > 0; {
		n := len(rest)
		if n > 255 {
			n = 255
		}
		b.WriteByte(byte(n))
		b.Write(rest[:n])
		rest = rest[n:]
	}
	b.WriteByte(0)
	b.Write([]byte{0x2c, 0, 0, 0, 0, 2, 0, 2, 0, 0, 2, 2, 0x4c, 0x01, 0, 0x3b})
	return b.Bytes()
}

func makeWebP(icc []byte) []byte {
	var chunks bytes.Buffer
	vp8x := make([]byte, 10)
	vp8x[0] = webpFlagICC
	vp8x[4], vp8x[7] = 99, 49 // 100x50
	riffChunkBytes(&chunks, "VP8X", vp8x)
	riffChunkBytes(&chunks, "ICCP", icc)
	riffChunkBytes(&chunks, "VP8L", []byte{0x2f, 0, 0, 0, 0})

	var b bytes.Buffer
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(4+chunks.Len()))
	b.WriteString("WEBP")
	b.Write(chunks.Bytes())
	return b.Bytes()
}

func riffChunkBytes(b *bytes.Buffer, typ string, data []byte) {
	b.WriteString(typ)
	binary.Write(b, binary.LittleEndian, uint32(len(data)))
	b.Write(data)
	if len(data)%2 == 1 {
		b.WriteByte(0)
	}
}

func makeTIFF(icc []byte) []byte {
	b := make([]byte, 64+len(icc))
	copy(b, "MM\x00*")
	binary.BigEndian.PutUint32(b[4:], 8)
	binary.BigEndian.PutUint16(b[8:], 2)
	// ImageWidth SHORT 1 = 4
	binary.BigEndian.PutUint16(b[10:], 0x100)
	binary.BigEndian.PutUint16(b[12:], 3)
	binary.BigEndian.PutUint32(b[14:], 1)
	binary.BigEndian.PutUint16(b[18:], 4)
	// ICC profile UNDEFINED
	binary.BigEndian.PutUint16(b[22:], 0x8773)
	binary.BigEndian.PutUint16(b[24:], 7)
	binary.BigEndian.PutUint32(b[26:], uint32(len(icc)))
	binary.BigEndian.PutUint32(b[30:], 64)
	copy(b[64:], icc)
	return b
}

func TestExtractICC(t *testing.T) {
	want := crc32.ChecksumIEEE(testProfile)
	for _, tc := range []struct {
		name string
		data []byte
		c    Container
	}{
		{"jpg", makeJPEG(testProfile, 3), ContainerJPEG},
		{"png", makePNG(testProfile), ContainerPNG},
		{"gif", makeGIF(testProfile), ContainerGIF},
		{"webp", makeWebP(testProfile), ContainerWebP},
		{"tiff", makeTIFF(testProfile), ContainerTIFF},
	} {
		icc, c, err := ExtractICC(bytes.NewReader(tc.data))
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if c != tc.c {
			t.Fatalf("%s: container %v", tc.name, c)
		}
		if crc32.ChecksumIEEE(icc) != want {
			t.Fatalf("%s: checksum does not match", tc.name)
		}
	}
}

func TestScanJPEG(t *testing.T) {
	data := makeJPEG(testProfile, 2)
	info, err := ScanJPEG(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if info.Width != 48 || info.Height != 32 || info.Components != 3 {
		t.Fatalf("geometry %+v", info)
	}
	if info.ExifOffset == 0 || string(data[info.ExifOffset:info.ExifOffset+4]) != "II*\x00" {
		t.Fatalf("exif offset %d", info.ExifOffset)
	}
}

func TestScanPNG(t *testing.T) {
	info, err := ScanPNG(bytes.NewReader(makePNG(nil)))
	if err != nil {
		t.Fatal(err)
	}
	if info.Width != 20 || info.Height != 10 || info.ICC != nil {
		t.Fatalf("%+v", info)
	}
	if info.Gamma < 2.19 || info.Gamma > 2.21 {
		t.Fatalf("gamma %v", info.Gamma)
	}
}

func TestScanWebP(t *testing.T) {
	info, err := ScanWebP(bytes.NewReader(makeWebP(testProfile)))
	if err != nil {
		t.Fatal(err)
	}
	if info.Width != 100 || info.Height != 50 || !info.Extended {
		t.Fatalf("%+v", info)
	}
}

func TestScanWebPAtOffset(t *testing.T) {
	prefix := []byte("container prefix")
	r := bytes.NewReader(append(prefix, makeWebP(testProfile)...))
	if _, err := r.Seek(int64(len(prefix)), io.SeekStart); err != nil {
		t.Fatal(err)
	}
	info, err := ScanWebP(r)
	if err != nil {
		t.Fatal(err)
	}
	if info.Width != 100 || info.Height != 50 || !bytes.Equal(info.ICC, testProfile) {
		t.Fatalf("%+v", info)
	}
}

func TestOversizedICCP(t *testing.T) {
	// zeros deflate to a few KiB
	_, err := ScanPNG(bytes.NewReader(makePNG(make([]byte, MaxICCSize+1))))
	if !errors.Is(err, errs.ErrMalformed) {
		t.Fatalf("got %v", err)
	}
	info, err := ScanPNG(bytes.NewReader(makePNG(make([]byte, 4096))))
	if err != nil || len(info.ICC) != 4096 {
		t.Fatalf("got %v", err)
	}
}

func TestCorruptContainers(t *testing.T) {
	png := makePNG(testProfile)
	iccp := bytes.Index(png, []byte("iCCP"))
	png[iccp+20] ^= 0xff

	for name, data := range map[string][]byte{
		"jpg truncated": makeJPEG(testProfile, 2)[:200],
		"png crc":       png,
		"gif header":    []byte("GIF00a\x00\x00\x00\x00\x00\x00\x00"),
		"webp header":   []byte("RIFF\x04\x00\x00\x00WEBX"),
	} {
		if _, _, err := ExtractICC(bytes.NewReader(data)); !errors.Is(err, errs.ErrMalformed) && !errors.Is(err, errs.ErrUnsupported) {
			t.Fatalf("%s: got %v", name, err)
		}
	}
	if _, _, err := ExtractICC(bytes.NewReader([]byte("plain text"))); !errors.Is(err, errs.ErrUnsupported) {
		t.Fatalf("unknown container: %v", err)
	}
}

func TestMissingProfile(t *testing.T) {
	icc, err := ExtractICCFromPNG(bytes.NewReader(makePNG(nil)))
	if err != nil || icc != nil {
		t.Fatalf("got %v %v", icc, err)
	}
}
