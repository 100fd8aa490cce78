package tagreader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/mixcode/imagecore/errs"
)

type testEntry struct {
	id     uint16
	typ    Type
	count  uint32
	inline []byte // up to 4 bytes, used when offset is 0
	offset uint32
}

// testStream is a sparse TIFF image under construction.
type testStream struct {
	order binary.ByteOrder
	buf   []byte
}

func newTestStream(order binary.ByteOrder, size int, firstIFD uint32) *testStream {
	s := &testStream{order: order, buf: make([]byte, size)}
	if order == binary.LittleEndian {
		copy(s.buf, "II")
	} else {
		copy(s.buf, "MM")
	}
	order.PutUint16(s.buf[2:], 42)
	order.PutUint32(s.buf[4:], firstIFD)
	return s
}

// dir writes a directory at pos and returns the position just past it.
func (s *testStream) dir(pos int, entries []testEntry, next uint32) int {
	s.order.PutUint16(s.buf[pos:], uint16(len(entries)))
	p := pos + 2
	for _, e := range entries {
		s.order.PutUint16(s.buf[p:], e.id)
		s.order.PutUint16(s.buf[p+2:], uint16(e.typ))
		s.order.PutUint32(s.buf[p+4:], e.count)
		if e.offset != 0 {
			s.order.PutUint32(s.buf[p+8:], e.offset)
		} else {
			copy(s.buf[p+8:p+12], e.inline)
		}
		p += entrySize
	}
	s.order.PutUint32(s.buf[p:], next)
	return p + 4
}

func (s *testStream) short(v uint16) []byte {
	b := make([]byte, 2)
	s.order.PutUint16(b, v)
	return b
}

func readAll(t *testing.T, r *Reader) (ids []uint16, names []string) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		ok, err := r.Read()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			return
		}
		ids = append(ids, r.EntryID())
		names = append(names, r.DirectoryName())
	}
	t.Fatal("reader did not terminate")
	return
}

func TestDirectoryChaining(t *testing.T) {
	s := newTestStream(binary.LittleEndian, 128, 8)
	p1 := 8
	p2 := p1 + 30
	p3 := p2 + 30
	s.dir(p1, []testEntry{{id: 1, typ: Short, count: 1, inline: s.short(10)}, {id: 2, typ: Short, count: 1, inline: s.short(20)}}, uint32(p2))
	s.dir(p2, []testEntry{{id: 3, typ: Short, count: 1, inline: s.short(30)}, {id: 4, typ: Short, count: 1, inline: s.short(40)}}, uint32(p3))
	s.dir(p3, []testEntry{{id: 5, typ: Short, count: 1, inline: s.short(50)}, {id: 6, typ: Short, count: 1, inline: s.short(60)}}, 0)

	r, err := New(bytes.NewReader(s.buf))
	if err != nil {
		t.Fatal(err)
	}

	var indexes []int
	for want := uint16(1); want <= 6; want++ {
		ok, err := r.Read()
		if err != nil || !ok {
			t.Fatalf("entry %d: ok=%v err=%v", want, ok, err)
		}
		if r.EntryID() != want || r.DirectoryName() != RootDirectory {
			t.Fatalf("got entry %d in %q, want %d", r.EntryID(), r.DirectoryName(), want)
		}
		v, err := r.Int()
		if err != nil || v != int64(want)*10 {
			t.Fatalf("entry %d value %d, err %v", want, v, err)
		}
		indexes = append(indexes, r.DirectoryIndex())
	}
	if indexes[0] != 0 || indexes[2] != 1 || indexes[5] != 2 {
		t.Fatalf("directory indexes %v", indexes)
	}
	for i := 0; i < 3; i++ {
		ok, err := r.Read()
		if ok || err != nil {
			t.Fatalf("read after exhaustion: ok=%v err=%v", ok, err)
		}
	}
}

// Offsets in an enqueued sub-directory resolve against the reader's initial
// position, not the sub-directory position and not the stream start.
func TestOffsetBase(t *testing.T) {
	const prefix = 64
	s := newTestStream(binary.BigEndian, 330, 8)
	s.dir(8, []testEntry{
		{id: TagMake, typ: ASCII, count: 9, offset: 200},
		{id: TagExifIFD, typ: Long, count: 1, inline: []byte{0, 0, 0, 100}},
	}, 0)
	s.dir(100, []testEntry{{id: 0x9000, typ: ASCII, count: 9, offset: 216}}, 0)
	copy(s.buf[200:], "ROOTDATA\x00")
	copy(s.buf[216:], "SUBDATA!\x00")
	copy(s.buf[216-prefix:], "WRONG-A\x00\x00") // resolved against the stream start
	copy(s.buf[100+216:], "WRONG-B\x00\x00")    // resolved against the sub-directory

	stream := append(bytes.Repeat([]byte{0xee}, prefix), s.buf...)
	in := bytes.NewReader(stream)
	in.Seek(prefix, io.SeekStart)

	r, err := New(in)
	if err != nil {
		t.Fatal(err)
	}
	if r.InitialPosition() != prefix {
		t.Fatalf("initial position %d", r.InitialPosition())
	}

	got := map[string]string{}
	for {
		ok, err := r.Read()
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			break
		}
		switch r.EntryID() {
		case TagExifIFD:
			if err := r.EnqueueDirectory(r.EntryOffset(), "Exif"); err != nil {
				t.Fatal(err)
			}
		default:
			s, err := r.String()
			if err != nil {
				t.Fatal(err)
			}
			got[r.DirectoryName()] = s
		}
	}
	if got[RootDirectory] != "ROOTDATA" {
		t.Fatalf("root data %q", got[RootDirectory])
	}
	if got["Exif"] != "SUBDATA!" {
		t.Fatalf("sub-directory data %q", got["Exif"])
	}
}

func TestInvalidHeader(t *testing.T) {
	for _, b := range [][]byte{
		[]byte("XX\x2a\x00\x08\x00\x00\x00"),
		[]byte("II\x2b\x00\x08\x00\x00\x00"),
		[]byte("II\x2a"),
	} {
		if _, err := New(bytes.NewReader(b)); !errors.Is(err, errs.ErrMalformed) {
			t.Fatalf("%q: got %v", b, err)
		}
	}
}

func TestBrokenEntriesDoNotStopTheWalk(t *testing.T) {
	s := newTestStream(binary.LittleEndian, 96, 8)
	s.dir(8, []testEntry{
		{id: 1, typ: Long, count: 64, offset: 4000}, // data past end of stream
		{id: 2, typ: 99, count: 1},                  // unknown type
		{id: 3, typ: Short, count: 1, inline: s.short(7)},
	}, 8) // links to itself

	r, err := New(bytes.NewReader(s.buf))
	if err != nil {
		t.Fatal(err)
	}
	ids, _ := readAll(t, r)
	if len(ids) != 3 {
		t.Fatalf("entries %v", ids)
	}

	r, _ = New(bytes.NewReader(s.buf))
	r.Read()
	if _, err := r.EntryData(); !errors.Is(err, errs.ErrMalformed) {
		t.Fatalf("out of range data: %v", err)
	}
	r.Read()
	if _, err := r.EntryData(); !errors.Is(err, errs.ErrMalformed) {
		t.Fatalf("unknown type: %v", err)
	}
	r.Read()
	if v, err := r.Int(); err != nil || v != 7 {
		t.Fatalf("value after failures: %d %v", v, err)
	}
}

func TestBrokenDirectoryIsDropped(t *testing.T) {
	s := newTestStream(binary.LittleEndian, 64, 8)
	s.dir(8, []testEntry{{id: 1, typ: Short, count: 1, inline: s.short(1)}}, 0)
	s.order.PutUint16(s.buf[40:], 500) // 500 entries do not fit

	r, err := New(bytes.NewReader(s.buf))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.EnqueueDirectory(40, "SubIFD"); err != nil {
		t.Fatal(err)
	}
	if err := r.EnqueueDirectory(4000, "SubIFD"); !errors.Is(err, errs.ErrMalformed) {
		t.Fatalf("enqueue past end: %v", err)
	}

	if ok, err := r.Read(); !ok || err != nil {
		t.Fatalf("first entry: %v %v", ok, err)
	}
	if ok, err := r.Read(); ok || !errors.Is(err, errs.ErrMalformed) {
		t.Fatalf("broken directory: %v %v", ok, err)
	}
	if ok, err := r.Read(); ok || err != nil {
		t.Fatalf("after broken directory: %v %v", ok, err)
	}
}

func TestTypedValues(t *testing.T) {
	s := newTestStream(binary.BigEndian, 128, 8)
	s.dir(8, []testEntry{
		{id: 10, typ: Rational, count: 2, offset: 80},
		{id: 11, typ: SShort, count: 2, inline: []byte{0xff, 0xfe, 0x00, 0x05}},
		{id: 12, typ: Float, count: 1, inline: []byte{0x3f, 0xc0, 0, 0}},
		{id: 13, typ: ASCII, count: 4, inline: []byte{'N', 0xe9, 'F', 0}},
	}, 0)
	binary.BigEndian.PutUint32(s.buf[80:], 1)
	binary.BigEndian.PutUint32(s.buf[84:], 4)
	binary.BigEndian.PutUint32(s.buf[88:], 3)
	binary.BigEndian.PutUint32(s.buf[92:], 0)

	r, err := New(bytes.NewReader(s.buf))
	if err != nil {
		t.Fatal(err)
	}
	if r.ByteOrder() != binary.BigEndian {
		t.Fatal("byte order")
	}

	r.Read()
	f, err := r.Floats()
	if err != nil || len(f) != 2 || f[0] != 0.25 || f[1] != 0 {
		t.Fatalf("rationals %v %v", f, err)
	}
	r.Read()
	n, err := r.Ints()
	if err != nil || len(n) != 2 || n[0] != -2 || n[1] != 5 {
		t.Fatalf("sshorts %v %v", n, err)
	}
	r.Read()
	f, err = r.Floats()
	if err != nil || len(f) != 1 || f[0] != 1.5 {
		t.Fatalf("float %v %v", f, err)
	}
	r.Read()
	str, err := r.String()
	if err != nil || str != "NéF" {
		t.Fatalf("ascii %q %v", str, err)
	}
	if _, err := r.Ints(); err == nil {
		t.Fatal("ASCII read as integers")
	}
}

func TestIntegerValues(t *testing.T) {
	s := newTestStream(binary.LittleEndian, 128, 8)
	s.dir(8, []testEntry{
		{id: 256, typ: Short, count: 1, inline: s.short(640)},
		{id: 258, typ: Short, count: 3, offset: 80},
		{id: 20, typ: Byte, count: 3, inline: []byte{1, 2, 255}},
		{id: 21, typ: Long, count: 1, inline: []byte{0x00, 0x00, 0x01, 0x00}},
		{id: 22, typ: SByte, count: 2, inline: []byte{0xff, 0x7f}},
		{id: 23, typ: SLong, count: 1, inline: []byte{0xfd, 0xff, 0xff, 0xff}},
	}, 0)
	s.order.PutUint16(s.buf[80:], 8)
	s.order.PutUint16(s.buf[82:], 16)
	s.order.PutUint16(s.buf[84:], 65535)

	r, err := New(bytes.NewReader(s.buf))
	if err != nil {
		t.Fatal(err)
	}
	want := [][]int64{{640}, {8, 16, 65535}, {1, 2, 255}, {65536}, {-1, 127}, {-3}}
	for i, w := range want {
		if ok, err := r.Read(); !ok || err != nil {
			t.Fatalf("entry %d: %v", i, err)
		}
		n, err := r.Ints()
		if err != nil || len(n) != len(w) {
			t.Fatalf("entry %d: %v %v", i, n, err)
		}
		for j := range w {
			if n[j] != w[j] {
				t.Fatalf("entry %d: got %v, want %v", i, n, w)
			}
		}
		if i == 0 {
			if v, err := r.Uint(); err != nil || v != 640 {
				t.Fatalf("width %d %v", v, err)
			}
		}
	}
}
