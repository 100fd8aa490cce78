//
// ICC matrix/TRC profile reading and writing
//
// ICC specification
// https://www.color.org/specification/ICC.1-2022-05.pdf
//

package colorspace

import (
	"fmt"
	"io"
	"math"
	"strings"

	bst "github.com/mixcode/binarystruct"
	"golang.org/x/text/encoding/unicode"

	"github.com/mixcode/imagecore"
	"github.com/mixcode/imagecore/errs"
)

const iccHeaderSize = 128

// PCS illuminant of every ICC profile
var pcsWhite = Vector3{0.9642, 1.0, 0.8249}

// ICC profile header
type iccHeader struct {
	Size         int `binary:"uint32"`
	CMM          [4]byte
	Version      uint32
	Class        string `binary:"[4]byte"` // profile/device class
	DataSpace    string `binary:"[4]byte"` // color space of the data
	PCS          string `binary:"[4]byte"` // profile connection space
	Created      [12]byte
	Signature    string `binary:"[4]byte"` // always "acsp"
	Platform     [4]byte
	Flags        uint32
	Manufacturer [4]byte
	Model        uint32
	Attributes   uint64
	Intent       uint32
	IlluminantX  int32
	IlluminantY  int32
	IlluminantZ  int32
	Creator      [4]byte
	ID           [16]byte
	Reserved     [28]byte
}

// an entry of the tag table
type iccTag struct {
	Sig    string `binary:"[4]byte"`
	Offset int    `binary:"uint32"` // from the start of the profile
	Size   int    `binary:"uint32"`
}

type iccTagTable struct {
	Count int      `binary:"uint32"`
	Tags  []iccTag `binary:"[Count]"`
}

// every tag element starts with its type signature
type iccTypeHeader struct {
	Type     string `binary:"[4]byte"`
	Reserved uint32
}

func malformedICC(format string, a ...any) error {
	return fmt.Errorf("colorspace: icc: %s: %w", fmt.Sprintf(format, a...), errs.ErrMalformed)
}

func s15Fixed16(v int64) float64 { return float64(int32(v)) / 65536 }

func toS15Fixed16(v float64) int64 { return int64(int32(math.Round(v * 65536))) }

type iccProfile struct {
	data   []byte
	header iccHeader
	tags   map[string][]byte
}

func parseICCTags(data []byte) (p *iccProfile, err error) {
	if len(data) < iccHeaderSize+4 {
		return nil, malformedICC("short profile, %d bytes", len(data))
	}
	p = &iccProfile{data: data, tags: make(map[string][]byte)}
	if _, err = bst.Unmarshal(data[:iccHeaderSize], bst.BigEndian, &p.header); err != nil {
		return nil, malformedICC("%v", err)
	}
	if p.header.Signature != "acsp" {
		return nil, malformedICC("bad signature %q", p.header.Signature)
	}
	if p.header.Size > len(data) || p.header.Size < iccHeaderSize+4 {
		return nil, malformedICC("declared size %d, have %d bytes", p.header.Size, len(data))
	}
	data = data[:p.header.Size]

	var count struct {
		N int `binary:"uint32"`
	}
	if _, err = bst.Unmarshal(data[iccHeaderSize:iccHeaderSize+4], bst.BigEndian, &count); err != nil {
		return nil, malformedICC("%v", err)
	}
	if iccHeaderSize+4+count.N*12 > len(data) {
		return nil, malformedICC("tag table of %d entries past end of profile", count.N)
	}
	var table iccTagTable
	if _, err = bst.Unmarshal(data[iccHeaderSize:iccHeaderSize+4+count.N*12], bst.BigEndian, &table); err != nil {
		return nil, malformedICC("%v", err)
	}
	for _, t := range table.Tags {
		if t.Size < 8 || t.Offset+t.Size > len(data) {
			return nil, malformedICC("tag %q at [%d,+%d) past end of profile", t.Sig, t.Offset, t.Size)
		}
		p.tags[t.Sig] = data[t.Offset : t.Offset+t.Size]
	}
	return p, nil
}

func tagType(b []byte) (string, error) {
	var h iccTypeHeader
	if _, err := bst.Unmarshal(b[:8], bst.BigEndian, &h); err != nil {
		return "", malformedICC("%v", err)
	}
	return h.Type, nil
}

// s15Fixed16Array decodes the values after the type header
func s15Fixed16Array(b []byte, n int) (v []float64, err error) {
	if len(b) < 8+4*n {
		return nil, malformedICC("short %q element", b[:4])
	}
	// bst fills a slice only up to its existing length
	l := struct {
		N []int64 `binary:"[]int32"`
	}{make([]int64, n)}
	if _, err = bst.Unmarshal(b[8:8+4*n], bst.BigEndian, &l); err != nil {
		return nil, malformedICC("%v", err)
	}
	v = make([]float64, len(l.N))
	for i, x := range l.N {
		v[i] = s15Fixed16(x)
	}
	return
}

func (p *iccProfile) xyz(sig string) (v Vector3, ok bool, err error) {
	b, ok := p.tags[sig]
	if !ok {
		return
	}
	if t, e := tagType(b); e != nil || t != "XYZ " {
		return v, false, malformedICC("tag %q is not an XYZ element", sig)
	}
	f, err := s15Fixed16Array(b, 3)
	if err != nil {
		return
	}
	if len(f) != 3 {
		return v, false, malformedICC("tag %q has %d values", sig, len(f))
	}
	return Vector3{f[0], f[1], f[2]}, true, nil
}

func (p *iccProfile) chad() (m Matrix3, ok bool, err error) {
	b, ok := p.tags["chad"]
	if !ok {
		return
	}
	if t, e := tagType(b); e != nil || t != "sf32" {
		return m, false, malformedICC("chad is not an sf32 element")
	}
	f, err := s15Fixed16Array(b, 9)
	if err != nil {
		return
	}
	if len(f) != 9 {
		return m, false, malformedICC("chad has %d values", len(f))
	}
	copy(m[:], f)
	return m, true, nil
}

func (p *iccProfile) trc(sig string) (t TransferFunction, err error) {
	b, ok := p.tags[sig]
	if !ok {
		err = fmt.Errorf("colorspace: icc: no %s tag: %w", sig, errs.ErrUnsupported)
		return
	}
	typ, err := tagType(b)
	if err != nil {
		return
	}
	switch typ {
	case "curv":
		var h struct {
			Count int `binary:"uint32"`
		}
		if len(b) < 12 {
			return t, malformedICC("short curv element")
		}
		if _, err = bst.Unmarshal(b[8:12], bst.BigEndian, &h); err != nil {
			return t, malformedICC("%v", err)
		}
		if len(b) < 12+2*h.Count {
			return t, malformedICC("curv of %d entries past end of tag", h.Count)
		}
		l := struct {
			N []uint16 `binary:"[]uint16"`
		}{make([]uint16, h.Count)}
		if _, err = bst.Unmarshal(b[12:12+2*h.Count], bst.BigEndian, &l); err != nil {
			return t, malformedICC("%v", err)
		}
		if len(l.N) != h.Count {
			return t, malformedICC("curv has %d of %d entries", len(l.N), h.Count)
		}
		return Sampled(l.N), nil

	case "para":
		var h struct {
			FuncType int `binary:"uint16"`
			Reserved uint16
		}
		if len(b) < 12 {
			return t, malformedICC("short para element")
		}
		if _, err = bst.Unmarshal(b[8:12], bst.BigEndian, &h); err != nil {
			return t, malformedICC("%v", err)
		}
		if h.FuncType < 0 || h.FuncType >= len(paramCount) {
			return t, fmt.Errorf("colorspace: icc: parametric curve type %d: %w", h.FuncType, errs.ErrUnsupported)
		}
		var params []float64
		if params, err = s15Fixed16Array(b[4:], paramCount[h.FuncType]); err != nil {
			return
		}
		if len(params) != paramCount[h.FuncType] {
			return t, malformedICC("parametric curve has %d values", len(params))
		}
		return Parametric(h.FuncType, params...)
	}
	err = fmt.Errorf("colorspace: icc: %s of type %q: %w", sig, typ, errs.ErrUnsupported)
	return
}

// description from a v2 desc or a v4 mluc element
func (p *iccProfile) description() string {
	b, ok := p.tags["desc"]
	if !ok || len(b) < 12 {
		return ""
	}
	typ, err := tagType(b)
	if err != nil {
		return ""
	}
	switch typ {
	case "desc":
		var h struct {
			Count int `binary:"uint32"`
		}
		if _, err = bst.Unmarshal(b[8:12], bst.BigEndian, &h); err != nil || 12+h.Count > len(b) {
			return ""
		}
		return strings.TrimRight(string(b[12:12+h.Count]), "\x00")

	case "mluc":
		var h struct {
			Count      int    `binary:"uint32"`
			RecordSize int    `binary:"uint32"`
			Lang       string `binary:"[4]byte"`
			Length     int    `binary:"uint32"`
			Offset     int    `binary:"uint32"`
		}
		if len(b) < 28 {
			return ""
		}
		if _, err = bst.Unmarshal(b[8:28], bst.BigEndian, &h); err != nil || h.Count == 0 {
			return ""
		}
		if h.Offset+h.Length > len(b) {
			return ""
		}
		s, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder().Bytes(b[h.Offset : h.Offset+h.Length])
		if err != nil {
			return ""
		}
		return strings.TrimRight(string(s), "\x00")
	}
	return ""
}

// ParseICC builds a working space from an RGB matrix/TRC ICC profile.
// Colorants are brought back from the D50 connection space to the
// profile's own white point through its chad tag, or through a Bradford
// adaptation to its media white point when chad is absent.
func ParseICC(data []byte) (cs *ColorSpace, err error) {
	p, err := parseICCTags(data)
	if err != nil {
		return
	}
	if p.header.DataSpace != "RGB " {
		return nil, fmt.Errorf("colorspace: icc: %q data: %w", p.header.DataSpace, errs.ErrUnsupported)
	}
	if p.header.PCS != "XYZ " {
		return nil, fmt.Errorf("colorspace: icc: %q connection space: %w", p.header.PCS, errs.ErrUnsupported)
	}

	var m Matrix3
	for i, sig := range []string{"rXYZ", "gXYZ", "bXYZ"} {
		v, ok, e := p.xyz(sig)
		if e != nil {
			return nil, e
		}
		if !ok {
			return nil, fmt.Errorf("colorspace: icc: no %s tag, not a matrix profile: %w", sig, errs.ErrUnsupported)
		}
		m[i], m[3+i], m[6+i] = v[0], v[1], v[2]
	}

	chad, hasChad, err := p.chad()
	if err != nil {
		return
	}
	wtpt, hasWtpt, err := p.xyz("wtpt")
	if err != nil {
		return
	}
	switch {
	case hasChad:
		inv, ok := chad.Inverse()
		if !ok {
			return nil, malformedICC("singular chad matrix")
		}
		m = inv.Multiply(m)
	case hasWtpt && chromaticityOf(wtpt) != chromaticityOf(pcsWhite):
		m = ChromaticAdaptation(pcsWhite, wtpt).Multiply(m)
	}

	rTRC, err := p.trc("rTRC")
	if err != nil {
		return
	}
	for _, sig := range []string{"gTRC", "bTRC"} {
		t, e := p.trc(sig)
		if e != nil {
			return nil, e
		}
		if !t.Equal(rTRC) {
			return nil, fmt.Errorf("colorspace: icc: per-channel tone curves: %w", errs.ErrUnsupported)
		}
	}

	name := p.description()
	if name == "" {
		name = "ICC profile"
	}
	return FromMatrix(name, m, rTRC)
}

// LoadICC extracts the embedded profile of a JPEG, PNG, GIF, WebP or TIFF
// stream and resolves it through the default registry.
func LoadICC(in io.ReadSeeker) (cs *ColorSpace, err error) {
	data, _, err := imagecore.ExtractICC(in)
	if err != nil {
		return
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("colorspace: no embedded profile: %w", errs.ErrUnsupported)
	}
	if cs, err = ParseICC(data); err != nil {
		return
	}
	return DefaultRegistry().Intern(cs), nil
}

// ICC encodes cs as a version 4 display profile with parametric or
// sampled tone curves.
func (cs *ColorSpace) ICC() ([]byte, error) {
	return cs.encodeICC(true)
}

func (cs *ColorSpace) encodeICC(withChad bool) (out []byte, err error) {
	type element struct {
		sigs []string
		data []byte
	}
	var elements []element
	add := func(data []byte, sigs ...string) {
		for len(data)%4 != 0 {
			data = append(data, 0)
		}
		elements = append(elements, element{sigs, data})
	}
	s15 := func(typ string, v ...float64) ([]byte, error) {
		l := struct {
			Type     string `binary:"[4]byte"`
			Reserved uint32
			N        []int64 `binary:"[]int32"`
		}{Type: typ}
		for _, x := range v {
			l.N = append(l.N, toS15Fixed16(x))
		}
		return bst.Marshal(l, bst.BigEndian)
	}

	// description
	desc, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(cs.name))
	if err != nil {
		return
	}
	mluc := struct {
		Type       string `binary:"[4]byte"`
		Reserved   uint32
		Count      uint32
		RecordSize uint32
		Lang       string `binary:"[4]byte"`
		Length     int    `binary:"uint32"`
		Offset     int    `binary:"uint32"`
	}{"mluc", 0, 1, 12, "enUS", len(desc), 28}
	b, err := bst.Marshal(mluc, bst.BigEndian)
	if err != nil {
		return
	}
	add(append(b, desc...), "desc")

	// colorants relative to the connection space
	m := cs.toXYZ
	if withChad {
		adapt := ChromaticAdaptation(cs.WhiteXYZ(), pcsWhite)
		m = adapt.Multiply(m)
		if b, err = s15("sf32", adapt[:]...); err != nil {
			return
		}
		add(b, "chad")
		if b, err = s15("XYZ ", pcsWhite[:]...); err != nil {
			return
		}
	} else {
		m = ChromaticAdaptation(cs.WhiteXYZ(), pcsWhite).Multiply(m)
		w := cs.WhiteXYZ()
		if b, err = s15("XYZ ", w[:]...); err != nil {
			return
		}
	}
	add(b, "wtpt")
	for i, sig := range []string{"rXYZ", "gXYZ", "bXYZ"} {
		c := m.Column(i)
		if b, err = s15("XYZ ", c[:]...); err != nil {
			return
		}
		add(b, sig)
	}

	// one tone curve shared by the three channels
	t := cs.transfer
	if t.Kind == TransferSampled {
		curv := struct {
			Type     string `binary:"[4]byte"`
			Reserved uint32
			Count    int      `binary:"uint32"`
			N        []uint16 `binary:"[]uint16"`
		}{Type: "curv", Count: len(t.Table), N: t.Table}
		b, err = bst.Marshal(curv, bst.BigEndian)
	} else {
		para := struct {
			Type      string `binary:"[4]byte"`
			Reserved  uint32
			FuncType  uint16
			Reserved2 uint16
			N         []int64 `binary:"[]int32"`
		}{Type: "para", FuncType: uint16(t.FuncType)}
		for _, x := range t.Params {
			para.N = append(para.N, toS15Fixed16(x))
		}
		b, err = bst.Marshal(para, bst.BigEndian)
	}
	if err != nil {
		return
	}
	add(b, "rTRC", "gTRC", "bTRC")

	// lay out the tag table and the elements
	var table iccTagTable
	for _, e := range elements {
		table.Count += len(e.sigs)
	}
	offset := iccHeaderSize + 4 + 12*table.Count
	for _, e := range elements {
		for _, sig := range e.sigs {
			table.Tags = append(table.Tags, iccTag{Sig: sig, Offset: offset, Size: len(e.data)})
		}
		offset += len(e.data)
	}

	h := iccHeader{
		Size:        offset,
		Version:     0x04300000,
		Class:       "mntr",
		DataSpace:   "RGB ",
		PCS:         "XYZ ",
		Signature:   "acsp",
		IlluminantX: int32(toS15Fixed16(pcsWhite[0])),
		IlluminantY: int32(toS15Fixed16(pcsWhite[1])),
		IlluminantZ: int32(toS15Fixed16(pcsWhite[2])),
	}
	if out, err = bst.Marshal(h, bst.BigEndian); err != nil {
		return
	}
	if b, err = bst.Marshal(table, bst.BigEndian); err != nil {
		return
	}
	out = append(out, b...)
	for _, e := range elements {
		out = append(out, e.data...)
	}
	return out, nil
}
