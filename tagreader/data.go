package tagreader

import (
	"fmt"
	"io"
	"math"

	bst "github.com/mixcode/binarystruct"
	"golang.org/x/text/encoding/charmap"

	"github.com/mixcode/imagecore/errs"
)

// EntryOffset returns the value field of the current entry read as an
// offset. It is meaningful when the data does not fit inline, or for
// pointer tags such as the Exif directory.
func (r *Reader) EntryOffset() int64 {
	return int64(r.order.Uint32(r.entry.Value[:]))
}

// EntryData returns the raw bytes of the current entry. Data of up to four
// bytes comes from the entry record itself; larger data is read at the
// entry's offset from the initial position.
func (r *Reader) EntryData() (b []byte, err error) {
	if !r.hasEntry {
		err = errNoEntry
		return
	}
	t := r.EntryType()
	if t.Size() == 0 {
		err = fmt.Errorf("tagreader: tag 0x%04x has unknown type %d: %w", r.entry.ID, r.entry.Type, errs.ErrMalformed)
		return
	}
	sz := int64(r.entry.Count) * int64(t.Size())
	if sz <= 4 { // data fit in the Value field
		b = make([]byte, sz)
		copy(b, r.entry.Value[:sz])
		return
	}

	offset := r.EntryOffset()
	if offset+sz > r.length {
		err = fmt.Errorf("tagreader: tag 0x%04x data [%d,+%d) past end of stream: %w", r.entry.ID, offset, sz, errs.ErrMalformed)
		return
	}
	if _, err = r.in.Seek(r.initial+offset, io.SeekStart); err != nil {
		return
	}
	b = make([]byte, sz)
	if _, err = io.ReadFull(r.in, b); err != nil {
		b = nil
		err = fmt.Errorf("tagreader: tag 0x%04x: %v: %w", r.entry.ID, err, errs.ErrMalformed)
	}
	return
}

// Bytes returns the data of a BYTE, SBYTE, ASCII or UNDEFINED entry.
func (r *Reader) Bytes() (b []byte, err error) {
	switch r.EntryType() {
	case Byte, SByte, ASCII, Undefined:
	default:
		err = fmt.Errorf("tagreader: tag 0x%04x is not a byte type", r.entry.ID)
		return
	}
	return r.EntryData()
}

// String returns an ASCII entry decoded as ISO-8859-1, without its
// trailing zeros.
func (r *Reader) String() (s string, err error) {
	if r.EntryType() != ASCII {
		err = fmt.Errorf("tagreader: tag 0x%04x is not an ASCII type", r.entry.ID)
		return
	}
	buf, err := r.EntryData()
	if err != nil {
		return
	}
	for len(buf) > 0 && buf[len(buf)-1] == 0 {
		buf = buf[:len(buf)-1]
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(buf)
	if err != nil {
		return
	}
	return string(out), nil
}

// Ints returns the values of an integer entry.
func (r *Reader) Ints() (n []int64, err error) {
	t := r.EntryType()
	if !t.isInteger() {
		err = fmt.Errorf("tagreader: tag 0x%04x is not an integer type", r.entry.ID)
		return
	}
	buf, err := r.EntryData()
	if err != nil {
		return
	}

	// bst fills a slice only up to its existing length
	n = make([]int64, len(buf)/t.Size())
	switch t {
	case Byte, Undefined:
		l := struct {
			N []int64 `binary:"[]byte"`
		}{n}
		_, err = bst.Unmarshal(buf, r.bstOrder, &l)
		n = l.N
	case Short:
		l := struct {
			N []int64 `binary:"[]uint16"`
		}{n}
		_, err = bst.Unmarshal(buf, r.bstOrder, &l)
		n = l.N
	case Long, IFD:
		l := struct {
			N []int64 `binary:"[]uint32"`
		}{n}
		_, err = bst.Unmarshal(buf, r.bstOrder, &l)
		n = l.N
	case SByte: // sign-extended by hand; bst keeps the raw bits
		for i := range n {
			n[i] = int64(int8(buf[i]))
		}
	case SShort:
		for i := range n {
			n[i] = int64(int16(r.order.Uint16(buf[2*i:])))
		}
	case SLong:
		for i := range n {
			n[i] = int64(int32(r.order.Uint32(buf[4*i:])))
		}
	}
	if err != nil {
		n = nil
		err = fmt.Errorf("tagreader: tag 0x%04x: %v: %w", r.entry.ID, err, errs.ErrMalformed)
	}
	return
}

// Int returns the first value of an integer entry.
func (r *Reader) Int() (v int64, err error) {
	n, err := r.Ints()
	if err != nil {
		return
	}
	if len(n) == 0 {
		err = fmt.Errorf("tagreader: tag 0x%04x has no values", r.entry.ID)
		return
	}
	return n[0], nil
}

// Uints returns the values of an unsigned integer entry.
func (r *Reader) Uints() (u []uint64, err error) {
	switch r.EntryType() {
	case Byte, Undefined, Short, Long, IFD:
	default:
		err = fmt.Errorf("tagreader: tag 0x%04x is not an unsigned type", r.entry.ID)
		return
	}
	n, err := r.Ints()
	if err != nil {
		return
	}
	u = make([]uint64, len(n))
	for i, v := range n {
		u[i] = uint64(v)
	}
	return
}

// Uint returns the first value of an unsigned integer entry.
func (r *Reader) Uint() (v uint64, err error) {
	u, err := r.Uints()
	if err != nil {
		return
	}
	if len(u) == 0 {
		err = fmt.Errorf("tagreader: tag 0x%04x has no values", r.entry.ID)
		return
	}
	return u[0], nil
}

// Rationals returns RATIONAL and SRATIONAL entries as numerator/denominator
// pairs.
func (r *Reader) Rationals() (q [][2]int64, err error) {
	t := r.EntryType()
	if t != Rational && t != SRational {
		err = fmt.Errorf("tagreader: tag 0x%04x is not a rational type", r.entry.ID)
		return
	}
	buf, err := r.EntryData()
	if err != nil {
		return
	}
	q = make([][2]int64, len(buf)/8)
	for i := range q {
		num, den := r.order.Uint32(buf[i*8:]), r.order.Uint32(buf[i*8+4:])
		if t == SRational {
			q[i] = [2]int64{int64(int32(num)), int64(int32(den))}
		} else {
			q[i] = [2]int64{int64(num), int64(den)}
		}
	}
	return
}

// Floats returns any numeric entry as float64 values. Rationals with a zero
// denominator read as 0.
func (r *Reader) Floats() (f []float64, err error) {
	switch t := r.EntryType(); t {
	case Rational, SRational:
		var q [][2]int64
		if q, err = r.Rationals(); err != nil {
			return
		}
		f = make([]float64, len(q))
		for i, v := range q {
			if v[1] != 0 {
				f[i] = float64(v[0]) / float64(v[1])
			}
		}
	case Float, Double:
		var buf []byte
		if buf, err = r.EntryData(); err != nil {
			return
		}
		if t == Float {
			f = make([]float64, len(buf)/4)
			for i := range f {
				f[i] = float64(math.Float32frombits(r.order.Uint32(buf[i*4:])))
			}
		} else {
			f = make([]float64, len(buf)/8)
			for i := range f {
				f[i] = math.Float64frombits(r.order.Uint64(buf[i*8:]))
			}
		}
	default:
		var n []int64
		if n, err = r.Ints(); err != nil {
			return
		}
		f = make([]float64, len(n))
		for i, v := range n {
			f[i] = float64(v)
		}
	}
	return
}
