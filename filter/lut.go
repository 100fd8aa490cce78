package filter

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/mixcode/imagecore/bitmap"
)

// Pool recycles lookup-table memory between filter invocations.
type Pool struct {
	small   sync.Pool // 256 entries
	large   sync.Pool // 65536 entries
	created atomic.Int64
}

func NewPool() *Pool { return &Pool{} }

var defaultPool = NewPool()

// tableSize returns the lookup table length for the channel depth of f.
func tableSize(f bitmap.Format) int {
	if f.Info().BitsPerChannel == 16 {
		return 1 << 16
	}
	return 1 << 8
}

func (p *Pool) pool(size int) *sync.Pool {
	if size > 256 {
		return &p.large
	}
	return &p.small
}

// Get returns a table of size entries with unspecified content.
func (p *Pool) Get(size int) []uint16 {
	if t, ok := p.pool(size).Get().(*[]uint16); ok && len(*t) == size {
		return *t
	}
	p.created.Add(1)
	return make([]uint16, size)
}

// Put returns t to the pool.
func (p *Pool) Put(t []uint16) {
	if len(t) != 256 && len(t) != 1<<16 {
		return
	}
	p.pool(len(t)).Put(&t)
}

// Created counts the tables the pool had to allocate.
func (p *Pool) Created() int64 { return p.created.Load() }

// Tables holds one lookup table per color channel, indexed and valued in
// the channel depth of the format they were built for.
type Tables struct {
	R, G, B []uint16
	pool    *Pool
}

func identityTables(size int, pool *Pool) *Tables {
	t := &Tables{R: pool.Get(size), G: pool.Get(size), B: pool.Get(size), pool: pool}
	for i := 0; i < size; i++ {
		t.R[i], t.G[i], t.B[i] = uint16(i), uint16(i), uint16(i)
	}
	return t
}

// apply maps every entry through per-channel curves on normalized
// values, composing them with what the tables already hold.
func (t *Tables) apply(c [3]func(float64) float64) {
	top := float64(len(t.R) - 1)
	for ch, tab := range [3][]uint16{t.R, t.G, t.B} {
		f := c[ch]
		if f == nil {
			continue
		}
		for i, v := range tab {
			tab[i] = uint16(clamp(f(float64(v)/top))*top + 0.5)
		}
	}
}

func (t *Tables) release() {
	t.pool.Put(t.R)
	t.pool.Put(t.G)
	t.pool.Put(t.B)
}

// lutKernel maps each color channel through its table; alpha is copied.
// Gray formats use the green table.
type lutKernel struct {
	format bitmap.Format
	t      *Tables
}

func (k *lutKernel) row(src, dst []byte) {
	t := k.t
	switch k.format {
	case bitmap.FormatBGRA32:
		for i := 0; i+3 < len(src); i += 4 {
			dst[i] = byte(t.B[src[i]])
			dst[i+1] = byte(t.G[src[i+1]])
			dst[i+2] = byte(t.R[src[i+2]])
			dst[i+3] = src[i+3]
		}
	case bitmap.FormatBGRA64:
		le := binary.LittleEndian
		for i := 0; i+7 < len(src); i += 8 {
			le.PutUint16(dst[i:], t.B[le.Uint16(src[i:])])
			le.PutUint16(dst[i+2:], t.G[le.Uint16(src[i+2:])])
			le.PutUint16(dst[i+4:], t.R[le.Uint16(src[i+4:])])
			copy(dst[i+6:i+8], src[i+6:i+8])
		}
	case bitmap.FormatGray8:
		for i, v := range src {
			dst[i] = byte(t.G[v])
		}
	case bitmap.FormatGray16:
		le := binary.LittleEndian
		for i := 0; i+1 < len(src); i += 2 {
			le.PutUint16(dst[i:], t.G[le.Uint16(src[i:])])
		}
	}
}

func (k *lutKernel) release() { k.t.release() }

func clamp(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
