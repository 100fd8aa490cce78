package bitmap

import (
	"fmt"
	"sync"

	"github.com/mixcode/imagecore/config"
	"github.com/mixcode/imagecore/errs"
	"github.com/mixcode/imagecore/internal/logging"
)

// Reclaimer gives memory back to an Allocator under pressure, typically by
// releasing the cached buffers of an inactive image.
type Reclaimer interface {
	Reclaim(need int64)
}

// ReclaimerFunc adapts a function to Reclaimer.
type ReclaimerFunc func(need int64)

func (f ReclaimerFunc) Reclaim(need int64) { f(need) }

// Allocator hands out buffers within a byte budget. Bytes return to the
// budget when the last owner of a buffer releases it.
type Allocator struct {
	mu         sync.Mutex
	budget     int64
	used       int64
	reclaimers map[int]Reclaimer
	nextID     int
	log        logging.Logger
}

// NewAllocator creates an allocator limited to cfg.MemoryBudget bytes.
// A budget <= 0 is unlimited.
func NewAllocator(cfg config.Config, log logging.Logger) *Allocator {
	return &Allocator{
		budget:     cfg.MemoryBudget,
		reclaimers: make(map[int]Reclaimer),
		log:        logging.OrDefault(log),
	}
}

// Register adds r to the reclaimers asked for memory when an allocation
// does not fit. The returned function removes it.
func (a *Allocator) Register(r Reclaimer) (unregister func()) {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.reclaimers[id] = r
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.reclaimers, id)
		a.mu.Unlock()
	}
}

// InUse returns the bytes held by live buffers.
func (a *Allocator) InUse() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

func (a *Allocator) Budget() int64 { return a.budget }

func (a *Allocator) reserve(size int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.budget > 0 && a.used+size > a.budget {
		return false
	}
	a.used += size
	return true
}

func (a *Allocator) free(size int64) {
	a.mu.Lock()
	a.used -= size
	a.mu.Unlock()
}

func (a *Allocator) snapshotReclaimers() []Reclaimer {
	a.mu.Lock()
	defer a.mu.Unlock()
	l := make([]Reclaimer, 0, len(a.reclaimers))
	for _, r := range a.reclaimers {
		l = append(l, r)
	}
	return l
}

// Allocate returns a zeroed buffer. When the budget is exhausted the
// registered reclaimers are asked to free memory one by one; the call
// fails with ErrInsufficientMemory only if the buffer still does not fit.
func (a *Allocator) Allocate(format Format, width, height int) (*Buffer, error) {
	stride := width * format.BytesPerPixel()
	size, err := checkGeometry(format, width, height, stride)
	if err != nil {
		return nil, err
	}
	if a.budget > 0 && size > a.budget {
		return nil, fmt.Errorf("bitmap: %d bytes exceed the budget of %d: %w", size, a.budget, errs.ErrInsufficientMemory)
	}

	if !a.reserve(size) {
		// reclaimers release buffers, which calls back into free; a.mu
		// must not be held here
		ok := false
		for _, r := range a.snapshotReclaimers() {
			r.Reclaim(size)
			if ok = a.reserve(size); ok {
				break
			}
		}
		if !ok {
			a.log.Warn("allocation over budget",
				logging.Int64("size", size), logging.Int64("in_use", a.InUse()), logging.Int64("budget", a.budget))
			return nil, fmt.Errorf("bitmap: %dx%d %s: %w", width, height, format, errs.ErrInsufficientMemory)
		}
		a.log.Debug("reclaimed memory for allocation", logging.Int64("size", size))
	}

	return newBuffer(format, width, height, stride, make([]byte, size), func(*pixels) error {
		a.free(size)
		return nil
	}), nil
}
