// Package session ties one opened image to its rendered pixels.
//
// A Session runs one operation at a time: starting a render or a filter
// cancels the operation in flight and waits for it to finish. An
// operation's output becomes current only when it succeeds; canceled or
// failed output is released and the previous image stays current.
// Different sessions run concurrently.
package session

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/mixcode/imagecore/bitmap"
	"github.com/mixcode/imagecore/config"
	"github.com/mixcode/imagecore/errs"
	"github.com/mixcode/imagecore/filter"
	"github.com/mixcode/imagecore/internal/logging"
	"github.com/mixcode/imagecore/profile"
	"github.com/mixcode/imagecore/shared"
	"github.com/mixcode/imagecore/source"
)

// Manager opens sessions sharing one memory budget and one filter runner.
type Manager struct {
	cfg    config.Config
	alloc  *bitmap.Allocator
	runner *filter.Runner
	log    logging.Logger
}

func NewManager(cfg config.Config, log logging.Logger) *Manager {
	log = logging.OrDefault(log)
	return &Manager{
		cfg:    cfg,
		alloc:  bitmap.NewAllocator(cfg, log),
		runner: filter.NewRunner(cfg, log),
		log:    log,
	}
}

// Allocator returns the allocator every session of m draws from.
func (m *Manager) Allocator() *bitmap.Allocator { return m.alloc }

// RenderFunc produces an image for s. It must return promptly once ctx is
// done.
type RenderFunc func(ctx context.Context, s *Session) (*bitmap.Buffer, error)

// Session is one opened image.
type Session struct {
	name       string
	stream     *shared.Handle[source.Stream]
	profile    *profile.Profile
	alloc      *bitmap.Allocator
	runner     *filter.Runner
	log        logging.Logger
	unregister func()

	mu      sync.Mutex
	base    *bitmap.Buffer // last render
	current *bitmap.Buffer // base, or base with a filter applied
	cancel  context.CancelFunc
	done    chan struct{} // closed when the latest operation ends
	active  bool
	closed  bool
}

// Open opens src, reads its rendering profile and registers the session
// as a reclamation source.
func (m *Manager) Open(ctx context.Context, src source.Source) (*Session, error) {
	h, err := source.OpenShared(src)
	if err != nil {
		return nil, err
	}
	p, err := profile.ExtractShared(ctx, src.Name(), h, m.log)
	if err != nil {
		if e := h.Release(); e != nil {
			m.log.Debug("session: closing source", logging.Error("err", e))
		}
		return nil, err
	}
	s := &Session{
		name:    src.Name(),
		stream:  h,
		profile: p,
		alloc:   m.alloc,
		runner:  m.runner,
		log:     m.log.With(logging.String("session", src.Name())),
	}
	s.unregister = m.alloc.Register(s)
	return s, nil
}

func (s *Session) Name() string              { return s.name }
func (s *Session) Profile() *profile.Profile { return s.profile }

// Reader returns an independent reader over the image's bytes.
func (s *Session) Reader() (*io.SectionReader, error) { return source.Section(s.stream) }

// Allocate draws a buffer from the session's memory budget.
func (s *Session) Allocate(format bitmap.Format, width, height int) (*bitmap.Buffer, error) {
	return s.alloc.Allocate(format, width, height)
}

// SetActive marks whether the image is on display. Inactive sessions give
// up their buffers when the allocator runs short.
func (s *Session) SetActive(active bool) {
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()
}

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Current returns a share of the current image, or nil if there is none.
// The caller releases it.
func (s *Session) Current() (*bitmap.Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("session %s: %w", s.name, errs.ErrDisposed)
	}
	if s.current == nil {
		return nil, nil
	}
	return s.current.Share()
}

// Render runs fn and, if it succeeds, makes its output both the base image
// filters start from and the current image.
func (s *Session) Render(ctx context.Context, fn RenderFunc) error {
	return s.run(ctx, true, func(ctx context.Context) (*bitmap.Buffer, error) {
		return fn(ctx, s)
	})
}

// ApplyFilter renders f over the base image into a new current image. The
// base image is unchanged.
func (s *Session) ApplyFilter(ctx context.Context, f filter.Filter) error {
	return s.run(ctx, false, func(ctx context.Context) (*bitmap.Buffer, error) {
		s.mu.Lock()
		base := s.base
		s.mu.Unlock()
		if base == nil {
			return nil, fmt.Errorf("session %s: nothing rendered: %w", s.name, errs.ErrContractViolation)
		}
		src, err := base.Share()
		if err != nil {
			return nil, err
		}
		defer src.Release()

		dst, err := s.alloc.Allocate(src.Format(), src.Width(), src.Height())
		if err != nil {
			return nil, err
		}
		if err = s.runner.Apply(ctx, src, dst, f); err != nil {
			dst.Release()
			return nil, err
		}
		return dst, nil
	})
}

// begin cancels the operation in flight, waits for it and installs a new
// one.
func (s *Session) begin(ctx context.Context) (context.Context, chan struct{}, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("session %s: %w", s.name, errs.ErrDisposed)
	}
	if s.cancel != nil {
		s.cancel()
	}
	prev := s.done
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	if prev != nil {
		<-prev
	}
	return ctx, done, nil
}

func (s *Session) end(done chan struct{}) {
	s.mu.Lock()
	if s.done == done {
		s.cancel()
		s.cancel, s.done = nil, nil
	}
	s.mu.Unlock()
	close(done)
}

func (s *Session) run(ctx context.Context, rebase bool, op func(context.Context) (*bitmap.Buffer, error)) error {
	ctx, done, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer s.end(done)

	var out *bitmap.Buffer
	if err = ctx.Err(); err == nil {
		out, err = op(ctx)
	}
	if err == nil && out == nil {
		err = fmt.Errorf("session %s: no output: %w", s.name, errs.ErrContractViolation)
	}
	if err == nil {
		// output finished after cancellation is discarded too
		err = ctx.Err()
	}
	if err != nil {
		if out != nil {
			out.Release()
		}
		err = errs.Canceled(err)
		if errs.IsCanceled(err) {
			s.log.Debug("session: output discarded", logging.Error("cause", err))
		} else {
			s.log.Warn("session: operation failed", logging.Error("err", err))
		}
		return err
	}

	s.publish(out, rebase)
	return nil
}

func (s *Session) publish(out *bitmap.Buffer, rebase bool) {
	var stale []*bitmap.Buffer
	s.mu.Lock()
	if s.current != nil {
		stale = append(stale, s.current)
	}
	s.current = out
	if rebase {
		if s.base != nil {
			stale = append(stale, s.base)
		}
		// the base holds its own share of the same pixels
		s.base, _ = out.Share()
	}
	s.mu.Unlock()

	for _, b := range stale {
		b.Release()
	}
	s.log.Debug("session: published",
		logging.Int("width", out.Width()), logging.Int("height", out.Height()))
}

// Reclaim releases the buffers of an idle, inactive session. It is called
// by the allocator.
func (s *Session) Reclaim(need int64) {
	s.mu.Lock()
	if s.active || s.done != nil || s.closed {
		s.mu.Unlock()
		return
	}
	base, current := s.base, s.current
	s.base, s.current = nil, nil
	s.mu.Unlock()

	if base == nil && current == nil {
		return
	}
	s.log.Debug("session: reclaimed", logging.Int64("need", need))
	if base != nil {
		base.Release()
	}
	if current != nil {
		current.Release()
	}
}

// Close cancels any operation, waits for it and releases the session's
// buffers and stream. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	s.unregister()

	s.mu.Lock()
	base, current := s.base, s.current
	s.base, s.current = nil, nil
	s.mu.Unlock()

	var merr error
	for _, b := range []*bitmap.Buffer{base, current} {
		if b == nil {
			continue
		}
		if err := b.Release(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if err := s.stream.Release(); err != nil {
		merr = multierror.Append(merr, err)
	}
	return merr
}
