package filter

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mixcode/imagecore/bitmap"
	"github.com/mixcode/imagecore/config"
	"github.com/mixcode/imagecore/errs"
	"github.com/mixcode/imagecore/internal/logging"
)

// Runner applies filters over row ranges in parallel.
type Runner struct {
	cfg  config.Config
	pool *Pool
	log  logging.Logger
}

// NewRunner creates a runner bounded by cfg.Workers(). Runners share one
// table pool.
func NewRunner(cfg config.Config, log logging.Logger) *Runner {
	return &Runner{cfg: cfg, pool: defaultPool, log: logging.OrDefault(log)}
}

// WithPool returns a copy of r drawing tables from p.
func (r *Runner) WithPool(p *Pool) *Runner {
	c := *r
	c.pool = p
	return &c
}

func checkBuffers(src, dst *bitmap.Buffer) error {
	if src == nil || dst == nil {
		return fmt.Errorf("filter: nil buffer: %w", errs.ErrContractViolation)
	}
	if src.Released() || dst.Released() {
		return fmt.Errorf("filter: released buffer: %w: %w", errs.ErrContractViolation, errs.ErrDisposed)
	}
	if src.SameMemory(dst) {
		return fmt.Errorf("filter: source and result share memory: %w", errs.ErrContractViolation)
	}
	if !src.SameGeometry(dst) {
		return fmt.Errorf("filter: %dx%d %s source, %dx%d %s result: %w",
			src.Width(), src.Height(), src.Format(), dst.Width(), dst.Height(), dst.Format(), errs.ErrContractViolation)
	}
	return nil
}

// Apply writes f(src) into dst. src and dst must have the same geometry
// and format and must not share memory; violations are reported before
// either buffer is touched. f is copied first, so the caller may keep
// changing its own value. On cancellation Apply returns an error matching
// errs.ErrCanceled and dst holds unspecified content.
func (r *Runner) Apply(ctx context.Context, src, dst *bitmap.Buffer, f Filter) (err error) {
	if err = checkBuffers(src, dst); err != nil {
		return
	}
	if f == nil {
		return fmt.Errorf("filter: nil filter: %w", errs.ErrContractViolation)
	}
	f = f.Clone()

	// hold both buffers for the duration even if their owners let go
	s, err := src.Share()
	if err != nil {
		return
	}
	defer s.Release()
	d, err := dst.Share()
	if err != nil {
		return
	}
	defer d.Release()

	k, err := f.newKernel(s.Format(), r.pool)
	if err != nil {
		return
	}
	defer k.release()

	height := s.Height()
	rows := r.cfg.RowsPerTask(height)
	log := r.log.With(logging.String("filter", fmt.Sprintf("%T", f)))
	log.Debug("filter started",
		logging.Int("rows", height), logging.Int("rows_per_task", rows), logging.Int("workers", r.cfg.Workers()))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers())
	for y0 := 0; y0 < height; y0 += rows {
		if gctx.Err() != nil {
			break
		}
		y0 := y0
		y1 := min(y0+rows, height)
		g.Go(func() error {
			for y := y0; y < y1; y++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				k.row(s.Row(y), d.Row(y))
			}
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		log.Info("filter canceled", logging.Error("cause", err))
		return errs.Canceled(err)
	}
	log.Debug("filter finished")
	return nil
}

// Task is an asynchronous filter invocation.
type Task struct {
	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

// Start runs Apply on its own goroutine.
func (r *Runner) Start(ctx context.Context, src, dst *bitmap.Buffer, f Filter) *Task {
	if f != nil {
		f = f.Clone()
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(t.done)
		defer cancel()
		t.err = r.Apply(ctx, src, dst, f)
	}()
	return t
}

// Cancel requests cancellation; it does not wait.
func (t *Task) Cancel() { t.cancel() }

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes and returns its result.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}
