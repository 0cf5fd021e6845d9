// internal/apply/apply.go
package apply

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"patchpack/internal/container"
	"patchpack/internal/delta"
	"patchpack/internal/parallel"
	"patchpack/internal/patch"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errIsDirectory = errors.New("target is a directory")

// Applicator reconstructs files under a destination root
type Applicator struct {
	engine  delta.Engine
	workers int
	dryRun  bool
	logger  *zap.Logger
}

type Option func(*Applicator)

func WithEngine(e delta.Engine) Option {
	return func(a *Applicator) { a.engine = e }
}

// WithWorkers bounds the number of entries applied concurrently
func WithWorkers(n int) Option {
	return func(a *Applicator) { a.workers = n }
}

// WithDryRun computes every outcome without writing to the destination
func WithDryRun(dryRun bool) Option {
	return func(a *Applicator) { a.dryRun = dryRun }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Applicator) {
		if l != nil {
			a.logger = l
		}
	}
}

func New(opts ...Option) *Applicator {
	a := &Applicator{
		engine: delta.Bsdiff{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// task is one entry scheduled for application. A non-nil pre outcome
// short-circuits the work.
type task struct {
	entry patch.Entry
	pre   *Outcome
}

// Apply applies every entry of set under dest and reports each outcome.
// One entry failing never stops the others.
func (a *Applicator) Apply(ctx context.Context, set patch.Set, dest string) *Report {
	return a.ApplyDecoded(ctx, &container.Decoded{Set: set}, dest)
}

// ApplyDecoded applies a decoded container; its item failures are carried
// into the report.
func (a *Applicator) ApplyDecoded(ctx context.Context, decoded *container.Decoded, dest string) *Report {
	claims := make(map[string]string)
	tasks := make([]task, 0, len(decoded.Set))
	for _, e := range decoded.Set {
		tasks = append(tasks, a.plan(claims, dest, e))
	}

	outcomes := parallel.Map(ctx, tasks, a.workers, func(ctx context.Context, t task) Outcome {
		return a.run(dest, t)
	}, func(t task, err error) Outcome {
		return Outcome{Path: t.entry.Path, Kind: t.entry.Kind, Status: StatusFailed, Err: err}
	})

	for _, f := range decoded.Failures {
		outcomes = append(outcomes, failedItem(f))
	}

	report := &Report{Outcomes: outcomes}
	a.log(dest, report)
	return report
}

// ApplyContainer decodes data and applies it. The error is set only when
// the container cannot be read at all.
func (a *Applicator) ApplyContainer(ctx context.Context, data []byte, dest string) (*Report, error) {
	decoded, err := container.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding container: %w", err)
	}
	return a.ApplyDecoded(ctx, decoded, dest), nil
}

// ApplyStream applies entries as they are read from r instead of decoding
// the whole container first. Outcomes keep container order. If ctx is
// cancelled the entries read so far are reported along with the error.
func (a *Applicator) ApplyStream(ctx context.Context, r io.Reader, dest string) (*Report, error) {
	reader, err := container.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening container: %w", err)
	}
	defer reader.Close()

	var (
		mu       sync.Mutex
		outcomes []Outcome
		g        errgroup.Group
		claims   = make(map[string]string)
		readErr  error
	)
	g.SetLimit(parallel.Workers(a.workers))

	record := func(i int, o Outcome) {
		mu.Lock()
		outcomes[i] = o
		mu.Unlock()
	}

	for {
		if err := ctx.Err(); err != nil {
			readErr = err
			break
		}

		e, err := reader.Next()
		if err == io.EOF {
			break
		}
		var itemErr *container.ItemError
		if err != nil && !errors.As(err, &itemErr) {
			readErr = err
			break
		}

		mu.Lock()
		i := len(outcomes)
		outcomes = append(outcomes, Outcome{})
		mu.Unlock()

		if itemErr != nil {
			record(i, failedItem(itemErr))
			continue
		}

		t := a.plan(claims, dest, e)
		g.Go(func() error {
			record(i, a.run(dest, t))
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{Outcomes: outcomes}
	a.log(dest, report)

	if readErr != nil {
		return report, fmt.Errorf("reading container: %w", readErr)
	}
	return report, nil
}

// plan resolves an entry's destination and claims it. Entries that escape
// dest or collide with an earlier entry are rejected here.
func (a *Applicator) plan(claims map[string]string, dest string, e patch.Entry) task {
	target, err := e.Resolve(dest)
	if err != nil {
		return task{entry: e, pre: &Outcome{Path: e.Path, Kind: e.Kind, Status: StatusRejected, Err: err}}
	}
	if prev, ok := claims[target]; ok {
		err := fmt.Errorf("%w: %s already targeted by %s", patch.ErrDuplicatePath, e.Path, prev)
		return task{entry: e, pre: &Outcome{Path: e.Path, Kind: e.Kind, Status: StatusRejected, Err: err}}
	}
	claims[target] = e.Path
	return task{entry: e}
}

func (a *Applicator) run(dest string, t task) (o Outcome) {
	if t.pre != nil {
		return *t.pre
	}
	o = Outcome{Path: t.entry.Path, Kind: t.entry.Kind}
	defer func() {
		if r := recover(); r != nil {
			o.Status = StatusFailed
			o.Err = fmt.Errorf("applying %s: %v", t.entry.Path, r)
		}
	}()
	oldSize, newSize, err := a.applyEntry(dest, t.entry)
	o.OldSize, o.NewSize = oldSize, newSize
	if err != nil {
		o.Status = StatusFailed
		if errors.Is(err, patch.ErrUnsafePath) {
			o.Status = StatusRejected
		}
		o.Err = err
		return o
	}
	o.Status = StatusApplied
	return o
}

// applyEntry rewrites one file. A missing target is patched from an empty
// base.
func (a *Applicator) applyEntry(dest string, e patch.Entry) (int64, int64, error) {
	target, err := e.Resolve(dest)
	if err != nil {
		return 0, 0, err
	}
	if err := checkParents(dest, e.Path); err != nil {
		return 0, 0, err
	}

	info, err := os.Lstat(target)
	switch {
	case err == nil && info.IsDir():
		return 0, 0, fmt.Errorf("%s: %w", target, errIsDirectory)
	case err == nil && info.Mode()&os.ModeSymlink != 0:
		return 0, 0, fmt.Errorf("%w: %s is a symlink", patch.ErrUnsafePath, target)
	case err != nil && !os.IsNotExist(err):
		return 0, 0, fmt.Errorf("inspecting target: %w", err)
	}

	base, err := os.ReadFile(target)
	if err != nil && !os.IsNotExist(err) {
		return 0, 0, fmt.Errorf("reading current content: %w", err)
	}
	exists := err == nil

	var result []byte
	switch e.Kind {
	case patch.Snapshot:
		result = e.Payload
	case patch.Diff:
		result, err = a.engine.Patch(base, e.Payload)
		if err != nil {
			return int64(len(base)), 0, err
		}
	default:
		return int64(len(base)), 0, fmt.Errorf("unknown entry kind %v", e.Kind)
	}

	oldSize, newSize := int64(len(base)), int64(len(result))
	if a.dryRun || (exists && bytes.Equal(base, result)) {
		return oldSize, newSize, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return oldSize, 0, fmt.Errorf("creating parent directory: %w", err)
	}

	f, err := os.OpenFile(target, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return oldSize, 0, fmt.Errorf("opening target: %w", err)
	}
	if _, err := f.Write(result); err != nil {
		f.Close()
		return oldSize, 0, fmt.Errorf("writing target: %w", err)
	}
	if err := f.Close(); err != nil {
		return oldSize, 0, fmt.Errorf("closing target: %w", err)
	}

	return oldSize, newSize, nil
}

// checkParents rejects entries whose existing parent directories under dest
// include a symlink, so writes cannot be redirected outside dest.
func checkParents(dest, relPath string) error {
	clean, err := patch.CleanPath(relPath)
	if err != nil {
		return err
	}

	dir := dest
	parts := strings.Split(clean, "/")
	for _, part := range parts[:len(parts)-1] {
		dir = filepath.Join(dir, part)
		info, err := os.Lstat(dir)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("inspecting %s: %w", dir, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s is a symlink", patch.ErrUnsafePath, dir)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
	}
	return nil
}

func failedItem(f *container.ItemError) Outcome {
	p, kind := patch.FromArchiveName(f.Name)
	return Outcome{Path: p, Kind: kind, Status: StatusFailed, Err: f}
}

func (a *Applicator) log(dest string, r *Report) {
	for _, o := range r.Failures() {
		a.logger.Warn("Entry not applied",
			zap.String("path", o.Path),
			zap.String("status", string(o.Status)),
			zap.Error(o.Err))
	}
	a.logger.Info("Applied patch",
		zap.String("dest", dest),
		zap.Stringer("state", r.State()),
		zap.Int("applied", r.Count(StatusApplied)),
		zap.Int("rejected", r.Count(StatusRejected)),
		zap.Int("failed", r.Count(StatusFailed)),
		zap.Int64("delta_bytes", r.Delta()),
		zap.Bool("dry_run", a.dryRun))
}
