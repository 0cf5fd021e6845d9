// internal/build/builder.go
package build

import (
	"context"
	"fmt"
	"os"

	"patchpack/internal/delta"
	"patchpack/internal/parallel"
	"patchpack/internal/patch"

	"go.uber.org/zap"
)

// Builder produces patch sets from directory trees
type Builder struct {
	engine    delta.Engine
	workers   int
	ignore    []string
	unchanged bool
	logger    *zap.Logger
}

// Option configures a Builder
type Option func(*Builder)

// WithEngine replaces the bsdiff engine
func WithEngine(e delta.Engine) Option {
	return func(b *Builder) { b.engine = e }
}

// WithWorkers bounds the number of files processed concurrently.
// Zero or less means one per CPU.
func WithWorkers(n int) Option {
	return func(b *Builder) { b.workers = n }
}

// WithIgnore skips files and directories whose base name matches any of
// the path.Match patterns.
func WithIgnore(patterns ...string) Option {
	return func(b *Builder) { b.ignore = append(b.ignore, patterns...) }
}

// WithUnchanged emits diff entries for identical files too
func WithUnchanged(include bool) Option {
	return func(b *Builder) { b.unchanged = include }
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

func New(opts ...Option) *Builder {
	b := &Builder{
		engine: delta.Bsdiff{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// pair links the two sides of one relative path. A missing side has an
// empty abs path.
type pair struct {
	rel    string
	before string
	after  string
}

type built struct {
	entry  *patch.Entry
	result FileResult
}

// Diff walks before and after and returns one diff entry per changed or
// added file, in path order. Files are paired by relative path.
func (b *Builder) Diff(ctx context.Context, before, after string) (patch.Set, *Report, error) {
	oldFiles, err := b.collect(before)
	if err != nil {
		return nil, nil, err
	}
	newFiles, err := b.collect(after)
	if err != nil {
		return nil, nil, err
	}

	pairs := match(oldFiles, newFiles)
	b.logger.Debug("Paired trees",
		zap.String("before", before),
		zap.String("after", after),
		zap.Int("before_files", len(oldFiles)),
		zap.Int("after_files", len(newFiles)),
		zap.Int("paths", len(pairs)))

	results := parallel.Map(ctx, pairs, b.workers, b.diffPair, func(p pair, err error) built {
		return built{result: FileResult{Path: p.rel, Status: StatusFailed, Err: err}}
	})

	return b.finish(results)
}

// Snapshot walks root and returns one snapshot entry per regular file
func (b *Builder) Snapshot(ctx context.Context, root string) (patch.Set, *Report, error) {
	files, err := b.collect(root)
	if err != nil {
		return nil, nil, err
	}

	results := parallel.Map(ctx, files, b.workers, b.snapshotFile, func(f file, err error) built {
		return built{result: FileResult{Path: f.rel, Status: StatusFailed, Err: err}}
	})

	return b.finish(results)
}

func (b *Builder) finish(results []built) (patch.Set, *Report, error) {
	set := make(patch.Set, 0, len(results))
	report := &Report{Files: make([]FileResult, 0, len(results))}

	for _, r := range results {
		report.Files = append(report.Files, r.result)
		if r.result.Err != nil {
			b.logger.Warn("Skipping file",
				zap.String("path", r.result.Path),
				zap.Error(r.result.Err))
		}
		if r.entry != nil {
			set = append(set, *r.entry)
		}
	}

	b.logger.Info("Built patch set",
		zap.Int("entries", len(set)),
		zap.Int("failed", report.Count(StatusFailed)),
		zap.Int64("payload_bytes", set.Size()))

	return set, report, nil
}

func (b *Builder) diffPair(_ context.Context, p pair) built {
	res := FileResult{Path: p.rel}

	if p.after == "" {
		res.Status = StatusRemoved
		return built{result: res}
	}

	var oldContent []byte
	if p.before != "" {
		var err error
		oldContent, err = os.ReadFile(p.before)
		if err != nil {
			res.Status = StatusFailed
			res.Err = fmt.Errorf("reading old content: %w", err)
			return built{result: res}
		}
	}

	newContent, err := os.ReadFile(p.after)
	if err != nil {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("reading new content: %w", err)
		return built{result: res}
	}

	switch {
	case p.before == "":
		res.Status = StatusAdded
	case delta.Unchanged(oldContent, newContent):
		res.Status = StatusUnchanged
		if !b.unchanged {
			return built{result: res}
		}
	default:
		res.Status = StatusModified
	}

	d, err := b.engine.Diff(oldContent, newContent)
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return built{result: res}
	}

	entry, err := patch.NewDiff(p.rel, d)
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return built{result: res}
	}

	res.Size = int64(len(d))
	return built{entry: &entry, result: res}
}

func (b *Builder) snapshotFile(_ context.Context, f file) built {
	res := FileResult{Path: f.rel}

	content, err := os.ReadFile(f.abs)
	if err != nil {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("reading content: %w", err)
		return built{result: res}
	}

	entry, err := patch.NewSnapshot(f.rel, content)
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		return built{result: res}
	}

	res.Status = StatusAdded
	res.Size = int64(len(content))
	return built{entry: &entry, result: res}
}

// match merges two path-sorted file lists into pairs keyed by relative path
func match(oldFiles, newFiles []file) []pair {
	pairs := make([]pair, 0, max(len(oldFiles), len(newFiles)))
	i, j := 0, 0
	for i < len(oldFiles) || j < len(newFiles) {
		switch {
		case j >= len(newFiles) || (i < len(oldFiles) && oldFiles[i].rel < newFiles[j].rel):
			pairs = append(pairs, pair{rel: oldFiles[i].rel, before: oldFiles[i].abs})
			i++
		case i >= len(oldFiles) || newFiles[j].rel < oldFiles[i].rel:
			pairs = append(pairs, pair{rel: newFiles[j].rel, after: newFiles[j].abs})
			j++
		default:
			pairs = append(pairs, pair{rel: oldFiles[i].rel, before: oldFiles[i].abs, after: newFiles[j].abs})
			i++
			j++
		}
	}
	return pairs
}
