package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/cookmart/internal/domain/coupon"
)

const (
	bloomFPR      = 0.001
	minBloomSize  = 1 << 16
	maxLineSize   = 1 << 20
	progressEvery = 10_000
)

// store is the part of the coupon repository the importer writes through.
type store interface {
	Codes(ctx context.Context) ([]string, error)
	Upsert(ctx context.Context, c *coupon.Coupon) (bool, error)
	SoftDelete(ctx context.Context, code string, at time.Time) error
}

// stats counts import outcomes.
type stats struct {
	read       atomic.Int64
	invalid    atomic.Int64
	duplicates atomic.Int64
	inserted   atomic.Int64
	updated    atomic.Int64
	deleted    atomic.Int64
	// skipped counts tombstones for codes the database never had.
	skipped atomic.Int64
}

func (s *stats) fields() []zap.Field {
	return []zap.Field{
		zap.Int64("read", s.read.Load()),
		zap.Int64("invalid", s.invalid.Load()),
		zap.Int64("duplicates", s.duplicates.Load()),
		zap.Int64("inserted", s.inserted.Load()),
		zap.Int64("updated", s.updated.Load()),
		zap.Int64("deleted", s.deleted.Load()),
		zap.Int64("skipped", s.skipped.Load()),
	}
}

// importer loads coupon files into a store.
type importer struct {
	store   store
	workers int
	strict  bool
	now     func() time.Time
}

// Run imports files concurrently. Every file gets its own reader and queue; a
// single stage drains the queues in argument order and drops repeated codes,
// so the occurrence in the earliest file, then the earliest line, wins.
// Workers write the rest.
func (im *importer) Run(ctx context.Context, files []string) (*stats, error) {
	lg := zctx.From(ctx)
	st := &stats{}

	existing, err := im.existingCodes(ctx)
	if err != nil {
		return st, err
	}

	g, gctx := errgroup.WithContext(ctx)
	queues := make([]chan record, len(files))
	jobs := make(chan record, 256)

	readers, rctx := errgroup.WithContext(gctx)
	for i, f := range files {
		queues[i] = make(chan record, 256)
		readers.Go(func() error {
			defer close(queues[i])
			return im.readFile(rctx, f, queues[i], st)
		})
	}
	g.Go(readers.Wait)

	g.Go(func() error {
		defer close(jobs)
		seen := make(map[string]string)
		for _, q := range queues {
			for r := range q {
				if first, dup := seen[r.Coupon.Code]; dup {
					st.duplicates.Add(1)
					lg.Warn("Duplicate coupon code, keeping first",
						zap.String("code", r.Coupon.Code),
						zap.String("first", first),
						zap.String("duplicate", r.Source),
					)
					continue
				}
				seen[r.Coupon.Code] = r.Source
				select {
				case jobs <- r:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		}
		return nil
	})

	for range im.workers {
		g.Go(func() error {
			for r := range jobs {
				if err := im.write(gctx, r, existing, st); err != nil {
					return err
				}
			}
			return nil
		})
	}

	err = g.Wait()
	return st, err
}

// existingCodes loads the live codes into a bloom filter. A negative answer
// proves a code is absent, so tombstones for unknown codes skip the database.
func (im *importer) existingCodes(ctx context.Context) (*bloom.BloomFilter, error) {
	codes, err := im.store.Codes(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load existing codes")
	}
	filter := bloom.NewWithEstimates(uint(max(len(codes), minBloomSize)), bloomFPR)
	for _, code := range codes {
		filter.AddString(coupon.NormalizeCode(code))
	}
	zctx.From(ctx).Info("Loaded existing codes", zap.Int("count", len(codes)))
	return filter, nil
}

func (im *importer) write(ctx context.Context, r record, existing *bloom.BloomFilter, st *stats) error {
	if r.Deleted {
		if !existing.TestString(r.Coupon.Code) {
			st.skipped.Add(1)
			return nil
		}
		err := im.store.SoftDelete(ctx, r.Coupon.Code, im.now())
		switch {
		case errors.Is(err, coupon.ErrNotFound):
			st.skipped.Add(1)
			return nil
		case err != nil:
			return errors.Wrapf(err, "delete %s (%s)", r.Coupon.Code, r.Source)
		}
		st.deleted.Add(1)
		return nil
	}

	if r.Coupon.ID == "" {
		r.Coupon.ID = uuid.NewString()
	}
	inserted, err := im.store.Upsert(ctx, &r.Coupon)
	if err != nil {
		return errors.Wrapf(err, "upsert %s (%s)", r.Coupon.Code, r.Source)
	}
	if inserted {
		st.inserted.Add(1)
	} else {
		st.updated.Add(1)
	}
	return nil
}

// readFile streams a gzip-compressed JSON-lines file into out. Blank lines are
// ignored. Malformed lines are logged and counted, or fail the import in
// strict mode.
func (im *importer) readFile(ctx context.Context, path string, out chan<- record, st *stats) error {
	lg := zctx.From(ctx).With(zap.String("file", path))

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var n, lineNo int
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		st.read.Add(1)

		r, err := decodeRecord(line)
		if err != nil {
			if im.strict {
				return errors.Wrapf(err, "%s:%d", path, lineNo)
			}
			st.invalid.Add(1)
			lg.Warn("Skipping invalid coupon", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		r.Source = fmt.Sprintf("%s:%d", path, lineNo)

		select {
		case out <- r:
		case <-ctx.Done():
			return ctx.Err()
		}
		n++
		if n%progressEvery == 0 {
			lg.Info("Import progress", zap.Int("records", n))
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	lg.Info("File read", zap.Int("records", n))
	return nil
}
