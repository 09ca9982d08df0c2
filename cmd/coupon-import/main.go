// Command coupon-import loads coupon definitions from gzip-compressed
// JSON-lines files.
//
// Each line is one coupon object as served by the API, plus optional
// "deleted": true to retire a code:
//
//	{"code":"FLASH100","discount":{"type":"fixed","value":20000},"usageLimit":100,
//	 "startAt":"2026-01-01T00:00:00Z","endAt":"2026-02-01T00:00:00Z"}
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/cookmart/internal/storage/postgres"
)

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
		workers     int
		strict      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing import files")
	flag.StringVar(&pattern, "pattern", "*.jsonl.gz", "glob for import files inside data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", runtime.GOMAXPROCS(0), "concurrent database writers")
	flag.BoolVar(&strict, "strict", false, "fail on the first malformed line instead of skipping it")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = zctx.Base(ctx, lg)

	if err := run(ctx, dataDir, pattern, databaseURL, max(workers, 1), strict); err != nil {
		lg.Error("Coupon import failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, dataDir, pattern, databaseURL string, workers int, strict bool) error {
	lg := zctx.From(ctx)

	files, err := filepath.Glob(filepath.Join(dataDir, pattern))
	if err != nil {
		return errors.Wrap(err, "list import files")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %s in %s", pattern, dataDir)
	}
	lg.Info("Importing coupons", zap.Strings("files", files), zap.Int("workers", workers))

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	im := &importer{
		store:   postgres.NewCouponRepository(pool),
		workers: workers,
		strict:  strict,
		now:     time.Now,
	}
	start := time.Now()
	st, err := im.Run(ctx, files)
	lg.Info("Import finished", append(st.fields(), zap.Duration("took", time.Since(start)))...)
	return err
}
