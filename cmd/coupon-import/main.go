// Command coupon-import bulk loads coupon codes from gzip files, one code per
// line. Every imported code shares the discount rule given by flags.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
	"github.com/xenking/kart-ledger/internal/domain/promotion"
	"github.com/xenking/kart-ledger/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	minCodeLen    = 4
	maxCodeLen    = 32
	sampleSize    = 10
)

type couponStore interface {
	FindCouponByCode(ctx context.Context, code string) (*promotion.Coupon, error)
	PutCoupon(ctx context.Context, c *promotion.Coupon) error
}

// dryRun reports every code as new and writes nothing.
type dryRun struct{}

func (dryRun) FindCouponByCode(_ context.Context, code string) (*promotion.Coupon, error) {
	return nil, errors.Wrapf(apperr.ErrNotFound, "coupon %q", code)
}

func (dryRun) PutCoupon(context.Context, *promotion.Coupon) error { return nil }

func main() {
	var (
		databaseURL string
		discount    string
		value       string
		maxDiscount string
		minAmount   string
		usageLimit  int
		perUser     int
		stackable   bool
		starts      string
		ends        string
		expected    uint
		workers     int
		overwrite   bool
		dry         bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&discount, "type", string(promotion.DiscountPercentage), "discount type: percentage or flat")
	flag.StringVar(&value, "value", "10", "discount percent or flat amount")
	flag.StringVar(&maxDiscount, "max-discount", "0", "cap for percentage discounts, 0 is uncapped")
	flag.StringVar(&minAmount, "min-amount", "0", "minimum merchandise amount")
	flag.IntVar(&usageLimit, "usage-limit", 1, "total redemptions per code, 0 is unlimited")
	flag.IntVar(&perUser, "per-user", 1, "redemptions per customer, 0 is unlimited")
	flag.BoolVar(&stackable, "stackable", false, "combine with stackable offers")
	flag.StringVar(&starts, "starts", "", "validity start (RFC 3339), default now")
	flag.StringVar(&ends, "ends", "", "validity end (RFC 3339), default open ended")
	flag.UintVar(&expected, "expected", 10_000_000, "expected number of codes, sizes the bloom filter")
	flag.IntVar(&workers, "workers", 8, "concurrent database writers")
	flag.BoolVar(&overwrite, "overwrite", false, "replace coupons that already exist")
	flag.BoolVar(&dry, "dry-run", false, "scan and report without writing")
	flag.Parse()

	if flag.NArg() == 0 {
		slog.Error("no input files: coupon-import [flags] codes1.gz [codes2.gz ...]")
		os.Exit(1)
	}

	template, err := couponTemplate(discount, value, maxDiscount, minAmount, starts, ends)
	if err != nil {
		slog.Error("invalid discount rule", slog.String("error", err.Error()))
		os.Exit(1)
	}
	template.UsageLimit = usageLimit
	template.MaxUsagePerUser = perUser
	template.Stackable = stackable

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dry {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var store couponStore = dryRun{}
	if !dry {
		pool, err := postgres.NewPool(ctx, databaseURL)
		if err != nil {
			slog.Error("connect to database", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()
		store = postgres.New(pool)
	}

	im := &importer{
		store:     store,
		template:  template,
		overwrite: overwrite,
		workers:   workers,
		capacity:  expected,
	}
	rep, err := im.Run(ctx, flag.Args())
	if err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed",
		slog.Int64("read", rep.Read),
		slog.Int64("invalid", rep.Invalid),
		slog.Int64("duplicates", rep.Duplicates),
		slog.Int64("conflicts", rep.Conflicts.Load()),
		slog.Int64("written", rep.Written.Load()),
		slog.Bool("dry_run", dry),
	)
}

func couponTemplate(discount, value, maxDiscount, minAmount, starts, ends string) (promotion.Coupon, error) {
	c := promotion.Coupon{
		DiscountType: promotion.DiscountType(discount),
		Status:       promotion.StatusActive,
		Window:       promotion.Window{Start: time.Now().UTC()},
	}
	if !c.DiscountType.Valid() {
		return c, errors.Errorf("unknown discount type %q", discount)
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"value", value, &c.Value},
		{"max discount", maxDiscount, &c.MaxDiscount},
		{"min amount", minAmount, &c.MinAmount},
	} {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return c, errors.Wrapf(err, "parse %s", f.name)
		}
		if d.IsNegative() {
			return c, errors.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}
	if !c.Value.IsPositive() {
		return c, errors.New("value must be positive")
	}
	if c.DiscountType == promotion.DiscountPercentage && c.Value.GreaterThan(decimal.NewFromInt(100)) {
		return c, errors.New("percentage must not exceed 100")
	}
	for _, f := range []struct {
		raw string
		dst *time.Time
	}{
		{starts, &c.Window.Start},
		{ends, &c.Window.End},
	} {
		if f.raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, f.raw)
		if err != nil {
			return c, errors.Wrapf(err, "parse time %q", f.raw)
		}
		*f.dst = t.UTC()
	}
	if !c.Window.End.IsZero() && !c.Window.End.After(c.Window.Start) {
		return c, errors.New("validity end must be after start")
	}
	return c, nil
}

type report struct {
	Read       int64
	Invalid    int64
	Duplicates int64
	Conflicts  atomic.Int64
	Written    atomic.Int64
}

// importer finds duplicates in two passes so that only codes the bloom filter
// flagged are ever held in memory exactly.
type importer struct {
	store     couponStore
	template  promotion.Coupon
	overwrite bool
	workers   int
	capacity  uint
}

// Run imports every valid, unique code in files.
func (im *importer) Run(ctx context.Context, files []string) (*report, error) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return nil, errors.Wrapf(err, "check file %s", f)
		}
	}
	rep := &report{}

	slog.Info("pass 1: scanning for duplicate candidates", slog.Int("files", len(files)))
	suspects, err := im.findSuspects(ctx, files, rep)
	if err != nil {
		return nil, errors.Wrap(err, "find duplicates")
	}
	slog.Info("pass 1 complete",
		slog.Int64("codes", rep.Read),
		slog.Int("candidates", len(suspects)),
	)

	slog.Info("pass 2: writing coupons")
	if err := im.write(ctx, files, suspects, rep); err != nil {
		return rep, errors.Wrap(err, "write coupons")
	}

	var dups []string
	for code, n := range suspects {
		if n > 1 {
			rep.Duplicates += int64(n - 1)
			dups = append(dups, code)
		}
	}
	if len(dups) > 0 {
		sort.Strings(dups)
		slog.Warn("duplicate codes imported once",
			slog.Int("codes", len(dups)),
			slog.Any("sample", dups[:min(len(dups), sampleSize)]),
		)
	}
	return rep, nil
}

// findSuspects returns the codes the bloom filter had seen before, which is
// every duplicate plus a few false positives.
func (im *importer) findSuspects(ctx context.Context, files []string, rep *report) (map[string]int, error) {
	filter := bloom.NewWithEstimates(max(im.capacity, 1), bloomFPR)
	suspects := make(map[string]int)

	err := streamCodes(ctx, files, func(raw string) {
		code, ok := normalize(raw)
		if !ok {
			rep.Invalid++
			return
		}
		rep.Read++
		if rep.Read%progressEvery == 0 {
			slog.Info("pass 1 progress", slog.Int64("codes", rep.Read))
		}
		if filter.TestAndAddString(code) {
			suspects[code] = 0
		}
	})
	return suspects, err
}

func (im *importer) write(ctx context.Context, files []string, suspects map[string]int, rep *report) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(im.workers, 1))

	err := streamCodes(gctx, files, func(raw string) {
		code, ok := normalize(raw)
		if !ok {
			return
		}
		if n, suspect := suspects[code]; suspect {
			suspects[code] = n + 1
			if n > 0 {
				return
			}
		}
		g.Go(func() error { return im.put(gctx, code, rep) })
	})
	if werr := g.Wait(); werr != nil {
		return werr
	}
	return err
}

func (im *importer) put(ctx context.Context, code string, rep *report) error {
	_, err := im.store.FindCouponByCode(ctx, code)
	switch {
	case err == nil && !im.overwrite:
		rep.Conflicts.Add(1)
		slog.Warn("coupon exists, skipped", slog.String("code", code))
		return nil
	case err != nil && !errors.Is(err, apperr.ErrNotFound):
		return errors.Wrapf(err, "look up coupon %s", code)
	}

	c := im.template
	c.Code = code
	if err := im.store.PutCoupon(ctx, &c); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			rep.Conflicts.Add(1)
			slog.Warn("coupon conflict", slog.String("code", code), slog.String("error", err.Error()))
			return nil
		}
		return errors.Wrapf(err, "put coupon %s", code)
	}
	if n := rep.Written.Add(1); n%progressEvery == 0 {
		slog.Info("pass 2 progress", slog.Int64("written", n))
	}
	return nil
}

// normalize returns the canonical code and whether it is importable.
func normalize(raw string) (string, bool) {
	code := promotion.NormalizeCode(raw)
	if len(code) < minCodeLen || len(code) > maxCodeLen {
		return "", false
	}
	for i := 0; i < len(code); i++ {
		ch := code[i]
		if (ch < 'A' || ch > 'Z') && (ch < '0' || ch > '9') {
			return "", false
		}
	}
	return code, true
}

// streamCodes reads all files concurrently and calls fn for every line from
// a single goroutine.
func streamCodes(ctx context.Context, files []string, fn func(line string)) error {
	g, ctx := errgroup.WithContext(ctx)
	lines := make(chan string, 4096)
	for _, path := range files {
		g.Go(func() error {
			return streamGzFile(ctx, path, func(line string) error {
				select {
				case lines <- line:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		})
	}
	go func() {
		_ = g.Wait()
		close(lines)
	}()

	for line := range lines {
		fn(line)
	}
	return g.Wait()
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line string) error) error {
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
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(scanner.Text()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
