package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
	"github.com/xenking/kart-ledger/internal/domain/promotion"
)

type fakeStore struct {
	mu      sync.Mutex
	coupons map[string]promotion.Coupon
	puts    []string
}

func newFakeStore(existing ...string) *fakeStore {
	s := &fakeStore{coupons: make(map[string]promotion.Coupon)}
	for _, code := range existing {
		s.coupons[code] = promotion.Coupon{Code: code}
	}
	return s
}

func (s *fakeStore) FindCouponByCode(_ context.Context, code string) (*promotion.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[code]
	if !ok {
		return nil, errors.Wrapf(apperr.ErrNotFound, "coupon %q", code)
	}
	return &c, nil
}

func (s *fakeStore) PutCoupon(_ context.Context, c *promotion.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[c.Code] = *c
	s.puts = append(s.puts, c.Code)
	return nil
}

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func TestImporter_Run(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "a.gz", "summer10", "WINTER20", "bad code!", "abc", "SUMMER10"),
		writeGz(t, dir, "b.gz", " winter20 ", "SPRING30", "LEGACY01"),
	}
	store := newFakeStore("LEGACY01")
	im := &importer{
		store:    store,
		template: promotion.Coupon{DiscountType: promotion.DiscountPercentage, Value: decimal.NewFromInt(10)},
		workers:  2,
		capacity: 100,
	}

	rep, err := im.Run(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, int64(6), rep.Read)
	assert.Equal(t, int64(2), rep.Invalid)
	assert.Equal(t, int64(2), rep.Duplicates)
	assert.Equal(t, int64(1), rep.Conflicts.Load())
	assert.Equal(t, int64(3), rep.Written.Load())
	assert.ElementsMatch(t, []string{"SUMMER10", "WINTER20", "SPRING30"}, store.puts)

	got := store.coupons["SPRING30"]
	assert.Equal(t, promotion.DiscountPercentage, got.DiscountType)
	assert.True(t, got.Value.Equal(decimal.NewFromInt(10)))
}

func TestImporter_Overwrite(t *testing.T) {
	dir := t.TempDir()
	files := []string{writeGz(t, dir, "a.gz", "LEGACY01")}
	store := newFakeStore("LEGACY01")
	im := &importer{store: store, overwrite: true, workers: 1, capacity: 10}

	rep, err := im.Run(context.Background(), files)
	require.NoError(t, err)
	assert.Zero(t, rep.Conflicts.Load())
	assert.Equal(t, []string{"LEGACY01"}, store.puts)
}

func TestImporter_MissingFile(t *testing.T) {
	im := &importer{store: newFakeStore(), workers: 1, capacity: 10}
	_, err := im.Run(context.Background(), []string{filepath.Join(t.TempDir(), "nope.gz")})
	assert.ErrorContains(t, err, "check file")
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{raw: " save10 ", want: "SAVE10", ok: true},
		{raw: "abc", ok: false},
		{raw: "HALF-OFF", ok: false},
		{raw: strings.Repeat("A", maxCodeLen+1), ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := normalize(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCouponTemplate(t *testing.T) {
	c, err := couponTemplate("flat", "50", "0", "200", "2026-01-01T00:00:00Z", "2026-02-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, promotion.DiscountFlat, c.DiscountType)
	assert.Equal(t, promotion.StatusActive, c.Status)
	assert.True(t, c.MinAmount.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, 2026, c.Window.Start.Year())

	for name, args := range map[string][6]string{
		"unknown type":     {"bogo", "10", "0", "0", "", ""},
		"zero value":       {"flat", "0", "0", "0", "", ""},
		"over 100":         {"percentage", "101", "0", "0", "", ""},
		"negative min":     {"flat", "5", "0", "-1", "", ""},
		"end before start": {"flat", "5", "0", "0", "2026-02-01T00:00:00Z", "2026-01-01T00:00:00Z"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := couponTemplate(args[0], args[1], args[2], args[3], args[4], args[5])
			assert.Error(t, err)
		})
	}
}
