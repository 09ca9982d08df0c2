package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/cookmart/internal/domain/coupon"
)

type fakeStore struct {
	mu      sync.Mutex
	coupons map[string]coupon.Coupon
	deleted []string
	calls   int
}

func newFakeStore(codes ...string) *fakeStore {
	s := &fakeStore{coupons: make(map[string]coupon.Coupon)}
	for _, code := range codes {
		s.coupons[code] = coupon.Coupon{ID: "old-" + code, Code: code}
	}
	return s
}

func (s *fakeStore) Codes(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.coupons))
	for code := range s.coupons {
		out = append(out, code)
	}
	return out, nil
}

func (s *fakeStore) Upsert(_ context.Context, c *coupon.Coupon) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	_, exists := s.coupons[c.Code]
	s.coupons[c.Code] = *c
	return !exists, nil
}

func (s *fakeStore) SoftDelete(_ context.Context, code string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if _, ok := s.coupons[code]; !ok {
		return coupon.ErrNotFound
	}
	delete(s.coupons, code)
	s.deleted = append(s.deleted, code)
	return nil
}

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return path
}

func line(code string) string {
	return `{"code":"` + code + `","discount":{"type":"fixed","value":1000},` +
		`"startAt":"2026-01-01T00:00:00Z","endAt":"2026-12-31T00:00:00Z"}`
}

func TestImporter_Run(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "a.jsonl.gz", line("NEW1"), line("KEEP"), "", line("NEW1")),
		writeGz(t, dir, "b.jsonl.gz", line("NEW2"), `{"code":"GONE","deleted":true}`, `not json`),
		writeGz(t, dir, "c.jsonl.gz", `{"code":"NEVERHERE","deleted":true}`),
	}
	store := newFakeStore("KEEP", "GONE")
	im := &importer{store: store, workers: 3, now: time.Now}

	st, err := im.Run(context.Background(), files)
	require.NoError(t, err)

	assert.EqualValues(t, 7, st.read.Load())
	assert.EqualValues(t, 1, st.invalid.Load())
	assert.EqualValues(t, 1, st.duplicates.Load())
	assert.EqualValues(t, 2, st.inserted.Load())
	assert.EqualValues(t, 1, st.updated.Load())
	assert.EqualValues(t, 1, st.deleted.Load())
	assert.EqualValues(t, 1, st.skipped.Load())

	assert.Equal(t, []string{"GONE"}, store.deleted)
	assert.Contains(t, store.coupons, "NEW1")
	assert.NotEmpty(t, store.coupons["NEW1"].ID)
	assert.Equal(t, 4, store.calls, "tombstone for an unknown code must not reach the store")
}

func TestImporter_FirstFileWins(t *testing.T) {
	dir := t.TempDir()
	withDesc := func(desc string) string {
		return `{"code":"DUP","description":"` + desc + `","discount":{"type":"fixed","value":1000},` +
			`"startAt":"2026-01-01T00:00:00Z","endAt":"2026-12-31T00:00:00Z"}`
	}
	// The later file is much smaller so its reader tends to finish first.
	filler := make([]string, 0, 2001)
	for i := range 2000 {
		filler = append(filler, line(fmt.Sprintf("FILL%d", i)))
	}
	big := writeGz(t, dir, "big.jsonl.gz", append(filler, withDesc("from big"))...)
	small := writeGz(t, dir, "small.jsonl.gz", withDesc("from small"))

	tests := []struct {
		name  string
		files []string
		want  string
	}{
		{name: "big first", files: []string{big, small}, want: "from big"},
		{name: "small first", files: []string{small, big}, want: "from small"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			im := &importer{store: store, workers: 4, now: time.Now}

			st, err := im.Run(context.Background(), tt.files)
			require.NoError(t, err)
			assert.EqualValues(t, 1, st.duplicates.Load())
			assert.Equal(t, tt.want, store.coupons["DUP"].Description)
		})
	}
}

func TestImporter_Strict(t *testing.T) {
	dir := t.TempDir()
	path := writeGz(t, dir, "bad.jsonl.gz", line("OK1"), `{"code":`)
	im := &importer{store: newFakeStore(), workers: 1, strict: true, now: time.Now}

	_, err := im.Run(context.Background(), []string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.jsonl.gz:2")
}

func TestImporter_MissingFile(t *testing.T) {
	im := &importer{store: newFakeStore(), workers: 1, now: time.Now}

	_, err := im.Run(context.Background(), []string{filepath.Join(t.TempDir(), "nope.gz")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open")
}
