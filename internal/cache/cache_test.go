package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"deepx/internal/config"
	"deepx/internal/logger"
	"deepx/internal/model"
)

func newTestStore(t *testing.T, now *time.Time) *Store {
	t.Helper()
	cfg := config.CacheConfig{Enabled: true, Dir: t.TempDir(), ExpireDays: 3}
	return NewStore(cfg, logger.Nop(), WithNow(func() time.Time { return *now }))
}

func sets() map[model.Category]model.DomainSet {
	return map[model.Category]model.DomainSet{
		model.CategoryDeep:  model.NewDomainSet("a.example.com", "b.example.com"),
		model.CategoryFofa:  model.NewDomainSet("b.example.com"),
		model.CategoryBrute: model.NewDomainSet(),
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.Local)
	s := newTestStore(t, &now)

	path, err := s.SaveDomainsToCache("example.com", sets())
	if err != nil {
		t.Fatalf("SaveDomainsToCache() error = %v", err)
	}
	if filepath.Base(path) != "example.com_20250301_120000.json" {
		t.Fatalf("path = %q", path)
	}

	got, ok := s.GetCachedDomains("example.com")
	if !ok {
		t.Fatal("GetCachedDomains() miss")
	}
	for cat, want := range sets() {
		if fmt.Sprint(got[cat].Sorted()) != fmt.Sprint(want.Sorted()) {
			t.Fatalf("%s = %v, want %v", cat, got[cat].Sorted(), want.Sorted())
		}
	}
}

func TestHasValidCacheBoundary(t *testing.T) {
	const window = 3 * 86400
	tests := []struct {
		name string
		age  time.Duration
		want bool
	}{
		{"inside", (window - 10) * time.Second, true},
		{"outside", (window + 10) * time.Second, false},
		{"fresh", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saved := time.Date(2025, 3, 1, 12, 0, 0, 0, time.Local)
			now := saved
			s := newTestStore(t, &now)
			if _, err := s.SaveDomainsToCache("example.com", sets()); err != nil {
				t.Fatal(err)
			}
			now = saved.Add(tt.age)
			if got := s.HasValidCache("example.com"); got != tt.want {
				t.Fatalf("HasValidCache() at age %v = %v, want %v", tt.age, got, tt.want)
			}
		})
	}
}

func TestNewestSnapshotWins(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.Local)
	s := newTestStore(t, &now)

	first := map[model.Category]model.DomainSet{model.CategoryDeep: model.NewDomainSet("old.example.com")}
	second := map[model.Category]model.DomainSet{model.CategoryDeep: model.NewDomainSet("new.example.com")}
	third := map[model.Category]model.DomainSet{model.CategoryDeep: model.NewDomainSet("newest.example.com")}

	p1, _ := s.SaveDomainsToCache("example.com", first)
	p2, _ := s.SaveDomainsToCache("example.com", second) // same second
	now = now.Add(time.Hour)
	p3, _ := s.SaveDomainsToCache("example.com", third)

	if p1 == p2 || filepath.Base(p2) != "example.com_20250301_120000_1.json" {
		t.Fatalf("same-second save overwrote or misnamed: %q %q", p1, p2)
	}
	for _, p := range []string{p1, p2, p3} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("snapshot %s missing: %v", p, err)
		}
	}

	got, _ := s.GetCachedDomains("example.com")
	if !got[model.CategoryDeep].Has("newest.example.com") || got[model.CategoryDeep].Len() != 1 {
		t.Fatalf("deep = %v", got[model.CategoryDeep].Sorted())
	}
}

func TestCorruptLatestIsMiss(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.Local)
	s := newTestStore(t, &now)
	if _, err := s.SaveDomainsToCache("example.com", sets()); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(s.Dir(), "example.com_20250301_130000.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if s.HasValidCache("example.com") {
		t.Fatal("HasValidCache() = true with corrupt newest snapshot")
	}
	if _, ok := s.GetCachedDomains("example.com"); ok {
		t.Fatal("GetCachedDomains() hit with corrupt newest snapshot")
	}
}

func TestDisabledStore(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(config.CacheConfig{Enabled: false, Dir: dir, ExpireDays: 3}, logger.Nop())
	path, err := s.SaveDomainsToCache("example.com", sets())
	if err != nil || path != "" {
		t.Fatalf("SaveDomainsToCache() = %q, %v", path, err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("disabled store wrote %d files", len(entries))
	}
	if s.HasValidCache("example.com") {
		t.Fatal("disabled store reports a valid cache")
	}
}

func TestCleanExpiredCache(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.Local)
	now := start
	s := newTestStore(t, &now)

	old, _ := s.SaveDomainsToCache("example.com", sets())
	oldAlive, err := s.SaveAliveResults("example.com", []model.AliveResult{model.NewDeadResult("x.example.com", "http://x.example.com", "refused")})
	if err != nil {
		t.Fatal(err)
	}
	now = start.Add(5 * 24 * time.Hour)
	recent, _ := s.SaveDomainsToCache("example.com", sets())
	corrupt := filepath.Join(s.Dir(), "other.com_20250301_120000.json")
	os.WriteFile(corrupt, []byte("garbage"), 0o644)
	keep := filepath.Join(s.Dir(), "notes.txt")
	os.WriteFile(keep, []byte("x"), 0o644)

	if removed := s.CleanExpiredCache(); removed != 3 {
		t.Fatalf("CleanExpiredCache() = %d, want 3", removed)
	}
	for _, p := range []string{old, oldAlive, corrupt} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("%s should be removed", p)
		}
	}
	for _, p := range []string{recent, keep} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("%s should remain: %v", p, err)
		}
	}
}

func TestSaveAliveResultsFormat(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.Local)
	s := newTestStore(t, &now)
	path, err := s.SaveAliveResults("example.com", nil)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	var snap model.AliveSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("alive snapshot not valid JSON: %v", err)
	}
	if snap.Domain != "example.com" || snap.Results == nil || snap.Timestamp == 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
}
