package analysis

import (
	"os"
	"path/filepath"
	"testing"

	"deepx/internal/logger"
	"deepx/internal/model"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name       string
		deep, fofa model.DomainSet
		brute      model.DomainSet
		wantHidden []string
		wantTotal  []string
	}{
		{
			name:       "deep only",
			deep:       model.NewDomainSet("a.x.com", "b.x.com"),
			fofa:       model.NewDomainSet("b.x.com", "c.x.com"),
			brute:      model.NewDomainSet(),
			wantHidden: []string{"a.x.com"},
			wantTotal:  []string{"a.x.com", "b.x.com", "c.x.com"},
		},
		{
			name:       "brute adds hidden",
			deep:       model.NewDomainSet("a.x.com"),
			fofa:       model.NewDomainSet("a.x.com"),
			brute:      model.NewDomainSet("d.x.com", "a.x.com"),
			wantHidden: []string{"d.x.com"},
			wantTotal:  []string{"a.x.com", "d.x.com"},
		},
		{
			name:       "all empty",
			deep:       model.NewDomainSet(),
			fofa:       model.NewDomainSet(),
			brute:      model.NewDomainSet(),
			wantHidden: []string{},
			wantTotal:  []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compare(tt.deep, tt.fofa, tt.brute)
			if !equal(got.Hidden.Sorted(), tt.wantHidden) {
				t.Fatalf("Hidden = %v, want %v", got.Hidden.Sorted(), tt.wantHidden)
			}
			if !equal(got.Total.Sorted(), tt.wantTotal) {
				t.Fatalf("Total = %v, want %v", got.Total.Sorted(), tt.wantTotal)
			}
			for d := range got.Hidden {
				if tt.fofa.Has(d) || !got.Total.Has(d) {
					t.Fatalf("hidden domain %s overlaps fofa or is missing from total", d)
				}
			}
		})
	}
}

func TestComparatorRunMissingFileAndOutputs(t *testing.T) {
	dir := t.TempDir()
	deep := filepath.Join(dir, "deep.txt")
	fofa := filepath.Join(dir, "fofa.txt")
	os.WriteFile(deep, []byte("A.x.com\nb.x.com\n\n"), 0o644)
	os.WriteFile(fofa, []byte("b.x.com\n"), 0o644)

	files := Files{
		Deep:   deep,
		Fofa:   fofa,
		Brute:  filepath.Join(dir, "missing.txt"),
		Hidden: filepath.Join(dir, "out", "hidden.txt"),
		Total:  filepath.Join(dir, "out", "total.txt"),
	}
	result := NewComparator(logger.Nop()).Run(files)
	if result.Hidden.Len() != 1 || !result.Hidden.Has("a.x.com") {
		t.Fatalf("Hidden = %v, want [a.x.com]", result.Hidden.Sorted())
	}

	hidden, _ := os.ReadFile(files.Hidden)
	if string(hidden) != "a.x.com\n" {
		t.Fatalf("hidden file = %q", hidden)
	}
	total, _ := os.ReadFile(files.Total)
	if string(total) != "a.x.com\nb.x.com\n" {
		t.Fatalf("total file = %q", total)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
