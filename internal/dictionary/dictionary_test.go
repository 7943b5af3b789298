package dictionary

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"deepx/internal/logger"
	"deepx/internal/model"
)

func TestExtractWordsSingleLevel(t *testing.T) {
	d := New("", false, logger.Nop())
	tests := []struct {
		domain string
		want   string
	}{
		{"www.example.com", "[www]"},
		{"API.Example.com", "[api]"},
		{"a.example.com", "[]"},
		{"dev.api.example.com", "[]"},
		{"example.com", "[]"},
		{"www.other.com", "[]"},
		{"bad!.example.com", "[]"},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			if got := fmt.Sprint(d.ExtractWords(tt.domain, "example.com")); got != tt.want {
				t.Fatalf("ExtractWords(%q) = %s, want %s", tt.domain, got, tt.want)
			}
		})
	}
}

func TestExtractWordsMultiLevel(t *testing.T) {
	d := New("", true, logger.Nop())
	got := fmt.Sprint(d.ExtractWords("dev.x.api.example.com", "example.com"))
	if got != "[dev api]" {
		t.Fatalf("ExtractWords = %s, want [dev api]", got)
	}
	got = fmt.Sprint(d.ExtractWords("dev.api.example.com", "example.com"))
	if got != "[dev dev.api api]" {
		t.Fatalf("ExtractWords = %s, want [dev dev.api api]", got)
	}
}

func TestUpdateMergesAndRewritesOnlyOnNewWords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "dict.txt")
	d := New(path, false, logger.Nop())

	added, err := d.Update("example.com", model.NewDomainSet("www.example.com", "mail.example.com", "x.example.com"))
	if err != nil || added != 2 {
		t.Fatalf("Update() = %d, %v; want 2, nil", added, err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "mail\nwww\n" {
		t.Fatalf("dictionary file = %q", data)
	}

	// no new words: file untouched
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	os.Chtimes(path, old, old)
	added, err = d.Update("example.com", model.NewDomainSet("www.example.com"))
	if err != nil || added != 0 {
		t.Fatalf("second Update() = %d, %v", added, err)
	}
	info, _ := os.Stat(path)
	if !info.ModTime().Equal(old) {
		t.Fatal("dictionary rewritten without new words")
	}

	added, _ = d.Update("example.com", model.NewDomainSet("api.example.com"))
	data, _ = os.ReadFile(path)
	if added != 1 || string(data) != "api\nmail\nwww\n" {
		t.Fatalf("after third Update(): added=%d file=%q", added, data)
	}

	words, err := d.Words()
	if err != nil || fmt.Sprint(words) != "[api mail www]" {
		t.Fatalf("Words() = %v, %v", words, err)
	}
}

func TestWordsMissingFile(t *testing.T) {
	d := New(filepath.Join(t.TempDir(), "none.txt"), false, logger.Nop())
	if _, err := d.Words(); err == nil {
		t.Fatal("Words() on a missing file returned no error")
	}
	set, err := d.Load()
	if err != nil || set.Len() != 0 {
		t.Fatalf("Load() = %v, %v", set.Sorted(), err)
	}
}
