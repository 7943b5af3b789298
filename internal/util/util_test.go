package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestInScope(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"example.com", true},
		{"sub.example.com", true},
		{"a.b.example.com", true},
		{"SUB.Example.COM.", true},
		{"notexample.com", false},
		{"example.com.evil.com", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := InScope(tt.host, "example.com"); got != tt.want {
				t.Fatalf("InScope(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}

func TestInScopeIDN(t *testing.T) {
	if !InScope("www.bücher.de", "xn--bcher-kva.de") {
		t.Fatal("unicode host should match punycode target")
	}
}

func TestExtractHost(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://API.example.com:8443/path?q=1", "api.example.com"},
		{"http://example.com", "example.com"},
		{"a.example.com:80", "a.example.com"},
		{"a.example.com", "a.example.com"},
		{"ftp://user@files.example.com/x", "files.example.com"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ExtractHost(tt.in); got != tt.want {
				t.Fatalf("ExtractHost(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsValidDomain(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"example.com", true},
		{"a-b.example.co.uk", true},
		{"1.1.1.1", false},
		{"localhost", false},
		{"-bad.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsValidDomain(tt.in); got != tt.want {
			t.Fatalf("IsValidDomain(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLatestResultFile(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"fofa_example.com_20240101_000000.txt",
		"fofa_example.com_20240301_120000.txt",
		"fofa_example.com_notastamp.txt",
		"fofa_other.com_20250101_000000.txt",
		"deep_example.com_20250101_000000.txt",
	}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got := LatestResultFile(dir, "fofa", "example.com")
	want := filepath.Join(dir, "fofa_example.com_20240301_120000.txt")
	if got != want {
		t.Fatalf("LatestResultFile = %q, want %q", got, want)
	}
	if got := LatestResultFile(dir, "brute", "example.com"); got != "" {
		t.Fatalf("LatestResultFile(brute) = %q, want empty", got)
	}
}

func TestGenerateResultFileName(t *testing.T) {
	ts := GenerateTaskID(time.Date(2025, 7, 26, 15, 51, 3, 0, time.UTC))
	if got := GenerateResultFileName("hidden", "example.com", ts); got != "hidden_example.com_20250726_155103.txt" {
		t.Fatalf("GenerateResultFileName = %q", got)
	}
}
