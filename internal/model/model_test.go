package model

import (
	"reflect"
	"testing"
	"time"
)

func TestDomainSetAlgebra(t *testing.T) {
	a := NewDomainSet("a.example.com", "b.example.com", "a.example.com")
	b := NewDomainSet("b.example.com", "c.example.com")

	if a.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", a.Len())
	}

	union := a.Union(b)
	if got, want := union.Sorted(), []string{"a.example.com", "b.example.com", "c.example.com"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Union = %v, want %v", got, want)
	}
	if got := union.Union(a); !reflect.DeepEqual(got.Sorted(), union.Sorted()) {
		t.Fatalf("union is not idempotent: %v", got.Sorted())
	}

	minus := a.Minus(b)
	if got, want := minus.Sorted(), []string{"a.example.com"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Minus = %v, want %v", got, want)
	}
	if got := a.Intersect(b).Sorted(); !reflect.DeepEqual(got, []string{"b.example.com"}) {
		t.Fatalf("Intersect = %v", got)
	}

	// originals unchanged
	if a.Len() != 2 || b.Len() != 2 {
		t.Fatalf("operands were mutated: a=%v b=%v", a.Sorted(), b.Sorted())
	}
}

func TestDomainSetAddIgnoresEmpty(t *testing.T) {
	s := NewDomainSet("")
	s.Add("")
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestSnapshotSets(t *testing.T) {
	snap := Snapshot{
		Domain:       "example.com",
		DeepDomains:  []string{"a.example.com"},
		FofaDomains:  []string{"b.example.com"},
		BruteDomains: nil,
	}
	sets := snap.Sets()
	if !sets[CategoryDeep].Has("a.example.com") || !sets[CategoryFofa].Has("b.example.com") {
		t.Fatalf("unexpected sets: %v", sets)
	}
	if sets[CategoryBrute] == nil || sets[CategoryBrute].Len() != 0 {
		t.Fatalf("brute set = %v, want empty non-nil", sets[CategoryBrute])
	}
}

func TestAliveResultOptionalFields(t *testing.T) {
	dead := NewDeadResult("x.example.com", "http://x.example.com", "connection refused")
	if dead.IsAlive() {
		t.Fatal("dead result reports alive")
	}
	if _, ok := dead.StatusCode(); ok {
		t.Fatal("dead result has a status code")
	}
	if msg, ok := dead.Error(); !ok || msg != "connection refused" {
		t.Fatalf("Error() = %q, %v", msg, ok)
	}

	title := "Home"
	headers := map[string]string{"Server": "nginx"}
	alive := NewAliveResult("a.example.com", "https://a.example.com", "https", AliveResponse{
		StatusCode:   200,
		Title:        &title,
		ResponseTime: 120 * time.Millisecond,
		FinalURL:     "https://a.example.com/login",
		Headers:      headers,
	})
	headers["Server"] = "changed"

	if code, ok := alive.StatusCode(); !ok || code != 200 {
		t.Fatalf("StatusCode() = %d, %v", code, ok)
	}
	if _, ok := alive.ContentLength(); ok {
		t.Fatal("content length should be absent")
	}
	if got := alive.Header("Server"); got != "nginx" {
		t.Fatalf("Header(Server) = %q, want nginx", got)
	}
	if final, _ := alive.FinalURL(); final != "https://a.example.com/login" {
		t.Fatalf("FinalURL() = %q", final)
	}
}

func TestAliveResultJSON(t *testing.T) {
	length := int64(512)
	in := NewAliveResult("a.example.com", "https://a.example.com", "https", AliveResponse{
		StatusCode:    301,
		ContentLength: &length,
		ResponseTime:  1500 * time.Millisecond,
	})
	data, err := in.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var out AliveResult
	if err := out.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if !out.IsAlive() || out.Domain() != "a.example.com" {
		t.Fatalf("decoded = %+v", out)
	}
	if rt, ok := out.ResponseTime(); !ok || rt != 1500*time.Millisecond {
		t.Fatalf("ResponseTime() = %v, %v", rt, ok)
	}
	if _, ok := out.Title(); ok {
		t.Fatal("title should stay absent")
	}
}
