package sanitize

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestSanitizeMasksDollarKeys(t *testing.T) {
	in := map[string]any{
		"username":     "testuser",
		"$password":    "secret123",
		"$apiKey":      "api-key-123456",
		"regularField": "not-sensitive",
	}

	got := Sanitize(in, Options{})
	want := map[string]any{
		"username":     "testuser",
		"$password":    Redacted,
		"$apiKey":      Redacted,
		"regularField": "not-sensitive",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sanitize mismatch (-want +got):\n%s", diff)
	}
	if in["$password"] != "secret123" {
		t.Fatalf("input was mutated")
	}
}

func TestSanitizeExceptionsAndSensitiveKeys(t *testing.T) {
	in := map[string]any{
		"$token":   "t",
		"password": "p",
		"nested": map[string]any{
			"Password": "q",
			"keep":     1,
		},
	}

	got := Sanitize(in, Options{
		Exceptions:    []string{"$token"},
		SensitiveKeys: []string{"password"},
	})
	want := map[string]any{
		"$token":   "t",
		"password": Redacted,
		"nested": map[string]any{
			"Password": Redacted,
			"keep":     int64(1),
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sanitize mismatch (-want +got):\n%s", diff)
	}
}

type credentials struct {
	User     string `json:"user"`
	Secret   string `json:"$secret"`
	Skipped  string `json:"-"`
	Optional string `json:"optional,omitempty"`
	internal string
}

func TestSanitizeStructs(t *testing.T) {
	got := Sanitize(credentials{User: "admin", Secret: "x", Skipped: "y", internal: "z"}, Options{})
	want := map[string]any{
		"user":    "admin",
		"$secret": Redacted,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sanitize mismatch (-want +got):\n%s", diff)
	}
}

type node struct {
	Name string `json:"name"`
	Next *node  `json:"next"`
}

func TestSanitizeBreaksCycles(t *testing.T) {
	a := &node{Name: "a"}
	b := &node{Name: "b", Next: a}
	a.Next = b

	got := Sanitize(a, Options{BreakCircular: true})
	want := map[string]any{
		"name": "a",
		"next": map[string]any{
			"name": "b",
			"next": Circular,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sanitize mismatch (-want +got):\n%s", diff)
	}

	self := map[string]any{"k": "v"}
	self["self"] = self
	out := Sanitize(self, Options{BreakCircular: true}).(map[string]any)
	if out["self"] != Circular {
		t.Fatalf("self reference=%v, want %q", out["self"], Circular)
	}
}

func TestSanitizeSharedReferenceIsNotCycle(t *testing.T) {
	shared := map[string]any{"v": "x"}
	in := map[string]any{"a": shared, "b": shared}

	out := Sanitize(in, Options{BreakCircular: true}).(map[string]any)
	if diff := cmp.Diff(map[string]any{"v": "x"}, out["b"]); diff != "" {
		t.Fatalf("shared reference treated as cycle:\n%s", diff)
	}
}

func TestSanitizeSpecialValues(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	in := map[string]any{
		"error": errors.New("boom"),
		"when":  ts,
		"fn":    func() {},
		"list":  []int{1, 2},
	}

	got := Sanitize(in, Options{})
	want := map[string]any{
		"error": map[string]any{"message": "boom"},
		"when":  "2024-01-02T03:04:05Z",
		"fn":    nil,
		"list":  []any{int64(1), int64(2)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("sanitize mismatch (-want +got):\n%s", diff)
	}
}

func TestSanitizerSetExceptions(t *testing.T) {
	s := New(Options{})
	in := map[string]any{"$key": "value"}

	if got := s.SanitizeMap(in); got["$key"] != Redacted {
		t.Fatalf("got=%v, want redacted", got["$key"])
	}

	s.SetExceptions([]string{"$key"})
	if got := s.SanitizeMap(in); got["$key"] != "value" {
		t.Fatalf("got=%v, want value", got["$key"])
	}
	if s.SanitizeMap(nil) != nil {
		t.Fatalf("nil map should stay nil")
	}
}
