package validation

import (
	"fmt"
	"testing"
)

func TestErrorsCollectsEveryField(t *testing.T) {
	var errs Errors
	if errs.Err() != nil {
		t.Fatalf("empty errors should not be an error")
	}
	errs.Add("nullable", "must be false")
	errs.Add("max_length", "only for TEXT")
	errs.Add("max_length", "must be positive")

	if got := len(errs.Fields()); got != 3 {
		t.Fatalf("expected 3 field errors, got %d", got)
	}
	if got := errs.For("max_length"); len(got) != 2 {
		t.Fatalf("expected 2 max_length messages, got %v", got)
	}
	if !errs.Has("nullable") || errs.Has("unique") {
		t.Fatalf("unexpected Has results")
	}
	want := "nullable: must be false; max_length: only for TEXT; max_length: must be positive"
	if errs.Error() != want {
		t.Fatalf("Error() = %q, want %q", errs.Error(), want)
	}
}

func TestAsUnwraps(t *testing.T) {
	wrapped := fmt.Errorf("save column: %w", New("nullable", "bad"))
	verr, ok := As(wrapped)
	if !ok {
		t.Fatalf("expected *Errors in chain")
	}
	if !verr.Has("nullable") {
		t.Fatalf("lost field through wrapping")
	}
	if _, ok := As(fmt.Errorf("plain")); ok {
		t.Fatalf("plain error should not match")
	}
}

func TestMergeAppendsFieldErrors(t *testing.T) {
	errs := New("max_length", "not a number")
	if !errs.Merge(fmt.Errorf("check: %w", New("nullable", "bad"))) {
		t.Fatal("validation error should merge")
	}
	if !errs.Merge(nil) {
		t.Fatal("nil should merge as nothing")
	}
	if errs.Merge(fmt.Errorf("plain")) {
		t.Fatal("plain error should not merge")
	}
	if got := len(errs.Fields()); got != 2 || !errs.Has("max_length") || !errs.Has("nullable") {
		t.Fatalf("unexpected merged errors %v", errs)
	}
}
