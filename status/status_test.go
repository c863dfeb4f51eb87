package status

import (
	"errors"
	"testing"
)

func TestCodeValues(t *testing.T) {
	// The numeric values are wire-stable; a renumbering is a protocol break.
	if OK != 0 || Cancelled != 1 || Unknown != 2 || InvalidArgument != 3 ||
		DeadlineExceeded != 4 || Unauthenticated != 16 {
		t.Fatal("status code numeric values changed")
	}
}

func TestCodeString(t *testing.T) {
	if got := DeadlineExceeded.String(); got != "DEADLINE_EXCEEDED" {
		t.Errorf("got %q, want DEADLINE_EXCEEDED", got)
	}
	if got := Code(99).String(); got != "CODE(99)" {
		t.Errorf("got %q, want CODE(99)", got)
	}
}

func TestFromError(t *testing.T) {
	if st := FromError(nil); st.Code != OK {
		t.Errorf("nil error should map to OK, got %v", st.Code)
	}

	orig := New(NotFound, "no such container")
	if st := FromError(orig); st != orig {
		t.Error("a *Status should pass through unchanged")
	}

	st := FromError(errors.New("disk on fire"))
	if st.Code != Unknown {
		t.Errorf("plain error should map to UNKNOWN, got %v", st.Code)
	}
	if st.Message != "disk on fire" {
		t.Errorf("message should carry the error text, got %q", st.Message)
	}
}
