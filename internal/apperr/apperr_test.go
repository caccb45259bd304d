package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{NotFound("missing"), http.StatusNotFound},
		{Forbidden("nope"), http.StatusForbidden},
		{Conflict("dup"), http.StatusConflict},
		{Validation("bad"), http.StatusBadRequest},
		{Internal("boom"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestMessage_MasksUnexpectedErrors(t *testing.T) {
	if got := Message(errors.New("pq: connection refused")); got != "Internal server error" {
		t.Errorf("unexpected message for raw error: %q", got)
	}
	if got := Message(Conflict("Attendance already marked for this session")); got != "Attendance already marked for this session" {
		t.Errorf("classified message not preserved: %q", got)
	}
}

func TestIsCode_SeesWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("mark attendance: %w", Conflict("dup"))
	if !IsCode(wrapped, CodeConflict) {
		t.Error("expected wrapped conflict to match CodeConflict")
	}
	if IsCode(wrapped, CodeNotFound) {
		t.Error("conflict must not match CodeNotFound")
	}
}
