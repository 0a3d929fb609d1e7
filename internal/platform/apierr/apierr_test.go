package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", NotFound("media", "m1"), http.StatusNotFound, "not_found"},
		{"invalid", Invalid("bad month %q", "2024-13"), http.StatusBadRequest, "invalid_argument"},
		{"conflict", fmt.Errorf("insert: %w", ErrConflict), http.StatusConflict, "conflict"},
		{"explicit", New(http.StatusTeapot, "teapot", errors.New("x")), http.StatusTeapot, "teapot"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code := Classify(tc.err)
			if status != tc.status || code != tc.code {
				t.Fatalf("classify: want=(%d,%q) got=(%d,%q)", tc.status, tc.code, status, code)
			}
		})
	}
}

func TestNotFoundWrapsSentinel(t *testing.T) {
	err := NotFound("child", 7)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("NotFound: want errors.Is ErrNotFound")
	}
	if err.Error() != "child 7: not found" {
		t.Fatalf("message: got=%q", err.Error())
	}
}
