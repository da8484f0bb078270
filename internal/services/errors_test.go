package services_test

import (
	"errors"
	"strings"
	"testing"

	"docflow/internal/services"
)

func TestWrapTagsMarkerAndDetail(t *testing.T) {
	cause := errors.New("boom")
	err := services.Wrap(services.ErrThrottled, "extract", "submit job", "rate limited", cause)

	if !errors.Is(err, services.ErrThrottled) {
		t.Fatal("expected wrapped error to match marker")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped error to match cause")
	}
	for _, want := range []string{"extract", "submit job", "rate limited"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "assess", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatal("expected nil marker to default to transient")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name   string
		marker error
		want   bool
	}{
		{"throttled", services.ErrThrottled, true},
		{"unavailable", services.ErrUnavailable, true},
		{"timeout", services.ErrTimeout, true},
		{"transient", services.ErrTransient, true},
		{"validation", services.ErrValidation, false},
		{"permission", services.ErrPermission, false},
		{"not found", services.ErrNotFound, false},
		{"infrastructure", services.ErrInfrastructure, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := services.Wrap(tc.marker, "stage", "op", "", nil)
			if got := services.IsRetryable(err); got != tc.want {
				t.Fatalf("IsRetryable(%s) = %v, want %v", tc.name, got, tc.want)
			}
		})
	}
}

func TestFailureScope(t *testing.T) {
	if services.FailureScope(services.Wrap(services.ErrInfrastructure, "ocr", "persist", "", nil)) != services.ScopeDocument {
		t.Fatal("infrastructure errors must be document scoped")
	}
	if services.FailureScope(services.Wrap(services.ErrValidation, "extract", "parse", "", nil)) != services.ScopeSection {
		t.Fatal("validation errors default to section scope")
	}
}
