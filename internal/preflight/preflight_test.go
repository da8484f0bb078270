package preflight_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"docflow/internal/preflight"
	"docflow/internal/testsupport"
)

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()
	result := preflight.CheckDirectoryAccess("Data directory", dir)
	if !result.Passed {
		t.Fatalf("expected existing directory to pass, got %+v", result)
	}

	missing := preflight.CheckDirectoryAccess("Data directory", dir+"/nope")
	if missing.Passed {
		t.Fatalf("expected missing directory to fail, got %+v", missing)
	}
	if !strings.Contains(missing.Detail, "does not exist") {
		t.Fatalf("unexpected detail %q", missing.Detail)
	}
}

func TestCheckDiskSpace(t *testing.T) {
	dir := t.TempDir()
	if result := preflight.CheckDiskSpace("Disk", dir, 1); !result.Passed {
		t.Fatalf("expected trivial minimum to pass, got %+v", result)
	}
	// No filesystem has an exbibyte free in CI.
	if result := preflight.CheckDiskSpace("Disk", dir, 1<<60); result.Passed {
		t.Fatalf("expected absurd minimum to fail, got %+v", result)
	}
}

func TestCheckServiceRequiresConfiguration(t *testing.T) {
	result := preflight.CheckService(context.Background(), "OCR service", "", func(context.Context) error {
		t.Fatal("probe must not run without a base url")
		return nil
	})
	if result.Passed {
		t.Fatalf("expected unconfigured service to fail, got %+v", result)
	}
}

func TestCheckServiceReportsProbeOutcome(t *testing.T) {
	ok := preflight.CheckService(context.Background(), "OCR service", "http://example.test", func(context.Context) error {
		return nil
	})
	if !ok.Passed || ok.Detail != "reachable" {
		t.Fatalf("expected passing probe, got %+v", ok)
	}

	failed := preflight.CheckService(context.Background(), "OCR service", "http://example.test", func(context.Context) error {
		return errors.New("http 503")
	})
	if failed.Passed || failed.Detail != "http 503" {
		t.Fatalf("expected failing probe, got %+v", failed)
	}
}

func TestRunAllGatesServiceChecksByPattern(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t, testsupport.WithPattern("composed"))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	cfg.Services.OCR.BaseURL = server.URL
	cfg.Services.Inference.BaseURL = server.URL
	cfg.Services.Jobs.BaseURL = server.URL
	cfg.Services.Review.BaseURL = server.URL

	results := preflight.RunAll(context.Background(), cfg)
	byName := make(map[string]preflight.Result, len(results))
	for _, result := range results {
		byName[result.Name] = result
	}
	if _, ok := byName["Assessment service"]; ok {
		t.Fatal("assessment check should be skipped outside the custom pattern")
	}
	for _, name := range []string{"Data directory", "OCR service", "Inference service", "Job service", "Review service"} {
		result, ok := byName[name]
		if !ok {
			t.Fatalf("expected check %q to run", name)
		}
		if !result.Passed {
			t.Fatalf("expected %q to pass, got %+v", name, result)
		}
	}
	if _, failed := preflight.FirstFailure(results); failed {
		t.Fatalf("expected all checks to pass, got %+v", results)
	}

	cfg.Pipeline.Pattern = "custom"
	cfg.Services.Assessment.BaseURL = ""
	results = preflight.RunAll(context.Background(), cfg)
	failure, failed := preflight.FirstFailure(results)
	if !failed || failure.Name != "Assessment service" {
		t.Fatalf("expected assessment check to fail, got %+v", results)
	}
}
