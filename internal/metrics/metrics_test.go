package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := archiverFetchesTotal
	Init()
	if archiverFetchesTotal != first || first == nil {
		t.Fatal("Init() should initialize collectors exactly once")
	}
}

func TestObserveArchiverMetrics(t *testing.T) {
	Init()

	before := testutil.ToFloat64(archiverFetchesTotal.WithLabelValues("metrics-test.example", "success"))
	ObserveFetch("https://metrics-test.example/page", true, 2*time.Second)
	if got := testutil.ToFloat64(archiverFetchesTotal.WithLabelValues("metrics-test.example", "success")); got != before+1 {
		t.Errorf("expected fetch counter to increase by 1, got %f -> %f", before, got)
	}

	beforeUpload := testutil.ToFloat64(archiverUploadBytesTotal.WithLabelValues("metrics-test"))
	ObserveUpload("metrics-test", true, 128)
	ObserveUpload("metrics-test", false, 512)
	if got := testutil.ToFloat64(archiverUploadBytesTotal.WithLabelValues("metrics-test")); got != beforeUpload+128 {
		t.Errorf("expected only successful upload bytes to be counted, got %f", got-beforeUpload)
	}

	beforeBlocked := testutil.ToFloat64(archiverBlockedRequestsTotal.WithLabelValues("metrics-test"))
	ObserveBlockedRequests("metrics-test", 3)
	ObserveBlockedRequests("metrics-test", 0)
	if got := testutil.ToFloat64(archiverBlockedRequestsTotal.WithLabelValues("metrics-test")); got != beforeBlocked+3 {
		t.Errorf("expected blocked counter to increase by 3, got %f", got-beforeBlocked)
	}

	beforeRuns := testutil.ToFloat64(archiverActiveRuns)
	IncActiveRuns()
	if got := testutil.ToFloat64(archiverActiveRuns); got != beforeRuns+1 {
		t.Errorf("expected active runs to increase, got %f", got)
	}
	DecActiveRuns()
	if got := testutil.ToFloat64(archiverActiveRuns); got != beforeRuns {
		t.Errorf("expected active runs to return to %f, got %f", beforeRuns, got)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
