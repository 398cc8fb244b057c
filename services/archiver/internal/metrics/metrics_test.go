package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRunCounters(t *testing.T) {
	m := New()
	m.ObserveRequest("bearer", 401, nil)
	m.ObserveRequest("query", 200, nil)
	m.ObserveRequest("query", 0, io.EOF)
	m.AddRows("appended", 3)
	m.AddRows("invalid", 0)

	if got := testutil.ToFloat64(m.fetchAttempts.WithLabelValues("bearer", "401")); got != 1 {
		t.Fatalf("bearer 401 = %v", got)
	}
	if got := testutil.ToFloat64(m.fetchAttempts.WithLabelValues("query", "error")); got != 1 {
		t.Fatalf("query error = %v", got)
	}
	if got := testutil.ToFloat64(m.rows.WithLabelValues("appended")); got != 3 {
		t.Fatalf("appended = %v", got)
	}

	now := time.Unix(1700000000, 0)
	m.Finish("success", 2*time.Second, now)
	if got := testutil.ToFloat64(m.lastSuccess); got != 1700000000 {
		t.Fatalf("last success = %v", got)
	}
}

func TestPush(t *testing.T) {
	var path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New()
	m.SetArchiveRows(42)
	if err := m.Push(context.Background(), srv.URL, "cohort-1"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if path != "/metrics/job/airqo_archiver/cohort/cohort-1" {
		t.Fatalf("path = %s", path)
	}
	if !strings.Contains(body, "airqo_archive_rows") {
		t.Fatalf("pushed body missing gauge")
	}
}
