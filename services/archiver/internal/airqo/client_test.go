package airqo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, srv *httptest.Server) (*Client, *[]time.Duration) {
	t.Helper()
	c := New(srv.Client(), Options{
		BaseURL:     srv.URL,
		Token:       "secret",
		CohortID:    "cohort-1",
		BackoffUnit: 3 * time.Second,
		PageDelay:   time.Second,
	})
	var slept []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func TestFetchSnapshotFallsBackToQueryToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/devices/measurements/cohorts/cohort-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("missing Accept header")
		}
		if r.Header.Get("Authorization") != "" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"bad token"}`)
			return
		}
		if r.URL.Query().Get("token") != "secret" {
			t.Errorf("token query param = %q", r.URL.Query().Get("token"))
		}
		fmt.Fprint(w, `{"success":true,"measurements":[{"device":"aq-01"}]}`)
	}))
	defer srv.Close()

	c, slept := newTestClient(t, srv)
	resp, err := c.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if resp.AuthMode != AuthQuery {
		t.Fatalf("auth mode = %q, want query", resp.AuthMode)
	}
	if resp.Attempts != 1 || len(*slept) != 0 {
		t.Fatalf("attempts=%d slept=%v", resp.Attempts, *slept)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(resp.Items))
	}
}

func TestFetchSnapshotBearerFirst(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		fmt.Fprint(w, `{"results":[{"device":"aq-01"},{"device":"aq-02"}]}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	resp, err := c.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if resp.AuthMode != AuthBearer || calls != 1 || len(resp.Items) != 2 {
		t.Fatalf("mode=%s calls=%d items=%d", resp.AuthMode, calls, len(resp.Items))
	}
}

func TestFetchSnapshotExhaustsRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") != "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, strings.Repeat("é", 400))
	}))
	defer srv.Close()

	var observed []string
	c, slept := newTestClient(t, srv)
	c.opts.OnAttempt = func(mode string, status int, err error) {
		observed = append(observed, mode+":"+strconv.Itoa(status))
	}

	_, err := c.FetchSnapshot(context.Background())
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v, want *FetchError", err)
	}
	if fe.StatusCode != http.StatusBadGateway || fe.AuthMode != AuthQuery || fe.Attempts != 4 {
		t.Fatalf("fetch error = %+v", fe)
	}
	if len(fe.BodyPreview) > PreviewBytes || !strings.HasPrefix(fe.BodyPreview, "é") {
		t.Fatalf("preview length %d", len(fe.BodyPreview))
	}
	if calls != 8 || len(observed) != 8 {
		t.Fatalf("calls=%d observed=%d, want 8", calls, len(observed))
	}
	want := []time.Duration{3 * time.Second, 12 * time.Second, 27 * time.Second}
	if !reflect.DeepEqual(*slept, want) {
		t.Fatalf("backoff = %v, want %v", *slept, want)
	}
}

func TestFetchSnapshotRecoversOnRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"measurements":[]}`)
	}))
	defer srv.Close()

	c, slept := newTestClient(t, srv)
	resp, err := c.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if resp.Attempts != 2 || resp.AuthMode != AuthBearer || len(*slept) != 1 {
		t.Fatalf("attempts=%d mode=%s slept=%v", resp.Attempts, resp.AuthMode, *slept)
	}
}

func TestFetchSnapshotInvalidJSONIsAFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>maintenance</html>")
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	c.opts.MaxAttempts = 1
	_, err := c.FetchSnapshot(context.Background())
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v", err)
	}
	if fe.StatusCode != http.StatusOK || fe.BodyPreview != "<html>maintenance</html>" {
		t.Fatalf("fetch error = %+v", fe)
	}
}

func TestFetchWindowPaginates(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)

	var pagesSeen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/devices/measurements/cohorts/cohort-1/historical" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("token") != "secret" || r.Header.Get("Authorization") != "" {
			t.Errorf("window fetch must use query auth only")
		}
		if q.Get("startTime") != "2024-01-01T00:00:00Z" || q.Get("endTime") != "2024-01-03T00:00:00Z" {
			t.Errorf("window = %s..%s", q.Get("startTime"), q.Get("endTime"))
		}
		p := q.Get("page")
		pagesSeen = append(pagesSeen, p)
		fmt.Fprintf(w, `{"success":true,"meta":{"pages":3,"page":%s},"data":[{"device":"d%s"}]}`, p, p)
	}))
	defer srv.Close()

	c, slept := newTestClient(t, srv)
	resp, err := c.FetchWindow(context.Background(), start, end)
	if err != nil {
		t.Fatalf("FetchWindow: %v", err)
	}
	if !reflect.DeepEqual(pagesSeen, []string{"1", "2", "3"}) {
		t.Fatalf("pages = %v", pagesSeen)
	}
	if resp.Pages != 3 || len(resp.Items) != 3 || resp.AuthMode != AuthQuery {
		t.Fatalf("resp pages=%d items=%d mode=%s", resp.Pages, len(resp.Items), resp.AuthMode)
	}
	if want := []time.Duration{time.Second, time.Second}; !reflect.DeepEqual(*slept, want) {
		t.Fatalf("page delays = %v", *slept)
	}

	var doc struct {
		Data []map[string]string `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &doc); err != nil {
		t.Fatalf("snapshot body: %v", err)
	}
	if len(doc.Data) != 3 || doc.Data[2]["device"] != "d3" {
		t.Fatalf("aggregated body = %s", resp.Body)
	}
}

func TestFetchWindowPageFailureAbortsRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"meta":{"pages":"2"},"measurements":[{"device":"a"}]}`)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	c.opts.MaxAttempts = 2
	resp, err := c.FetchWindow(context.Background(), time.Now().Add(-time.Hour), time.Now())
	if resp != nil {
		t.Fatalf("partial window returned")
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v", err)
	}
	if fe.StatusCode != http.StatusInternalServerError || fe.Attempts != 3 {
		t.Fatalf("fetch error = %+v", fe)
	}
}

func TestDecodePageListKeys(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		items int
		key   string
		pages int
	}{
		{"measurements", `{"measurements":[{},{}]}`, 2, "measurements", 1},
		{"empty measurements falls through", `{"measurements":[],"results":[{}]}`, 1, "results", 1},
		{"data", `{"data":[{}],"meta":{"pages":4}}`, 1, "data", 4},
		{"non list ignored", `{"measurements":{"x":1},"data":[{}]}`, 1, "data", 1},
		{"nothing", `{"success":true}`, 0, "", 1},
		{"top level array", `[{},{},{}]`, 3, "", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pg, err := decodePage([]byte(tc.body))
			if err != nil {
				t.Fatalf("decodePage: %v", err)
			}
			if len(pg.items) != tc.items || pg.listKey != tc.key || pg.pages != tc.pages {
				t.Fatalf("items=%d key=%q pages=%d", len(pg.items), pg.listKey, pg.pages)
			}
		})
	}
}

func TestPreviewCutsOnRuneBoundary(t *testing.T) {
	b := []byte("ab" + "é")
	if got := Preview(b, 3); got != "ab" {
		t.Fatalf("Preview = %q", got)
	}
	if got := Preview([]byte("short"), 10); got != "short" {
		t.Fatalf("Preview = %q", got)
	}
}
