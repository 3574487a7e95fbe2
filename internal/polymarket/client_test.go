package polymarket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func newTestClient(url string) *Client {
	return NewClient(url, 5*time.Second, ClientConfig{
		MaxRetries:     2,
		RetryDelayBase: time.Millisecond,
	})
}

func TestFetchMarkets_BareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("active"); got != "true" {
			t.Errorf("active param = %q, want true", got)
		}
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Errorf("limit param = %q, want 50", got)
		}
		w.Write([]byte(`[{"id":"m1","yesPrice":0.5},{"id":"m2","yesPrice":0.9}]`))
	}))
	defer srv.Close()

	records, err := newTestClient(srv.URL).FetchMarkets(context.Background(), 50)
	if err != nil {
		t.Fatalf("FetchMarkets: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
}

func TestFetchMarkets_DataWrapper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"m1","yesPrice":0.5}]}`))
	}))
	defer srv.Close()

	records, err := newTestClient(srv.URL).FetchMarkets(context.Background(), 10)
	if err != nil {
		t.Fatalf("FetchMarkets: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	var rec map[string]any
	if err := json.Unmarshal(records[0], &rec); err != nil {
		t.Fatalf("record not raw JSON: %v", err)
	}
	if rec["id"] != "m1" {
		t.Errorf("got id %v, want m1", rec["id"])
	}
}

func TestFetchMarkets_PagesThroughOffsets(t *testing.T) {
	var offsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offsets = append(offsets, r.URL.Query().Get("offset"))
		size, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil {
			t.Errorf("limit param not a number: %v", err)
		}
		records := make([]string, size)
		for i := range records {
			records[i] = `{"id":"m"}`
		}
		w.Write([]byte("[" + strings.Join(records, ",") + "]"))
	}))
	defer srv.Close()

	records, err := newTestClient(srv.URL).FetchMarkets(context.Background(), 1200)
	if err != nil {
		t.Fatalf("FetchMarkets: %v", err)
	}
	if len(records) != 1200 {
		t.Fatalf("got %d records, want 1200", len(records))
	}
	want := []string{"0", "500", "1000"}
	if len(offsets) != len(want) {
		t.Fatalf("got offsets %v, want %v", offsets, want)
	}
	for i, o := range want {
		if offsets[i] != o {
			t.Errorf("request %d offset = %q, want %q", i, offsets[i], o)
		}
	}
}

func TestFetchMarkets_ShortPageEndsListing(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`[{"id":"m1","yesPrice":0.5}]`))
	}))
	defer srv.Close()

	records, err := newTestClient(srv.URL).FetchMarkets(context.Background(), 1200)
	if err != nil {
		t.Fatalf("FetchMarkets: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if calls != 1 {
		t.Errorf("got %d calls after a short page, want 1", calls)
	}
}

func TestFetchMarkets_RetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).FetchMarkets(context.Background(), 10); err != nil {
		t.Fatalf("FetchMarkets: %v", err)
	}
	if calls != 2 {
		t.Errorf("got %d calls, want 2", calls)
	}
}

func TestFetchMarkets_ClientErrorNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).FetchMarkets(context.Background(), 10); err == nil {
		t.Fatal("expected error for 403 response")
	}
	if calls != 1 {
		t.Errorf("got %d calls, want 1", calls)
	}
}

func TestFetchMarkets_BadShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"markets":"nope"}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).FetchMarkets(context.Background(), 10); err == nil {
		t.Fatal("expected error for unexpected response shape")
	}
}
