package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const catalogPage = `<!DOCTYPE html>
<html><body>
<div id="listItemText-1001">
  <a href="https://webcast.example.org/CablecastPublicSite/show/1001">Select Board Meeting Tue Jul 28, 2026</a>
</div>
<div id="listItemText-1002">
  Planning Board Wed Jul 22, 2026
</div>
<div id="listItemText-1002">
  Planning Board Wed Jul 22, 2026 (duplicate row)
</div>
<div id="listItemText-1003">
  Zoning Appeals Mon Jan 5, 2026
</div>
<div id="listItemText-abc">
  Decorative banner row
</div>
<div id="listItemText-1004">
  Live feed placeholder with no date
</div>
</body></html>`

func newTestScanner(t *testing.T) (*Scanner, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(catalogPage))
	}))
	t.Cleanup(srv.Close)
	return NewScanner(srv.URL, srv.Client(), nil), srv
}

func TestListCandidatesFiltersWindow(t *testing.T) {
	t.Parallel()

	s, _ := newTestScanner(t)

	to := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	from := to.AddDate(0, 0, -14)

	items, err := s.ListCandidates(context.Background(), from, to)
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}

	// 1003 is months old, the duplicate 1002 collapses, and the two
	// decorative rows never parse.
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d: %+v", len(items), items)
	}

	byID := map[string]int{}
	for i, item := range items {
		byID[item.ID] = i
	}
	if _, ok := byID["1001"]; !ok {
		t.Fatal("missing item 1001")
	}
	if _, ok := byID["1002"]; !ok {
		t.Fatal("missing item 1002")
	}

	got := items[byID["1001"]]
	want := time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC)
	if !got.SourceDate.Equal(want) {
		t.Fatalf("source date = %s, want %s", got.SourceDate, want)
	}
	if got.PageURL != "https://webcast.example.org/CablecastPublicSite/show/1001" {
		t.Fatalf("page url = %q", got.PageURL)
	}
}

func TestListCandidatesFallbackPageURL(t *testing.T) {
	t.Parallel()

	s, srv := newTestScanner(t)

	to := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	from := to.AddDate(0, 0, -14)

	items, err := s.ListCandidates(context.Background(), from, to)
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}

	for _, item := range items {
		if item.ID != "1002" {
			continue
		}
		// Entry 1002 has no anchor; the show URL is derived from the base.
		want := srv.URL + "/show/1002"
		if item.PageURL != want {
			t.Fatalf("fallback url = %q, want %q", item.PageURL, want)
		}
		return
	}
	t.Fatal("item 1002 not found")
}

func TestListCandidatesNonOKStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	s := NewScanner(srv.URL, srv.Client(), nil)
	if _, err := s.ListCandidates(context.Background(), time.Time{}, time.Now()); err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestParseEntryDate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want time.Time
		ok   bool
	}{
		{"Select Board Meeting Tue Jul 28, 2026", time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC), true},
		{"School Committee Wed DEC 3, 2025", time.Date(2025, 12, 3, 0, 0, 0, 0, time.UTC), true},
		{"Live feed", time.Time{}, false},
		{"Meeting Zzz 9, 2026", time.Time{}, false},
	}
	for _, tc := range cases {
		got, ok := parseEntryDate(tc.text)
		if ok != tc.ok {
			t.Fatalf("parseEntryDate(%q) ok = %v, want %v", tc.text, ok, tc.ok)
		}
		if ok && !got.Equal(tc.want) {
			t.Fatalf("parseEntryDate(%q) = %s, want %s", tc.text, got, tc.want)
		}
	}
}
