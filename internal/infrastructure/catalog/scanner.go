// Package catalog scrapes the public webcast catalog for recent events.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"mediarelay/internal/domain"
	"mediarelay/internal/ports"
)

// Catalog entries render as elements with ids like listItemText-1001; the
// trailing number is the stable event id.
var entryIDExpr = regexp.MustCompile(`listItemText-(\d+)$`)

// Entry text carries a date like "MON JUL 28, 2025".
var entryDateExpr = regexp.MustCompile(`[A-Za-z]+\s+([A-Za-z]{3})\s+(\d{1,2}),\s+(\d{4})`)

var monthsByAbbr = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March,
	"APR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AUG": time.August, "SEP": time.September,
	"OCT": time.October, "NOV": time.November, "DEC": time.December,
}

// Scanner crawls the catalog page and extracts events inside the window.
type Scanner struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

var _ ports.Discovery = (*Scanner)(nil)

// NewScanner wires an HTTP client; a nil client gets a 30s-timeout default.
func NewScanner(baseURL string, client *http.Client, logger *slog.Logger) *Scanner {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Scanner{baseURL: baseURL, client: client, logger: logger, now: time.Now}
}

// ListCandidates fetches the catalog page and returns events whose source
// date falls inside [from, to]. Entries with unparseable dates are skipped,
// not fatal; the page carries decorative rows too.
func (s *Scanner) ListCandidates(ctx context.Context, from, to time.Time) ([]domain.Item, error) {
	doc, err := s.fetchDocument(ctx, s.baseURL)
	if err != nil {
		return nil, err
	}

	discoveredAt := s.now()
	var items []domain.Item
	seen := map[string]struct{}{}

	doc.Find("[id^='listItemText-']").Each(func(_ int, sel *goquery.Selection) {
		elemID, _ := sel.Attr("id")
		m := entryIDExpr.FindStringSubmatch(elemID)
		if m == nil {
			return
		}
		eventID := m[1]
		if _, dup := seen[eventID]; dup {
			return
		}

		text := strings.TrimSpace(sel.Text())
		sourceDate, ok := parseEntryDate(text)
		if !ok {
			s.debug("skipping entry without a parseable date", "id", eventID)
			return
		}
		if sourceDate.Before(from) || sourceDate.After(to) {
			return
		}

		pageURL, _ := sel.Find("a").First().Attr("href")
		if pageURL == "" {
			pageURL = fmt.Sprintf("%s/show/%s", strings.TrimRight(s.baseURL, "/"), eventID)
		}

		seen[eventID] = struct{}{}
		items = append(items, domain.Item{
			ID:           eventID,
			Title:        text,
			PageURL:      pageURL,
			SourceDate:   sourceDate,
			DiscoveredAt: discoveredAt,
			Status:       domain.StatusDiscovered,
		})
	})

	s.debug("catalog scan complete", "entries", len(items))
	return items, nil
}

func (s *Scanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "mediarelay/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse catalog page: %w", err)
	}
	return doc, nil
}

func parseEntryDate(text string) (time.Time, bool) {
	m := entryDateExpr.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	month, ok := monthsByAbbr[strings.ToUpper(m[1])]
	if !ok {
		return time.Time{}, false
	}
	var day, year int
	if _, err := fmt.Sscanf(m[2], "%d", &day); err != nil {
		return time.Time{}, false
	}
	if _, err := fmt.Sscanf(m[3], "%d", &year); err != nil {
		return time.Time{}, false
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), true
}

func (s *Scanner) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
