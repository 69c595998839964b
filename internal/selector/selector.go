package selector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/model"
)

// Page is one page of a prefix listing. An empty NextToken ends the listing.
type Page struct {
	Keys      []string
	NextToken string
}

// Lister pages through object keys under a prefix.
type Lister interface {
	ListPage(ctx context.Context, prefix, continuationToken string) (Page, error)
}

// Candidate is the chosen volume for one site.
type Candidate struct {
	Key  string
	Time time.Time
}

// Selection maps each radar site to its latest volume at or before the target.
type Selection map[model.Site]Candidate

// Sites returns the selected sites in sorted order.
func (s Selection) Sites() []model.Site {
	sites := make([]model.Site, 0, len(s))
	for site := range s {
		sites = append(sites, site)
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i] < sites[j] })
	return sites
}

// Stats describes what a selection scanned and skipped.
type Stats struct {
	Prefixes []string
	Pages    int
	Listed   int
	Skipped  map[SkipReason]int
}

// Result is the outcome of Select.
type Result struct {
	Selection Selection
	Stats     Stats
}

// Selector picks the latest volume per site from the archive bucket.
type Selector struct {
	lister Lister
}

func New(lister Lister) *Selector {
	return &Selector{lister: lister}
}

// Select lists every date prefix touched by [target-window, target] and keeps,
// per site, the newest key whose scan time does not exceed target.
// Any listing error aborts the selection.
func (s *Selector) Select(ctx context.Context, target time.Time, window time.Duration) (Result, error) {
	prefixes, err := Prefixes(target, window)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Selection: make(Selection),
		Stats: Stats{
			Prefixes: prefixes,
			Skipped:  make(map[SkipReason]int),
		},
	}

	for _, prefix := range prefixes {
		if err := s.scanPrefix(ctx, prefix, target, &result); err != nil {
			return Result{}, fmt.Errorf("list %s: %w", prefix, err)
		}
	}

	slog.InfoContext(ctx, "selection complete",
		"target", target.UTC().Format(time.RFC3339),
		"prefixes", len(prefixes),
		"pages", result.Stats.Pages,
		"listed", result.Stats.Listed,
		"selected", len(result.Selection),
		"skipped_junk", result.Stats.Skipped[SkipJunk],
		"skipped_malformed", result.Stats.Skipped[SkipMalformed],
		"skipped_unparseable", result.Stats.Skipped[SkipUnparseable],
		"skipped_future", result.Stats.Skipped[SkipFuture],
	)
	return result, nil
}

func (s *Selector) scanPrefix(ctx context.Context, prefix string, target time.Time, result *Result) error {
	token := ""
	for {
		page, err := s.lister.ListPage(ctx, prefix, token)
		if err != nil {
			return err
		}
		result.Stats.Pages++

		for _, key := range page.Keys {
			result.Stats.Listed++
			site, scanTime, reason := parseKey(key)
			if reason == "" && scanTime.After(target) {
				reason = SkipFuture
			}
			if reason != "" {
				result.Stats.Skipped[reason]++
				continue
			}

			// Listings are ascending so this is normally last-wins, but the
			// comparison keeps the newest key even if they are not.
			current, ok := result.Selection[site]
			if !ok || !scanTime.Before(current.Time) {
				result.Selection[site] = Candidate{Key: key, Time: scanTime}
			}
		}

		slog.DebugContext(ctx, "listed page", "prefix", prefix, "keys", len(page.Keys), "truncated", page.NextToken != "")

		if page.NextToken == "" {
			return nil
		}
		if page.NextToken == token {
			return fmt.Errorf("listing did not advance past continuation token %q", token)
		}
		token = page.NextToken
	}
}
