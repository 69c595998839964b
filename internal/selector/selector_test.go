package selector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/model"
)

// stubLister serves pages per prefix, keyed by continuation token.
type stubLister struct {
	pages map[string]map[string]Page
	err   error
	calls []string
}

func (s *stubLister) ListPage(ctx context.Context, prefix, token string) (Page, error) {
	s.calls = append(s.calls, prefix+"#"+token)
	if s.err != nil {
		return Page{}, s.err
	}
	return s.pages[prefix][token], nil
}

func singlePage(prefix string, keys ...string) *stubLister {
	return &stubLister{pages: map[string]map[string]Page{
		prefix: {"": {Keys: keys}},
	}}
}

var target = time.Date(2017, 8, 25, 0, 5, 0, 0, time.UTC)

func TestPrefixes(t *testing.T) {
	tests := []struct {
		name   string
		target time.Time
		window time.Duration
		want   []string
	}{
		{
			name:   "window crosses midnight",
			target: target,
			window: 15 * time.Minute,
			want:   []string{"2017/08/24/", "2017/08/25/"},
		},
		{
			name:   "window within one day",
			target: time.Date(2017, 8, 25, 12, 0, 0, 0, time.UTC),
			window: 15 * time.Minute,
			want:   []string{"2017/08/25/"},
		},
		{
			name:   "small window deduplicates",
			target: time.Date(2017, 8, 25, 12, 0, 0, 0, time.UTC),
			window: time.Minute,
			want:   []string{"2017/08/25/"},
		},
		{
			name:   "non-UTC target is normalised",
			target: time.Date(2017, 8, 24, 20, 5, 0, 0, time.FixedZone("EDT", -4*3600)),
			window: 15 * time.Minute,
			want:   []string{"2017/08/24/", "2017/08/25/"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Prefixes(tt.target, tt.window)
			if err != nil {
				t.Fatalf("Prefixes() error = %v", err)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("Prefixes() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPrefixes_InvalidWindow(t *testing.T) {
	for _, window := range []time.Duration{0, -time.Minute} {
		if _, err := Prefixes(target, window); !errors.Is(err, ErrInvalidWindow) {
			t.Fatalf("Prefixes(window=%s) error = %v, want ErrInvalidWindow", window, err)
		}
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		key        string
		wantSite   model.Site
		wantTime   time.Time
		wantReason SkipReason
	}{
		{"2017/08/25/KABR/KABR20170825_000512_V06", "KABR", time.Date(2017, 8, 25, 0, 5, 12, 0, time.UTC), ""},
		{"2010/01/01/KABR/KABR20100101_000512_V03.gz", "KABR", time.Date(2010, 1, 1, 0, 5, 12, 0, time.UTC), ""},
		{"2017/08/25/KABR/KABR20170825_000512_V06_MDM", "", time.Time{}, SkipJunk},
		{"2017/08/25/KABR/NWS_NEXRAD_NXL2DP_KABR_20170825000000_20170825005959.tar", "", time.Time{}, SkipJunk},
		{"2017/08/25/KABR20170825_000512_V06", "", time.Time{}, SkipMalformed},
		{"2017/08/25/KABR/extra/KABR20170825_000512_V06", "", time.Time{}, SkipMalformed},
		{"2017/08/25/KABR/KABR", "", time.Time{}, SkipMalformed},
		{"2017/08/25/KABR/KABRyyyymmdd_hhmmss_V06", "", time.Time{}, SkipUnparseable},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			site, scanTime, reason := parseKey(tt.key)
			if reason != tt.wantReason {
				t.Fatalf("reason = %q, want %q", reason, tt.wantReason)
			}
			if site != tt.wantSite {
				t.Errorf("site = %q, want %q", site, tt.wantSite)
			}
			if !scanTime.Equal(tt.wantTime) {
				t.Errorf("time = %v, want %v", scanTime, tt.wantTime)
			}
		})
	}
}

func TestSelect_LastWinsAcrossPages(t *testing.T) {
	early := "2017/08/25/KABC/KABC20170825_000000_V06"
	late := "2017/08/25/KABC/KABC20170825_000500_V06"
	lister := &stubLister{pages: map[string]map[string]Page{
		"2017/08/25/": {
			"":       {Keys: []string{early}, NextToken: "page-2"},
			"page-2": {Keys: []string{late}},
		},
	}}

	result, err := New(lister).Select(context.Background(), target, 15*time.Minute)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	if got := result.Selection["KABC"].Key; got != late {
		t.Fatalf("KABC = %s, want %s", got, late)
	}
	if len(result.Selection) != 1 {
		t.Fatalf("expected 1 site, got %d", len(result.Selection))
	}
	if result.Stats.Pages != 3 {
		t.Fatalf("expected 3 pages (1 for 08/24, 2 for 08/25), got %d", result.Stats.Pages)
	}
	if result.Stats.Listed != 2 {
		t.Fatalf("expected 2 listed keys, got %d", result.Stats.Listed)
	}
}

func TestSelect_UnorderedListingKeepsNewest(t *testing.T) {
	newest := "2017/08/25/KABC/KABC20170825_000400_V06"
	lister := singlePage("2017/08/25/",
		newest,
		"2017/08/25/KABC/KABC20170825_000000_V06",
		"2017/08/25/KABC/KABC20170825_000200_V06",
	)

	result, err := New(lister).Select(context.Background(), target, 15*time.Minute)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if got := result.Selection["KABC"].Key; got != newest {
		t.Fatalf("KABC = %s, want %s", got, newest)
	}
}

func TestSelect_PreviousDayFallback(t *testing.T) {
	yesterday := "2017/08/24/KXYZ/KXYZ20170824_235800_V06"
	lister := &stubLister{pages: map[string]map[string]Page{
		"2017/08/24/": {"": {Keys: []string{yesterday}}},
		"2017/08/25/": {"": {Keys: []string{"2017/08/25/KABC/KABC20170825_000100_V06"}}},
	}}

	result, err := New(lister).Select(context.Background(), target, 15*time.Minute)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if got := result.Selection["KXYZ"].Key; got != yesterday {
		t.Fatalf("KXYZ = %s, want %s", got, yesterday)
	}
	if len(result.Selection) != 2 {
		t.Fatalf("expected 2 sites, got %d", len(result.Selection))
	}
}

func TestSelect_SkipsFutureJunkAndMalformed(t *testing.T) {
	lister := singlePage("2017/08/25/",
		"2017/08/25/KABC/KABC20170825_000100_V06",
		"2017/08/25/KABC/KABC20170825_000600_V06",
		"2017/08/25/KJNK/KJNK20170825_000100_V06_MDM",
		"2017/08/25/KBAD20170825_000100_V06",
		"2017/08/25/KNUL/KNULgarbage_garbage_V06",
	)

	result, err := New(lister).Select(context.Background(), target, 15*time.Minute)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	if got := result.Selection["KABC"].Key; got != "2017/08/25/KABC/KABC20170825_000100_V06" {
		t.Fatalf("KABC = %s, future key must not win", got)
	}
	for _, site := range []model.Site{"KJNK", "KBAD", "KNUL"} {
		if _, ok := result.Selection[site]; ok {
			t.Errorf("site %s should not be selected", site)
		}
	}

	want := map[SkipReason]int{SkipFuture: 1, SkipJunk: 1, SkipMalformed: 1, SkipUnparseable: 1}
	for reason, n := range want {
		if result.Stats.Skipped[reason] != n {
			t.Errorf("skipped[%s] = %d, want %d", reason, result.Stats.Skipped[reason], n)
		}
	}
}

func TestSelect_NeverSelectsAfterTarget(t *testing.T) {
	var keys []string
	for minute := 0; minute < 60; minute += 3 {
		for _, site := range []string{"KAAA", "KBBB", "KCCC"} {
			keys = append(keys, fmt.Sprintf("2017/08/25/%s/%s20170825_00%02d00_V06", site, site, minute))
		}
	}

	for minute := 0; minute < 60; minute += 7 {
		cutoff := time.Date(2017, 8, 25, 0, minute, 30, 0, time.UTC)
		lister := singlePage("2017/08/25/", keys...)

		result, err := New(lister).Select(context.Background(), cutoff, 15*time.Minute)
		if err != nil {
			t.Fatalf("Select(%s) error = %v", cutoff, err)
		}
		if len(result.Selection) != 3 {
			t.Fatalf("Select(%s) selected %d sites, want 3", cutoff, len(result.Selection))
		}
		for site, c := range result.Selection {
			if c.Time.After(cutoff) {
				t.Fatalf("site %s selected %s after cutoff %s", site, c.Key, cutoff)
			}
			if cutoff.Sub(c.Time) >= 3*time.Minute {
				t.Fatalf("site %s selected %s, not the latest before %s", site, c.Key, cutoff)
			}
		}
	}
}

func TestSelect_ListingErrorIsFatal(t *testing.T) {
	lister := &stubLister{err: errors.New("connection reset")}

	_, err := New(lister).Select(context.Background(), target, 15*time.Minute)
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected listing error, got %v", err)
	}
	if !strings.Contains(err.Error(), "2017/08/24/") {
		t.Fatalf("expected prefix in error, got %v", err)
	}
}

func TestSelect_StuckContinuationToken(t *testing.T) {
	lister := &stubLister{pages: map[string]map[string]Page{
		"2017/08/25/": {
			"":     {NextToken: "same"},
			"same": {NextToken: "same"},
		},
	}}

	_, err := New(lister).Select(context.Background(), time.Date(2017, 8, 25, 12, 0, 0, 0, time.UTC), 15*time.Minute)
	if err == nil {
		t.Fatal("expected error for a listing that does not advance")
	}
}

func TestSelection_Sites(t *testing.T) {
	sel := Selection{"KCCC": {}, "KAAA": {}, "KBBB": {}}
	got := sel.Sites()
	want := []model.Site{"KAAA", "KBBB", "KCCC"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Sites() = %v, want %v", got, want)
		}
	}
}
