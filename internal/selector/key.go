package selector

import (
	"strings"
	"time"

	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/model"
)

// Archive II keys look like 2017/08/25/KABR/KABR20170825_000512_V06.
const (
	keySegments     = 5
	siteSegment     = 3
	timestampLayout = "20060102_150405"
	timestampStart  = 4
	timestampEnd    = timestampStart + len(timestampLayout)
)

// SkipReason explains why a listed key was not considered.
type SkipReason string

const (
	SkipJunk        SkipReason = "junk"
	SkipMalformed   SkipReason = "malformed"
	SkipUnparseable SkipReason = "unparseable"
	SkipFuture      SkipReason = "future"
)

// Metadata-only volumes carry this marker and hold no radials.
var junkMarkers = []string{"_MDM"}

var archiveExtensions = []string{".tar"}

// parseKey extracts the site and scan time from a key. A non-empty reason means
// the key must be skipped.
func parseKey(key string) (model.Site, time.Time, SkipReason) {
	for _, marker := range junkMarkers {
		if strings.Contains(key, marker) {
			return "", time.Time{}, SkipJunk
		}
	}
	for _, ext := range archiveExtensions {
		if strings.HasSuffix(key, ext) {
			return "", time.Time{}, SkipJunk
		}
	}

	parts := strings.Split(key, "/")
	if len(parts) != keySegments {
		return "", time.Time{}, SkipMalformed
	}

	filename := parts[keySegments-1]
	if len(filename) < timestampEnd {
		return "", time.Time{}, SkipMalformed
	}

	scanTime, err := time.Parse(timestampLayout, filename[timestampStart:timestampEnd])
	if err != nil {
		return "", time.Time{}, SkipUnparseable
	}

	return model.Site(parts[siteSegment]), scanTime, ""
}
