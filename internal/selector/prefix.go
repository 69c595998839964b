package selector

import (
	"errors"
	"time"
)

// PrefixLayout formats the date-based listing prefix of the archive bucket.
const PrefixLayout = "2006/01/02/"

var ErrInvalidWindow = errors.New("look-back window must be positive")

// Prefixes returns the date prefixes covering [target-window, target].
// A window that straddles midnight yields both days.
func Prefixes(target time.Time, window time.Duration) ([]string, error) {
	if window <= 0 {
		return nil, ErrInvalidWindow
	}

	target = target.UTC()
	var prefixes []string
	seen := make(map[string]bool)
	for t := target.Add(-window); !t.After(target); t = t.Add(window) {
		prefix := t.Format(PrefixLayout)
		if seen[prefix] {
			continue
		}
		seen[prefix] = true
		prefixes = append(prefixes, prefix)
	}
	return prefixes, nil
}
