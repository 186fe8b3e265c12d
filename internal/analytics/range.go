package analytics

import (
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
)

const (
	defaultWindow = 30 * 24 * time.Hour
	maxWindow     = 366 * 24 * time.Hour
	dayLayout     = "2006-01-02"
)

// Range is a half-open [From, To) reporting window in UTC.
type Range struct {
	From time.Time
	To   time.Time
}

// ParseRange reads from/to query values. Dates are YYYY-MM-DD or RFC3339; a
// bare date for to includes that whole day. Missing values default to the
// last 30 days.
func ParseRange(from, to string, now time.Time) (Range, error) {
	end := now.UTC()
	if strings.TrimSpace(to) != "" {
		t, dateOnly, err := parseBound(to)
		if err != nil {
			return Range{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid to")
		}
		if dateOnly {
			t = t.AddDate(0, 0, 1)
		}
		end = t
	}
	start := end.Add(-defaultWindow)
	if strings.TrimSpace(from) != "" {
		t, _, err := parseBound(from)
		if err != nil {
			return Range{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid from")
		}
		start = t
	}
	if !start.Before(end) {
		return Range{}, pkgerrors.New(pkgerrors.CodeValidation, "from must be before to")
	}
	if end.Sub(start) > maxWindow {
		return Range{}, pkgerrors.New(pkgerrors.CodeValidation, "range must not exceed 366 days")
	}
	return Range{From: start, To: end}, nil
}

func parseBound(raw string) (time.Time, bool, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(dayLayout, raw); err == nil {
		return t.UTC(), true, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UTC(), false, nil
}
