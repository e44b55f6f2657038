// internal/app/system/paging/paging.go
package paging

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dalemusser/waffle/pantry/query"
	"github.com/josefm09/tracker/internal/app/system/apperr"
)

// Defaults for time-windowed reads such as location history.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
	DefaultSpan  = 24 * time.Hour
)

// Window is a bounded, newest-first slice of a time series.
type Window struct {
	From  time.Time
	To    time.Time
	Limit int64
}

// ParseLimit reads the "limit" query parameter. Missing means def; values
// above max are clamped; anything else that is not a positive integer is
// a validation error.
func ParseLimit(r *http.Request, def, max int) (int64, error) {
	s := query.Get(r, "limit")
	if s == "" {
		return int64(def), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, apperr.New(apperr.KindValidation, "paging", "limit must be a positive integer")
	}
	if n > max {
		n = max
	}
	return int64(n), nil
}

// ParseTime reads an RFC 3339 query parameter. Missing yields the zero time.
func ParseTime(r *http.Request, name string) (time.Time, error) {
	s := query.Get(r, name)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, apperr.New(apperr.KindValidation, "paging", name+" must be an RFC 3339 timestamp")
	}
	return t.UTC(), nil
}

// ParseWindow reads "from", "to" and "limit". A missing "to" is now and a
// missing "from" is DefaultSpan before "to".
func ParseWindow(r *http.Request, now time.Time) (Window, error) {
	from, err := ParseTime(r, "from")
	if err != nil {
		return Window{}, err
	}
	to, err := ParseTime(r, "to")
	if err != nil {
		return Window{}, err
	}
	limit, err := ParseLimit(r, DefaultLimit, MaxLimit)
	if err != nil {
		return Window{}, err
	}
	if to.IsZero() {
		to = now.UTC()
	}
	if from.IsZero() {
		from = to.Add(-DefaultSpan)
	}
	if from.After(to) {
		return Window{}, apperr.New(apperr.KindValidation, "paging", "from must not be after to")
	}
	return Window{From: from, To: to, Limit: limit}, nil
}

// ClampFrom moves w.From forward so the window reaches back at most span
// from w.To. A non-positive span leaves w unchanged.
func (w Window) ClampFrom(span time.Duration) Window {
	if span <= 0 {
		return w
	}
	if earliest := w.To.Add(-span); w.From.Before(earliest) {
		w.From = earliest
	}
	return w
}
