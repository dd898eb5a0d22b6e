package slot

import (
	"fmt"
	"time"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// ResolveClock combines a calendar date (YYYY-MM-DD) and a clock time (HH:mm)
// into an absolute instant in the given location.
func ResolveClock(date, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout+" "+clockLayout, date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date/clock %q %q: %w", date, clock, err)
	}
	return t, nil
}

// FormatClock renders an instant back to the HH:mm form slots are stored in.
func FormatClock(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(clockLayout)
}

// ValidDate reports whether s is a well-formed YYYY-MM-DD date.
func ValidDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}
