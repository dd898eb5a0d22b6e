package slot

import (
	"errors"
	"time"
)

// ErrInvalidDuration is returned when a priced range is empty or negative.
var ErrInvalidDuration = errors.New("end time must be after start time")

// Remainder charging tiers for the partial hour at the end of a session.
const (
	remainderFreeUnder   = 15 // minutes below this are not charged
	remainderFullHourMin = 45 // minutes from this up count as a full hour
)

// PriceDuration prices the range [start, end) at one hourly rate. Full hours
// are charged at the rate; the partial-hour remainder is free under 15
// minutes, a half hour plus a 10% surcharge up to 44 minutes, and a full
// hour from 45 minutes.
func PriceDuration(start, end time.Time, hourlyRate float64) (float64, error) {
	if !end.After(start) {
		return 0, ErrInvalidDuration
	}
	minutes := int(end.Sub(start).Minutes())
	fullHours := minutes / 60
	remainder := minutes % 60

	total := float64(fullHours) * hourlyRate
	switch {
	case remainder < remainderFreeUnder:
		// free
	case remainder < remainderFullHourMin:
		total += 0.5*hourlyRate + 0.1*hourlyRate
	default:
		total += hourlyRate
	}
	return total, nil
}

// PriceBooking sums PriceDuration over the hourly rates of every machine in
// the booking.
func PriceBooking(start, end time.Time, hourlyRates []float64) (float64, error) {
	var total float64
	for _, rate := range hourlyRates {
		price, err := PriceDuration(start, end, rate)
		if err != nil {
			return 0, err
		}
		total += price
	}
	return total, nil
}
