package pilot

import (
	"fmt"
	"time"
)

// Schedule supplies the night boundaries. Astronomical twilight
// computation lives outside this core; implementations may wrap an
// ephemeris service or fixed clock times.
type Schedule interface {
	// Night returns the sunset and sunrise bracketing the night that now
	// belongs to. For an afternoon timestamp that is the coming night;
	// after midnight it is the night already in progress.
	Night(now time.Time) (sunset, sunrise time.Time)
}

// FixedTimes is a Schedule with the same wall-clock sunset and sunrise
// every day.
type FixedTimes struct {
	sunset  timeOfDay
	sunrise timeOfDay
}

type timeOfDay struct {
	hour, minute int
}

// NewFixedTimes parses "HH:MM" sunset and sunrise times.
func NewFixedTimes(sunset, sunrise string) (FixedTimes, error) {
	set, err := parseTimeOfDay(sunset)
	if err != nil {
		return FixedTimes{}, fmt.Errorf("parse sunset time: %w", err)
	}
	rise, err := parseTimeOfDay(sunrise)
	if err != nil {
		return FixedTimes{}, fmt.Errorf("parse sunrise time: %w", err)
	}
	return FixedTimes{sunset: set, sunrise: rise}, nil
}

func parseTimeOfDay(raw string) (timeOfDay, error) {
	parsed, err := time.Parse("15:04", raw)
	if err != nil {
		return timeOfDay{}, err
	}
	return timeOfDay{hour: parsed.Hour(), minute: parsed.Minute()}, nil
}

func (t timeOfDay) on(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.hour, t.minute, 0, 0, day.Location())
}

// Night implements Schedule. Sunrise lands on the day after sunset when
// the sunrise time of day precedes the sunset time of day.
func (f FixedTimes) Night(now time.Time) (time.Time, time.Time) {
	sunset := f.sunset.on(now)
	sunrise := f.sunrise.on(now)
	if !sunrise.After(sunset) {
		sunrise = sunrise.AddDate(0, 0, 1)
	}
	// Before today's sunrise we are still in yesterday's night.
	if now.Before(sunrise.AddDate(0, 0, -1)) {
		return sunset.AddDate(0, 0, -1), sunrise.AddDate(0, 0, -1)
	}
	return sunset, sunrise
}
