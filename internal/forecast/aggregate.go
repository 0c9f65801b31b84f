// Package forecast derives the hourly and daily views of a five-day forecast
// from raw three-hour upstream samples.
package forecast

import (
	"sort"
	"time"

	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/units"
)

const (
	// HourlyLimit caps the hourly view (24 three-hour slots, three days).
	HourlyLimit = 24
	// DailyLimit caps the daily view.
	DailyLimit = 7
	// DefaultIcon is used when a sample carries no weather condition.
	DefaultIcon = "01d"
)

// DefaultCondition is the single condition substituted for a missing weather array.
func DefaultCondition() []models.Condition {
	return []models.Condition{{Icon: DefaultIcon, Description: ""}}
}

// DeriveHourly normalizes the first HourlyLimit samples in upstream order.
// Temperatures are rounded and pop becomes a 0-100 percentage.
func DeriveHourly(samples []models.RawSample) []models.HourlySample {
	n := len(samples)
	if n > HourlyLimit {
		n = HourlyLimit
	}
	out := make([]models.HourlySample, 0, n)
	for _, s := range samples[:n] {
		out = append(out, models.HourlySample{
			DT:        s.DT,
			Temp:      units.Round(s.Temp),
			Pop:       s.Pop * 100,
			WindSpeed: s.WindSpeed,
			WindDeg:   s.WindDeg,
			Weather:   conditions(s.Weather),
		})
	}
	return out
}

type dayBucket struct {
	midnight  int64
	min, max  float64
	pop       float64
	windSpeed float64
	windDeg   float64
	weather   []models.Condition
}

// DeriveDaily groups every sample by its calendar day in loc and rolls each
// day up: min and max temperature, maximum pop, and the wind and condition of
// the first sample seen for that day. Days are sorted ascending and capped at
// DailyLimit. A nil loc means time.Local.
func DeriveDaily(samples []models.RawSample, loc *time.Location) []models.DailyAggregate {
	if loc == nil {
		loc = time.Local
	}

	buckets := make(map[int64]*dayBucket)
	for _, s := range samples {
		day := LocalMidnight(s.DT, loc)
		pop := s.Pop * 100

		b, ok := buckets[day]
		if !ok {
			buckets[day] = &dayBucket{
				midnight:  day,
				min:       s.Temp,
				max:       s.Temp,
				pop:       pop,
				windSpeed: s.WindSpeed,
				windDeg:   s.WindDeg,
				weather:   firstCondition(s.Weather),
			}
			continue
		}
		if s.Temp < b.min {
			b.min = s.Temp
		}
		if s.Temp > b.max {
			b.max = s.Temp
		}
		if pop > b.pop {
			b.pop = pop
		}
	}

	days := make([]*dayBucket, 0, len(buckets))
	for _, b := range buckets {
		days = append(days, b)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].midnight < days[j].midnight })
	if len(days) > DailyLimit {
		days = days[:DailyLimit]
	}

	out := make([]models.DailyAggregate, 0, len(days))
	for _, b := range days {
		out = append(out, models.DailyAggregate{
			DT:        b.midnight,
			Temp:      models.TempRange{Min: units.Round(b.min), Max: units.Round(b.max)},
			Pop:       b.pop,
			WindSpeed: b.windSpeed,
			WindDeg:   b.windDeg,
			Weather:   b.weather,
		})
	}
	return out
}

// LocalMidnight truncates an epoch-seconds timestamp to the start of its
// calendar day in loc and returns it in epoch seconds. When a DST change
// skips midnight, the day starts at the first instant after the gap.
func LocalMidnight(dt int64, loc *time.Location) int64 {
	t := time.Unix(dt, 0).In(loc)
	y, m, d := t.Date()
	mid := time.Date(y, m, d, 0, 0, 0, 0, loc)
	if my, mm, md := mid.Date(); my != y || mm != m || md != d {
		if _, end := mid.ZoneBounds(); !end.IsZero() {
			mid = end
		}
	}
	return mid.Unix()
}

func conditions(in []models.Condition) []models.Condition {
	if len(in) == 0 {
		return DefaultCondition()
	}
	out := make([]models.Condition, len(in))
	copy(out, in)
	return out
}

func firstCondition(in []models.Condition) []models.Condition {
	if len(in) == 0 {
		return DefaultCondition()
	}
	return []models.Condition{in[0]}
}
