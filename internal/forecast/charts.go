package forecast

import (
	"math"
	"strconv"
	"time"

	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/units"
)

const (
	temperaturePoints = 12
	windPoints        = 8
)

// TemperaturePoint is one hourly temperature in the display unit.
type TemperaturePoint struct {
	Time  string `json:"time"`
	Temp  int    `json:"temp"`
	Label string `json:"label"`
}

// PrecipitationPoint is the daily chance of precipitation as a whole percentage.
type PrecipitationPoint struct {
	Day string `json:"day"`
	Pop int    `json:"pop"`
}

// WindPoint is one hourly wind reading, speed rounded to one decimal.
type WindPoint struct {
	Time      string  `json:"time"`
	Speed     float64 `json:"speed"`
	Direction float64 `json:"direction"`
}

// Charts bundles the three chart series for one city.
type Charts struct {
	Unit          units.Unit           `json:"unit"`
	Temperature   []TemperaturePoint   `json:"temperature"`
	Precipitation []PrecipitationPoint `json:"precipitation"`
	Wind          []WindPoint          `json:"wind"`
}

// BuildCharts derives all chart series from a forecast bundle.
func BuildCharts(b models.ForecastBundle, unit units.Unit, loc *time.Location) Charts {
	return Charts{
		Unit:          unit,
		Temperature:   TemperatureSeries(b.Hourly, unit, loc),
		Precipitation: PrecipitationSeries(b.Daily, loc),
		Wind:          WindSeries(b.Hourly, loc),
	}
}

// TemperatureSeries converts the first 12 hourly temperatures into unit.
// Hourly temperatures are already rounded Celsius.
func TemperatureSeries(hourly []models.HourlySample, unit units.Unit, loc *time.Location) []TemperaturePoint {
	hourly = head(hourly, temperaturePoints)
	out := make([]TemperaturePoint, 0, len(hourly))
	for _, h := range hourly {
		t := units.ToDisplayTemperature(float64(h.Temp), unit)
		out = append(out, TemperaturePoint{
			Time:  clock(h.DT, loc),
			Temp:  t,
			Label: strconv.Itoa(t) + units.TemperatureSuffix(unit),
		})
	}
	return out
}

// PrecipitationSeries maps each day to its rounded pop percentage.
func PrecipitationSeries(daily []models.DailyAggregate, loc *time.Location) []PrecipitationPoint {
	out := make([]PrecipitationPoint, 0, len(daily))
	for _, d := range daily {
		out = append(out, PrecipitationPoint{
			Day: time.Unix(d.DT, 0).In(location(loc)).Format("Mon"),
			Pop: units.Round(d.Pop),
		})
	}
	return out
}

// WindSeries returns the first 8 hourly wind readings.
func WindSeries(hourly []models.HourlySample, loc *time.Location) []WindPoint {
	hourly = head(hourly, windPoints)
	out := make([]WindPoint, 0, len(hourly))
	for _, h := range hourly {
		out = append(out, WindPoint{
			Time:      clock(h.DT, loc),
			Speed:     math.Floor(h.WindSpeed*10+0.5) / 10,
			Direction: h.WindDeg,
		})
	}
	return out
}

func head(hourly []models.HourlySample, n int) []models.HourlySample {
	if len(hourly) > n {
		return hourly[:n]
	}
	return hourly
}

func clock(dt int64, loc *time.Location) string {
	return time.Unix(dt, 0).In(location(loc)).Format("15:04")
}

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}
