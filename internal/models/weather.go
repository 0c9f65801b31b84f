package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// City is a place the user can search for, pin, and view. Identity is the
// coordinate pair; ID is derived from it with CityID.
type City struct {
	ID      string  `json:"id"`
	Name    string  `json:"name" validate:"required,max=100"`
	Country string  `json:"country" validate:"max=10"`
	Lat     float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon     float64 `json:"lon" validate:"gte=-180,lte=180"`
}

// Condition is one upstream weather-condition entry, used for icon lookup.
type Condition struct {
	Icon        string `json:"icon"`
	Description string `json:"description"`
}

// IconURL returns the image URL for the condition's icon code on host.
func (c Condition) IconURL(host string) string {
	return IconURL(host, c.Icon)
}

// IconURL renders an icon code through the provider's fixed image template.
func IconURL(host, code string) string {
	return "https://" + host + "/img/wn/" + code + "@2x.png"
}

// CurrentSnapshot is the normalized current-conditions view of a city.
// Temperatures are canonical Celsius, rounded at normalization time.
type CurrentSnapshot struct {
	CityID      string    `json:"cityId"`
	CityName    string    `json:"cityName"`
	Country     string    `json:"country"`
	Temp        int       `json:"temp"`
	FeelsLike   int       `json:"feelsLike"`
	Humidity    int       `json:"humidity"`
	WindSpeed   float64   `json:"windSpeed"`
	WindDeg     float64   `json:"windDeg"`
	Pressure    int       `json:"pressure"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	Visibility  int       `json:"visibility"` // meters
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RawSample is one 3-hour upstream forecast observation before derivation.
// Pop is the upstream 0–1 fraction. Weather is nil when upstream omitted it.
type RawSample struct {
	DT        int64
	Temp      float64
	Pop       float64
	WindSpeed float64
	WindDeg   float64
	Weather   []Condition
}

// HourlySample is a normalized 3-hour slot of the forecast.
type HourlySample struct {
	DT        int64       `json:"dt"`
	Temp      int         `json:"temp"`
	Pop       float64     `json:"pop"` // 0–100
	WindSpeed float64     `json:"windSpeed"`
	WindDeg   float64     `json:"windDeg"`
	Weather   []Condition `json:"weather"`
}

// TempRange is a rounded daily minimum and maximum.
type TempRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// DailyAggregate is one local calendar day rolled up from hourly samples.
// DT is the day's local midnight in epoch seconds.
type DailyAggregate struct {
	DT        int64       `json:"dt"`
	Temp      TempRange   `json:"temp"`
	Pop       float64     `json:"pop"`
	WindSpeed float64     `json:"windSpeed"`
	WindDeg   float64     `json:"windDeg"`
	Weather   []Condition `json:"weather"`
}

// ForecastBundle is the combined hourly and daily forecast for one city.
type ForecastBundle struct {
	CityID    string           `json:"cityId"`
	CityName  string           `json:"cityName"`
	Hourly    []HourlySample   `json:"hourly"`
	Daily     []DailyAggregate `json:"daily"`
	FetchedAt time.Time        `json:"fetchedAt"`
}

// FormatCoord renders a coordinate in its shortest exact decimal form.
func FormatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// CityID derives the stable composite id "<lat>-<lon>" for a coordinate.
func CityID(lat, lon float64) string {
	return FormatCoord(lat) + "-" + FormatCoord(lon)
}

// NewCity builds a City with its ID derived from the coordinate.
func NewCity(name, country string, lat, lon float64) City {
	return City{
		ID:      CityID(lat, lon),
		Name:    name,
		Country: country,
		Lat:     lat,
		Lon:     lon,
	}
}

// ParseCityID splits an id produced by CityID back into its coordinates.
// The separator is the first '-' that follows a digit, so negative
// latitudes and longitudes ("-33.8--151.2") parse correctly.
func ParseCityID(id string) (lat, lon float64, err error) {
	sep := -1
	for i := 1; i < len(id); i++ {
		if id[i] == '-' && id[i-1] >= '0' && id[i-1] <= '9' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return 0, 0, fmt.Errorf("city id %q: missing separator", id)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(id[:sep]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("city id %q: latitude: %w", id, err)
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(id[sep+1:]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("city id %q: longitude: %w", id, err)
	}
	return lat, lon, nil
}
