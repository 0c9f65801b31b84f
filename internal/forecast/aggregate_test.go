package forecast

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/kjstillabower/weather-dashboard/internal/models"
)

func at(loc *time.Location, y int, m time.Month, d, h int) int64 {
	return time.Date(y, m, d, h, 0, 0, 0, loc).Unix()
}

func TestDeriveDaily_Example(t *testing.T) {
	loc := time.UTC
	samples := []models.RawSample{
		{DT: at(loc, 2024, 3, 1, 9), Temp: 10, Pop: 0.2, WindSpeed: 3, WindDeg: 90, Weather: []models.Condition{{Icon: "01d", Description: "clear sky"}}},
		{DT: at(loc, 2024, 3, 1, 15), Temp: 18, Pop: 0.5, WindSpeed: 9, WindDeg: 270, Weather: []models.Condition{{Icon: "10d", Description: "rain"}}},
		{DT: at(loc, 2024, 3, 2, 3), Temp: 5, Pop: 0.1, WindSpeed: 1, WindDeg: 45},
	}

	got := DeriveDaily(samples, loc)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}

	day1, day2 := got[0], got[1]
	if day1.DT != at(loc, 2024, 3, 1, 0) || day2.DT != at(loc, 2024, 3, 2, 0) {
		t.Errorf("day timestamps = %d, %d, want local midnights", day1.DT, day2.DT)
	}
	if day1.Temp != (models.TempRange{Min: 10, Max: 18}) || day1.Pop != 50 {
		t.Errorf("day1 = %+v, want min 10 max 18 pop 50", day1)
	}
	if day2.Temp != (models.TempRange{Min: 5, Max: 5}) || day2.Pop != 10 {
		t.Errorf("day2 = %+v, want min 5 max 5 pop 10", day2)
	}
	if day1.WindSpeed != 3 || day1.WindDeg != 90 {
		t.Errorf("day1 wind = %v@%v, want first sample's 3@90", day1.WindSpeed, day1.WindDeg)
	}
	if len(day1.Weather) != 1 || day1.Weather[0].Icon != "01d" || day1.Weather[0].Description != "clear sky" {
		t.Errorf("day1 weather = %+v, want first sample's condition", day1.Weather)
	}
	if len(day2.Weather) != 1 || day2.Weather[0] != DefaultCondition()[0] {
		t.Errorf("day2 weather = %+v, want default condition", day2.Weather)
	}
}

func TestDeriveDaily_FirstSampleWinsEvenWhenUnordered(t *testing.T) {
	loc := time.UTC
	samples := []models.RawSample{
		{DT: at(loc, 2024, 3, 1, 18), Temp: 12, WindSpeed: 7, Weather: []models.Condition{{Icon: "04n"}}},
		{DT: at(loc, 2024, 3, 1, 6), Temp: 4, WindSpeed: 2, Weather: []models.Condition{{Icon: "01d"}}},
	}
	got := DeriveDaily(samples, loc)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].WindSpeed != 7 || got[0].Weather[0].Icon != "04n" {
		t.Errorf("representative = %v/%s, want the first encountered sample", got[0].WindSpeed, got[0].Weather[0].Icon)
	}
	if got[0].Temp.Min != 4 || got[0].Temp.Max != 12 {
		t.Errorf("temp = %+v", got[0].Temp)
	}
}

func TestDeriveDaily_SortedAndCapped(t *testing.T) {
	loc := time.UTC
	var samples []models.RawSample
	for d := 10; d >= 1; d-- {
		samples = append(samples, models.RawSample{DT: at(loc, 2024, 5, d, 12), Temp: float64(d)})
	}
	got := DeriveDaily(samples, loc)
	if len(got) != DailyLimit {
		t.Fatalf("len = %d, want %d", len(got), DailyLimit)
	}
	for i := 1; i < len(got); i++ {
		if got[i].DT <= got[i-1].DT {
			t.Fatalf("days not ascending at %d: %d <= %d", i, got[i].DT, got[i-1].DT)
		}
	}
	if got[0].Temp.Min != 1 || got[6].Temp.Min != 7 {
		t.Errorf("kept days %d..%d, want 1..7", got[0].Temp.Min, got[6].Temp.Min)
	}
}

func TestDeriveDaily_RoundsOnOutput(t *testing.T) {
	loc := time.UTC
	samples := []models.RawSample{
		{DT: at(loc, 2024, 1, 1, 0), Temp: -2.5},
		{DT: at(loc, 2024, 1, 1, 3), Temp: 7.5},
		{DT: at(loc, 2024, 1, 1, 6), Temp: 3.4},
	}
	got := DeriveDaily(samples, loc)
	if got[0].Temp.Min != -2 || got[0].Temp.Max != 8 {
		t.Errorf("temp = %+v, want {-2 8}", got[0].Temp)
	}
}

func TestDeriveDaily_BucketsByLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	// 20:00 UTC on Mar 1 is 05:00 on Mar 2 in Tokyo.
	samples := []models.RawSample{
		{DT: at(time.UTC, 2024, 3, 1, 12), Temp: 1},
		{DT: at(time.UTC, 2024, 3, 1, 20), Temp: 2},
	}
	if got := DeriveDaily(samples, time.UTC); len(got) != 1 {
		t.Errorf("UTC buckets = %d, want 1", len(got))
	}
	got := DeriveDaily(samples, tokyo)
	if len(got) != 2 {
		t.Fatalf("JST buckets = %d, want 2", len(got))
	}
	if got[1].DT != at(tokyo, 2024, 3, 2, 0) {
		t.Errorf("second bucket = %d, want Tokyo midnight of Mar 2", got[1].DT)
	}
}

func TestDeriveDaily_UsesAllSamples(t *testing.T) {
	loc := time.UTC
	var samples []models.RawSample
	start := at(loc, 2024, 6, 1, 0)
	for i := 0; i < 40; i++ {
		samples = append(samples, models.RawSample{DT: start + int64(i)*3*3600, Temp: 10})
	}
	if got := DeriveDaily(samples, loc); len(got) != 5 {
		t.Errorf("len = %d, want 5 days from 40 three-hour samples", len(got))
	}
}

func TestDeriveHourly(t *testing.T) {
	var samples []models.RawSample
	for i := 0; i < 40; i++ {
		samples = append(samples, models.RawSample{DT: int64(1000 + i), Temp: 20.5, Pop: 0.25, WindSpeed: 4.2, WindDeg: 180})
	}
	samples[0].Weather = []models.Condition{{Icon: "10n", Description: "light rain"}, {Icon: "50n", Description: "mist"}}

	got := DeriveHourly(samples)
	if len(got) != HourlyLimit {
		t.Fatalf("len = %d, want %d", len(got), HourlyLimit)
	}
	for i, h := range got {
		if h.DT != int64(1000+i) {
			t.Fatalf("order changed at %d: dt %d", i, h.DT)
		}
	}
	first := got[0]
	if first.Temp != 21 || first.Pop != 25 || first.WindSpeed != 4.2 || first.WindDeg != 180 {
		t.Errorf("first = %+v", first)
	}
	if len(first.Weather) != 2 {
		t.Errorf("weather = %+v, want full condition array", first.Weather)
	}
	if len(got[1].Weather) != 1 || got[1].Weather[0].Icon != DefaultIcon {
		t.Errorf("missing weather = %+v, want default condition", got[1].Weather)
	}
}

func TestDerive_EmptyInput(t *testing.T) {
	hourly := DeriveHourly(nil)
	daily := DeriveDaily(nil, time.UTC)
	if hourly == nil || len(hourly) != 0 {
		t.Errorf("DeriveHourly(nil) = %#v, want empty slice", hourly)
	}
	if daily == nil || len(daily) != 0 {
		t.Errorf("DeriveDaily(nil) = %#v, want empty slice", daily)
	}
}

func mustLoadLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%q): %v", name, err)
	}
	return loc
}

func TestLocalMidnight(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	newYork := mustLoadLocation(t, "America/New_York")
	saoPaulo := mustLoadLocation(t, "America/Sao_Paulo")

	tests := []struct {
		name string
		dt   int64
		loc  *time.Location
		want time.Time
	}{
		{
			name: "fixed offset previous day",
			dt:   at(time.UTC, 2024, 1, 2, 3), // 22:00 Jan 1 in EST
			loc:  est,
			want: time.Date(2024, 1, 1, 0, 0, 0, 0, est),
		},
		{
			name: "spring forward at 2am keeps midnight",
			dt:   at(newYork, 2024, 3, 10, 15),
			loc:  newYork,
			want: time.Date(2024, 3, 10, 5, 0, 0, 0, time.UTC),
		},
		{
			// clocks jumped from 00:00 -03 to 01:00 -02 on 2018-11-04
			name: "spring forward at midnight starts after the gap",
			dt:   time.Date(2018, 11, 4, 15, 0, 0, 0, time.UTC).Unix(),
			loc:  saoPaulo,
			want: time.Date(2018, 11, 4, 3, 0, 0, 0, time.UTC),
		},
		{
			name: "day after midnight transition",
			dt:   time.Date(2018, 11, 5, 12, 0, 0, 0, time.UTC).Unix(),
			loc:  saoPaulo,
			want: time.Date(2018, 11, 5, 2, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LocalMidnight(tt.dt, tt.loc)
			if got != tt.want.Unix() {
				t.Errorf("LocalMidnight = %s, want %s",
					time.Unix(got, 0).In(tt.loc), tt.want.In(tt.loc))
			}
			sample := time.Unix(tt.dt, 0).In(tt.loc)
			day := time.Unix(got, 0).In(tt.loc)
			if sample.YearDay() != day.YearDay() {
				t.Errorf("bucket date %s differs from sample date %s", day.Format("2006-01-02"), sample.Format("2006-01-02"))
			}
		})
	}
}

func TestDeriveDaily_MidnightDSTGap(t *testing.T) {
	loc := mustLoadLocation(t, "America/Sao_Paulo")
	start := time.Date(2018, 11, 3, 12, 0, 0, 0, loc)
	samples := make([]models.RawSample, 16)
	for i := range samples {
		samples[i] = models.RawSample{DT: start.Add(time.Duration(i) * 3 * time.Hour).Unix(), Temp: float64(i)}
	}

	got := DeriveDaily(samples, loc)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, wantDay := range []int{3, 4, 5} {
		d := time.Unix(got[i].DT, 0).In(loc)
		if d.Month() != time.November || d.Day() != wantDay {
			t.Errorf("day %d stamped %s, want 2018-11-%02d", i, d.Format("2006-01-02 15:04 -07"), wantDay)
		}
	}
}
