// Package units converts canonical Celsius values into the user's display unit.
package units

import "math"

// Unit is a temperature display unit. The string values are the persisted form.
type Unit string

const (
	Celsius    Unit = "celsius"
	Fahrenheit Unit = "fahrenheit"
)

// ParseUnit accepts the persisted unit names.
func ParseUnit(s string) (Unit, bool) {
	switch Unit(s) {
	case Celsius, Fahrenheit:
		return Unit(s), true
	}
	return "", false
}

// Toggle returns the other unit.
func (u Unit) Toggle() Unit {
	if u == Fahrenheit {
		return Celsius
	}
	return Fahrenheit
}

// Round rounds half up (toward +Inf), so -2.5 becomes -2.
func Round(v float64) int {
	return int(math.Floor(v + 0.5))
}

// ToDisplayTemperature converts celsius into unit, then rounds once.
func ToDisplayTemperature(celsius float64, unit Unit) int {
	if unit == Fahrenheit {
		return Round(celsius*9/5 + 32)
	}
	return Round(celsius)
}

// TemperatureSuffix returns the display suffix for unit.
func TemperatureSuffix(unit Unit) string {
	if unit == Fahrenheit {
		return "°F"
	}
	return "°C"
}
