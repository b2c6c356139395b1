// Package units converts vendor measurements into the canonical storage units
// (kilograms, kilometers, milliliters, minutes) and back into display units.
package units

import (
	"fmt"
	"math"
	"strings"
)

// WeightUnit is a user-selectable weight unit.
type WeightUnit string

// DistanceUnit is a user-selectable distance unit.
type DistanceUnit string

// VolumeUnit is a user-selectable fluid volume unit.
type VolumeUnit string

const (
	Kilograms WeightUnit = "kg"
	Pounds    WeightUnit = "lbs"
	Grams     WeightUnit = "g"

	Kilometers DistanceUnit = "km"
	Miles      DistanceUnit = "miles"
	Meters     DistanceUnit = "m"

	Milliliters  VolumeUnit = "ml"
	FluidOunces  VolumeUnit = "oz"
	Liters       VolumeUnit = "l"
	CupsUSVolume VolumeUnit = "cup"
)

const (
	poundsPerKilogram = 2.20462
	kilogramsPerPound = 0.453592
	kilometersPerMile = 1.60934
	millilitersPerOz  = 29.5735
	millilitersPerCup = 236.588
)

// ParseWeightUnit accepts the spellings vendors use for weight units.
func ParseWeightUnit(raw string) (WeightUnit, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "kg", "kgs", "kilogram", "kilograms":
		return Kilograms, nil
	case "lb", "lbs", "pound", "pounds":
		return Pounds, nil
	case "g", "gram", "grams":
		return Grams, nil
	}
	return "", fmt.Errorf("unknown weight unit %q", raw)
}

// ParseDistanceUnit accepts the spellings vendors use for distance units.
func ParseDistanceUnit(raw string) (DistanceUnit, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "km", "kilometer", "kilometers", "kilometre", "kilometres":
		return Kilometers, nil
	case "mi", "mile", "miles":
		return Miles, nil
	case "m", "meter", "meters", "metre", "metres":
		return Meters, nil
	}
	return "", fmt.Errorf("unknown distance unit %q", raw)
}

// ParseVolumeUnit accepts the spellings vendors use for volume units.
func ParseVolumeUnit(raw string) (VolumeUnit, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ml", "milliliter", "milliliters", "millilitre", "millilitres":
		return Milliliters, nil
	case "oz", "floz", "fl oz", "fluid_ounce", "fluid ounce", "fluid ounces":
		return FluidOunces, nil
	case "l", "liter", "liters", "litre", "litres":
		return Liters, nil
	case "cup", "cups":
		return CupsUSVolume, nil
	}
	return "", fmt.Errorf("unknown volume unit %q", raw)
}

// ToKilograms converts value expressed in unit to kilograms.
func ToKilograms(value float64, unit WeightUnit) (float64, error) {
	switch unit {
	case Kilograms:
		return value, nil
	case Pounds:
		return value * kilogramsPerPound, nil
	case Grams:
		return value * 0.001, nil
	}
	return 0, fmt.Errorf("unknown weight unit %q", unit)
}

// FromKilograms converts kilograms to unit.
func FromKilograms(kg float64, unit WeightUnit) (float64, error) {
	switch unit {
	case Kilograms:
		return kg, nil
	case Pounds:
		return kg * poundsPerKilogram, nil
	case Grams:
		return kg * 1000, nil
	}
	return 0, fmt.Errorf("unknown weight unit %q", unit)
}

// ToKilometers converts value expressed in unit to kilometers.
func ToKilometers(value float64, unit DistanceUnit) (float64, error) {
	switch unit {
	case Kilometers:
		return value, nil
	case Miles:
		return value * kilometersPerMile, nil
	case Meters:
		return value / 1000, nil
	}
	return 0, fmt.Errorf("unknown distance unit %q", unit)
}

// FromKilometers converts kilometers to unit.
func FromKilometers(km float64, unit DistanceUnit) (float64, error) {
	switch unit {
	case Kilometers:
		return km, nil
	case Miles:
		return km / kilometersPerMile, nil
	case Meters:
		return km * 1000, nil
	}
	return 0, fmt.Errorf("unknown distance unit %q", unit)
}

// ToMilliliters converts value expressed in unit to milliliters.
func ToMilliliters(value float64, unit VolumeUnit) (float64, error) {
	switch unit {
	case Milliliters:
		return value, nil
	case FluidOunces:
		return value * millilitersPerOz, nil
	case Liters:
		return value * 1000, nil
	case CupsUSVolume:
		return value * millilitersPerCup, nil
	}
	return 0, fmt.Errorf("unknown volume unit %q", unit)
}

// FromMilliliters converts milliliters to unit.
func FromMilliliters(ml float64, unit VolumeUnit) (float64, error) {
	switch unit {
	case Milliliters:
		return ml, nil
	case FluidOunces:
		return ml / millilitersPerOz, nil
	case Liters:
		return ml / 1000, nil
	case CupsUSVolume:
		return ml / millilitersPerCup, nil
	}
	return 0, fmt.Errorf("unknown volume unit %q", unit)
}

// SecondsToMinutes converts a duration in seconds to fractional minutes.
func SecondsToMinutes(seconds float64) float64 {
	return seconds / 60
}

// Round rounds value half away from zero to the given number of decimal places.
func Round(value float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(value*scale) / scale
}
