package units

// Normalizer converts measurements that arrive without an explicit unit using
// the user's stored preferences, and measurements that carry one using that
// unit. It is built once per sync.
type Normalizer struct {
	weight   WeightUnit
	distance DistanceUnit
	volume   VolumeUnit
}

// NewNormalizer builds a Normalizer, falling back to metric units for any
// preference that is unset.
func NewNormalizer(weight WeightUnit, distance DistanceUnit, volume VolumeUnit) Normalizer {
	if weight == "" {
		weight = Kilograms
	}
	if distance == "" {
		distance = Kilometers
	}
	if volume == "" {
		volume = Milliliters
	}
	return Normalizer{weight: weight, distance: distance, volume: volume}
}

// WeightKg converts value to kilograms. An empty unit means the user's
// preferred weight unit. The result is rounded to two decimals.
func (n Normalizer) WeightKg(value float64, unit string) (float64, error) {
	u := n.weight
	if unit != "" {
		parsed, err := ParseWeightUnit(unit)
		if err != nil {
			return 0, err
		}
		u = parsed
	}
	kg, err := ToKilograms(value, u)
	if err != nil {
		return 0, err
	}
	return Round(kg, 2), nil
}

// DistanceKm converts value to kilometers. An empty unit means the user's
// preferred distance unit.
func (n Normalizer) DistanceKm(value float64, unit string) (float64, error) {
	u := n.distance
	if unit != "" {
		parsed, err := ParseDistanceUnit(unit)
		if err != nil {
			return 0, err
		}
		u = parsed
	}
	km, err := ToKilometers(value, u)
	if err != nil {
		return 0, err
	}
	return Round(km, 3), nil
}

// VolumeMl converts value to milliliters. An empty unit means the user's
// preferred volume unit.
func (n Normalizer) VolumeMl(value float64, unit string) (float64, error) {
	u := n.volume
	if unit != "" {
		parsed, err := ParseVolumeUnit(unit)
		if err != nil {
			return 0, err
		}
		u = parsed
	}
	ml, err := ToMilliliters(value, u)
	if err != nil {
		return 0, err
	}
	return Round(ml, 1), nil
}

// WeightUnit reports the preferred weight unit.
func (n Normalizer) WeightUnit() WeightUnit { return n.weight }

// DistanceUnit reports the preferred distance unit.
func (n Normalizer) DistanceUnit() DistanceUnit { return n.distance }

// VolumeUnit reports the preferred volume unit.
func (n Normalizer) VolumeUnit() VolumeUnit { return n.volume }
