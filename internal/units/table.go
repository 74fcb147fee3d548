package units

import (
	"fmt"
	"strings"
)

// Unit families.
const (
	FamilyLength   = "length"
	FamilyMass     = "mass"
	FamilyForce    = "force"
	FamilyPressure = "pressure"
	FamilyVolume   = "volume"
	FamilyDensity  = "density"
	FamilyPercent  = "percent"
	FamilyCount    = "count"
)

// Info describes a unit symbol: its family and the factor that converts one
// of this unit into the family's SI base (m, kg, N, Pa, m3, kg/m3).
type Info struct {
	Symbol string
	Family string
	ToBase float64
}

const (
	lbToKg  = 0.45359237
	inToM   = 0.0254
	ftToM   = 0.3048
	lbfToN  = 4.4482216152605
	ft3ToM3 = ftToM * ftToM * ftToM
)

var unitTable = map[string]Info{
	// length
	"mm": {Symbol: "mm", Family: FamilyLength, ToBase: 0.001},
	"cm": {Symbol: "cm", Family: FamilyLength, ToBase: 0.01},
	"m":  {Symbol: "m", Family: FamilyLength, ToBase: 1},
	"in": {Symbol: "in", Family: FamilyLength, ToBase: inToM},
	"ft": {Symbol: "ft", Family: FamilyLength, ToBase: ftToM},
	// mass
	"mg": {Symbol: "mg", Family: FamilyMass, ToBase: 1e-6},
	"g":  {Symbol: "g", Family: FamilyMass, ToBase: 0.001},
	"kg": {Symbol: "kg", Family: FamilyMass, ToBase: 1},
	"lb": {Symbol: "lb", Family: FamilyMass, ToBase: lbToKg},
	// force
	"N":   {Symbol: "N", Family: FamilyForce, ToBase: 1},
	"kN":  {Symbol: "kN", Family: FamilyForce, ToBase: 1000},
	"lbf": {Symbol: "lbf", Family: FamilyForce, ToBase: lbfToN},
	// pressure
	"Pa":  {Symbol: "Pa", Family: FamilyPressure, ToBase: 1},
	"kPa": {Symbol: "kPa", Family: FamilyPressure, ToBase: 1e3},
	"MPa": {Symbol: "MPa", Family: FamilyPressure, ToBase: 1e6},
	"psi": {Symbol: "psi", Family: FamilyPressure, ToBase: lbfToN / (inToM * inToM)},
	// volume
	"cm3": {Symbol: "cm3", Family: FamilyVolume, ToBase: 1e-6},
	"ml":  {Symbol: "ml", Family: FamilyVolume, ToBase: 1e-6},
	"l":   {Symbol: "l", Family: FamilyVolume, ToBase: 1e-3},
	"m3":  {Symbol: "m3", Family: FamilyVolume, ToBase: 1},
	"ft3": {Symbol: "ft3", Family: FamilyVolume, ToBase: ft3ToM3},
	// density
	"g/cm3": {Symbol: "g/cm3", Family: FamilyDensity, ToBase: 1000},
	"kg/m3": {Symbol: "kg/m3", Family: FamilyDensity, ToBase: 1},
	"pcf":   {Symbol: "pcf", Family: FamilyDensity, ToBase: lbToKg / ft3ToM3},
	// dimensionless
	"%":     {Symbol: "%", Family: FamilyPercent, ToBase: 1},
	"blows": {Symbol: "blows", Family: FamilyCount, ToBase: 1},
}

var unitAliases = map[string]string{
	"g/cc":   "g/cm3",
	"g/cm³":  "g/cm3",
	"kg/m³":  "kg/m3",
	"cm³":    "cm3",
	"m³":     "m3",
	"mL":     "ml",
	"L":      "l",
	"lb/ft3": "pcf",
	"ft³":    "ft3",
}

// Lookup returns the unit metadata for a symbol or one of its aliases.
func Lookup(symbol string) (Info, bool) {
	s := strings.TrimSpace(symbol)
	if alias, ok := unitAliases[s]; ok {
		s = alias
	}
	info, ok := unitTable[s]
	return info, ok
}

// Compatible reports whether both units exist and belong to the same family.
func Compatible(from, to string) bool {
	a, ok := Lookup(from)
	if !ok {
		return false
	}
	b, ok := Lookup(to)
	return ok && a.Family == b.Family
}

// Convert converts v from one unit to another of the same family.
func Convert(v float64, from, to string) (float64, error) {
	if from == to {
		return v, nil
	}
	a, ok := Lookup(from)
	if !ok {
		return 0, fmt.Errorf("unknown unit %q", from)
	}
	b, ok := Lookup(to)
	if !ok {
		return 0, fmt.Errorf("unknown unit %q", to)
	}
	if a.Family != b.Family {
		return 0, fmt.Errorf("cannot convert %s (%s) to %s (%s)", from, a.Family, to, b.Family)
	}
	if a.Symbol == b.Symbol {
		return v, nil
	}
	return v * a.ToBase / b.ToBase, nil
}
