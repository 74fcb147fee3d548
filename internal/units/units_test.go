package units

import (
	"errors"
	"math"
	"testing"
)

func TestParseNumber(t *testing.T) {
	cases := []struct {
		raw     string
		want    float64
		wantErr bool
	}{
		{raw: "1.90", want: 1.9},
		{raw: "  12 ", want: 12},
		{raw: "1,5", want: 1.5},
		{raw: "-3e2", want: -300},
		{raw: "", wantErr: true},
		{raw: "abc", wantErr: true},
		{raw: "NaN", wantErr: true},
		{raw: "Inf", wantErr: true},
		{raw: "1,000.5", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseNumber(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseNumber(%q): expected error, got %v", tc.raw, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseNumber(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseNumber(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
	if _, err := ParseNumber("   "); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestRound(t *testing.T) {
	if got := Round(1.90/1.12, 3); got != 1.696 {
		t.Fatalf("expected 1.696, got %v", got)
	}
	if got := Round(2.5, 0); got != 3 {
		t.Fatalf("expected half away from zero, got %v", got)
	}
	if got := Round(-2.5, 0); got != -3 {
		t.Fatalf("expected -3, got %v", got)
	}
	if got := Round(1.23456, -1); got != 1.23456 {
		t.Fatalf("negative precision must not round, got %v", got)
	}
}

func TestRatioAndPercentGuardZero(t *testing.T) {
	if _, ok := Ratio(1, 0); ok {
		t.Fatalf("expected ratio guard on zero denominator")
	}
	if _, ok := Percent(1, 0); ok {
		t.Fatalf("expected percent guard on zero whole")
	}
	if v, ok := Percent(1.7, 2.0); !ok || math.Abs(v-85) > 1e-9 {
		t.Fatalf("unexpected percent %v %v", v, ok)
	}
}

func TestConvert(t *testing.T) {
	cases := []struct {
		v        float64
		from, to string
		want     float64
	}{
		{v: 150, from: "mm", to: "m", want: 0.15},
		{v: 2500, from: "g", to: "kg", want: 2.5},
		{v: 1.9, from: "g/cm3", to: "kg/m3", want: 1900},
		{v: 1900, from: "kg/m³", to: "g/cm3", want: 1.9},
		{v: 250, from: "kN", to: "N", want: 250000},
		{v: 944, from: "ml", to: "cm3", want: 944},
		{v: 12, from: "%", to: "%", want: 12},
	}
	for _, tc := range cases {
		got, err := Convert(tc.v, tc.from, tc.to)
		if err != nil {
			t.Fatalf("Convert(%v %s->%s): %v", tc.v, tc.from, tc.to, err)
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("Convert(%v %s->%s) = %v, want %v", tc.v, tc.from, tc.to, got, tc.want)
		}
	}
	if _, err := Convert(1, "mm", "kg"); err == nil {
		t.Fatalf("expected cross-family error")
	}
	if _, err := Convert(1, "furlong", "m"); err == nil {
		t.Fatalf("expected unknown unit error")
	}
	if !Compatible("pcf", "g/cm3") || Compatible("pcf", "m") {
		t.Fatalf("unexpected compatibility result")
	}
}
