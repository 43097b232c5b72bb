package scheduler

import (
	"fmt"
	"time"
)

// Intensity selects a human-mode preset
type Intensity string

const (
	IntensityLow    Intensity = "low"
	IntensityMedium Intensity = "medium"
	IntensityHigh   Intensity = "high"
)

// ParseIntensity validates a configured intensity name
func ParseIntensity(s string) (Intensity, error) {
	switch Intensity(s) {
	case IntensityLow, IntensityMedium, IntensityHigh:
		return Intensity(s), nil
	}
	return "", fmt.Errorf("unknown intensity %q (want low, medium or high)", s)
}

// Settings is the account-scoped view the scheduler consults on every decision
type Settings struct {
	HumanMode bool
	Intensity Intensity
}

// Preset bounds the randomized pacing of one intensity level
type Preset struct {
	JitterRatio       float64
	InterTaskDelayMin time.Duration
	InterTaskDelayMax time.Duration
	RestIntervalMin   time.Duration
	RestIntervalMax   time.Duration
	RestDurationMin   time.Duration
	RestDurationMax   time.Duration
}

var presets = map[Intensity]Preset{
	IntensityLow: {
		JitterRatio:       0.2,
		InterTaskDelayMin: 100 * time.Millisecond,
		InterTaskDelayMax: 300 * time.Millisecond,
		RestIntervalMin:   30 * time.Minute,
		RestIntervalMax:   60 * time.Minute,
		RestDurationMin:   30 * time.Second,
		RestDurationMax:   60 * time.Second,
	},
	IntensityMedium: {
		JitterRatio:       0.35,
		InterTaskDelayMin: 200 * time.Millisecond,
		InterTaskDelayMax: 500 * time.Millisecond,
		RestIntervalMin:   15 * time.Minute,
		RestIntervalMax:   40 * time.Minute,
		RestDurationMin:   60 * time.Second,
		RestDurationMax:   180 * time.Second,
	},
	IntensityHigh: {
		JitterRatio:       0.5,
		InterTaskDelayMin: 300 * time.Millisecond,
		InterTaskDelayMax: 800 * time.Millisecond,
		RestIntervalMin:   8 * time.Minute,
		RestIntervalMax:   20 * time.Minute,
		RestDurationMin:   120 * time.Second,
		RestDurationMax:   300 * time.Second,
	},
}

// PresetFor resolves settings to pacing bounds. With human mode off every
// bound is zero and the scheduler degrades to a plain fixed-interval runner.
// Unknown intensities fall back to medium.
func PresetFor(s Settings) Preset {
	if !s.HumanMode {
		return Preset{}
	}
	if p, ok := presets[s.Intensity]; ok {
		return p
	}
	return presets[IntensityMedium]
}

// hasRest reports whether rest periods are enabled
func (p Preset) hasRest() bool {
	return p.RestIntervalMax > 0
}
