package config

import (
	"fmt"
	"slices"
)

var intensities = []string{"low", "medium", "high"}

// AccountConfig is the account-scoped, runtime-mutable part of the config
type AccountConfig struct {
	EnableHumanMode    *bool  `yaml:"enable_human_mode"`
	HumanModeIntensity string `yaml:"human_mode_intensity"`
}

// HumanMode reports whether human-like pacing is on. It defaults to true.
func (c AccountConfig) HumanMode() bool {
	return c.EnableHumanMode == nil || *c.EnableHumanMode
}

// Intensity returns the configured intensity or the default
func (c AccountConfig) Intensity() string {
	if c.HumanModeIntensity == "" {
		return DefaultIntensity
	}
	return c.HumanModeIntensity
}

func (c *AccountConfig) ApplyDefaults() {
	if c.EnableHumanMode == nil {
		on := true
		c.EnableHumanMode = &on
	}
	if c.HumanModeIntensity == "" {
		c.HumanModeIntensity = DefaultIntensity
	}
}

func (c AccountConfig) Validate() error {
	if c.HumanModeIntensity != "" && !slices.Contains(intensities, c.HumanModeIntensity) {
		return fmt.Errorf("human_mode_intensity must be one of %v, got %q", intensities, c.HumanModeIntensity)
	}
	return nil
}

// AccountPatch is a partial update; nil fields are left unchanged
type AccountPatch struct {
	EnableHumanMode    *bool   `yaml:"enable_human_mode"`
	HumanModeIntensity *string `yaml:"human_mode_intensity"`
}

// Empty reports whether the patch changes nothing
func (p AccountPatch) Empty() bool {
	return p.EnableHumanMode == nil && p.HumanModeIntensity == nil
}

// Apply returns c with p merged in. The receiver is not modified; an
// invalid result is rejected as a whole.
func (c AccountConfig) Apply(p AccountPatch) (AccountConfig, error) {
	out := c
	if p.EnableHumanMode != nil {
		v := *p.EnableHumanMode
		out.EnableHumanMode = &v
	}
	if p.HumanModeIntensity != nil {
		out.HumanModeIntensity = *p.HumanModeIntensity
	}
	if err := out.Validate(); err != nil {
		return c, err
	}
	return out, nil
}

// Diff returns the patch that turns c into next
func (c AccountConfig) Diff(next AccountConfig) AccountPatch {
	var p AccountPatch
	if c.HumanMode() != next.HumanMode() {
		v := next.HumanMode()
		p.EnableHumanMode = &v
	}
	if c.Intensity() != next.Intensity() {
		v := next.Intensity()
		p.HumanModeIntensity = &v
	}
	return p
}
