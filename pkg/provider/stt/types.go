package stt

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownTier is returned by [ParseTier] for names outside the tier table.
var ErrUnknownTier = errors.New("stt: unknown model tier")

// ErrUnknownCompute is returned by [ParseCompute] for unsupported precisions.
var ErrUnknownCompute = errors.New("stt: unknown compute type")

// Tier is a size/accuracy class of the transcription model. Tiers are
// totally ordered: a larger Tier always needs more disk and more RAM.
type Tier int

const (
	TierTiny Tier = iota
	TierBase
	TierSmall
	TierMedium
	TierLarge
)

// TierProfile is the fixed resource profile of a [Tier].
type TierProfile struct {
	// DiskMB is the approximate size of the model file.
	DiskMB int

	// MinRAMMB is the available memory required to load and run the model.
	MinRAMMB int

	// Accuracy is a relative rank; higher is better.
	Accuracy int
}

var tierNames = [...]string{"tiny", "base", "small", "medium", "large"}

var tierProfiles = [...]TierProfile{
	{DiskMB: 39, MinRAMMB: 500, Accuracy: 1},
	{DiskMB: 74, MinRAMMB: 1000, Accuracy: 2},
	{DiskMB: 244, MinRAMMB: 2000, Accuracy: 3},
	{DiskMB: 769, MinRAMMB: 4000, Accuracy: 4},
	{DiskMB: 1550, MinRAMMB: 8000, Accuracy: 5},
}

// Tiers returns every tier in ascending order.
func Tiers() []Tier {
	return []Tier{TierTiny, TierBase, TierSmall, TierMedium, TierLarge}
}

// ParseTier maps a tier name ("tiny" … "large") to its [Tier].
func ParseTier(name string) (Tier, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, s := range tierNames {
		if s == n {
			return Tier(i), nil
		}
	}
	return 0, fmt.Errorf("%w %q; valid values: %s", ErrUnknownTier, name, strings.Join(tierNames[:], ", "))
}

// IsValid reports whether t is inside the tier table.
func (t Tier) IsValid() bool { return t >= TierTiny && t <= TierLarge }

// String returns the tier name.
func (t Tier) String() string {
	if !t.IsValid() {
		return fmt.Sprintf("Tier(%d)", int(t))
	}
	return tierNames[t]
}

// Profile returns the tier's resource profile. Invalid tiers yield the zero value.
func (t Tier) Profile() TierProfile {
	if !t.IsValid() {
		return TierProfile{}
	}
	return tierProfiles[t]
}

// Smaller returns the next tier down. It reports false for [TierTiny].
func (t Tier) Smaller() (Tier, bool) {
	if t <= TierTiny || !t.IsValid() {
		return TierTiny, false
	}
	return t - 1, true
}

// Compute selects the numeric precision a transcriber runs at.
type Compute string

const (
	ComputeInt8        Compute = "int8"
	ComputeInt8Float32 Compute = "int8_float32"
	ComputeInt16       Compute = "int16"
	ComputeFloat32     Compute = "float32"
)

// ParseCompute validates a compute precision name.
func ParseCompute(name string) (Compute, error) {
	c := Compute(strings.ToLower(strings.TrimSpace(name)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w %q; valid values: int8, int8_float32, int16, float32", ErrUnknownCompute, name)
	}
	return c, nil
}

// IsValid reports whether c is a recognised precision.
func (c Compute) IsValid() bool {
	switch c {
	case ComputeInt8, ComputeInt8Float32, ComputeInt16, ComputeFloat32:
		return true
	}
	return false
}

// Quantized reports whether c selects an 8-bit quantised model file.
func (c Compute) Quantized() bool {
	return c == ComputeInt8 || c == ComputeInt8Float32
}
