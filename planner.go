package skywatcher

import "math"

// Kinematic constants from spec.md §4.7 / §GLOSSARY.
const (
	// StellarDaySeconds is one sidereal day.
	StellarDaySeconds = 86164.0905

	// StellarArcsecPerSec is the sidereal angular rate in arcsec/sec,
	// used to convert a guide/tracking rate given in arcsec/sec into
	// multiples of sidereal.
	StellarArcsecPerSec = 360.0 * 3600.0 / StellarDaySeconds

	// LowspeedThreshold is the rate (multiples of sidereal) above which
	// a slew switches to high-speed mode.
	LowspeedThreshold = 128.0

	// MinRate and MaxRate bound the admissible |rate| for SlewAxis/SetRate.
	// original_source/skywatcher.cpp checks absrate against get_min_rate()/
	// MIN_RATE before the same period = ... / absrate division planRate
	// performs below; MIN_RATE's numeric value is a macro not present in
	// the filtered source (same situation as backlashRate in discovery.go).
	// 0.0 would be the one value guaranteed to turn that division into
	// +Inf, so a small positive placeholder is used here instead and
	// flagged as exactly that -- a placeholder, not a recovered constant.
	MinRate = 0.001
	MaxRate = 800.0

	// lowspeedMargin is the encoder-delta threshold (in steps) above
	// which a relative/absolute goto uses high-speed mode.
	lowspeedMargin = 20000

	// lowspeedGotoPeriod is the fixed period used for low-speed gotos.
	lowspeedGotoPeriod = 18

	// highspeedBreaksCap / lowspeedBreaksCap bound the computed
	// break-point countdown.
	highspeedBreaksCap = 3200
	lowspeedBreaksCap  = 200
)

// RatePlan is the result of translating a signed rate (multiples of
// sidereal) into wire parameters for one axis, per spec.md §4.7.
type RatePlan struct {
	Period    uint32
	Direction Direction
	SpeedMode SpeedMode
}

// planRate computes a RatePlan for axis a given signed rate r (multiples
// of sidereal). It enforces MinRate <= |r| <= MaxRate and clamps the
// resulting period to MinPeriod when the plan selects high-speed.
func (m *Model) planRate(axis Axis, r float64) (RatePlan, error) {
	absRate := math.Abs(r)
	if absRate < MinRate || absRate > MaxRate {
		return RatePlan{}, invalidParameterf(
			"speed rate out of limits: %.4gx sidereal (min=%.4g, max=%.4g)", absRate, MinRate, MaxRate)
	}

	c := &m.Constants[axis]
	speedMode := LOWSPEED
	adjRate := absRate
	if absRate > LowspeedThreshold {
		speedMode = HIGHSPEED
		adjRate = absRate / float64(c.HighspeedRatio)
	}

	period := uint32(math.Round(StellarDaySeconds * float64(c.StepsWorm) / float64(c.Steps360) / adjRate))
	if speedMode == HIGHSPEED && period < c.MinPeriod {
		period = c.MinPeriod
	}

	dir := FORWARD
	if r < 0 {
		dir = BACKWARD
	}
	return RatePlan{Period: period, Direction: dir, SpeedMode: speedMode}, nil
}

// GotoPlan is the result of translating an encoder delta into wire
// parameters for a relative or absolute goto, per spec.md §4.7.
type GotoPlan struct {
	Period    uint32
	SpeedMode SpeedMode
	Target    uint32
	Breaks    uint32
}

// planGoto computes a GotoPlan for an absolute encoder delta of
// magnitude absDelta, selecting high-speed when it exceeds lowspeedMargin.
func (m *Model) planGoto(axis Axis, absDelta uint32) GotoPlan {
	c := &m.Constants[axis]
	var plan GotoPlan
	plan.Target = absDelta
	if absDelta > lowspeedMargin {
		plan.SpeedMode = HIGHSPEED
		plan.Period = c.MinPeriod
		plan.Breaks = absDelta / 10
		if plan.Breaks > highspeedBreaksCap {
			plan.Breaks = highspeedBreaksCap
		}
	} else {
		plan.SpeedMode = LOWSPEED
		plan.Period = lowspeedGotoPeriod
		plan.Breaks = absDelta / 10
		if plan.Breaks > lowspeedBreaksCap {
			plan.Breaks = lowspeedBreaksCap
		}
	}
	return plan
}

// absDelta32 returns |delta| as a uint32 magnitude (the caller passes an
// already-signed encoder delta).
func absDelta32(delta int64) uint32 {
	if delta < 0 {
		delta = -delta
	}
	return uint32(delta)
}
