package skywatcher

// SlewAxis starts (or re-programs) a continuous slew at a signed rate
// (multiples of sidereal), per spec.md §4.7. It refuses if a goto is in
// progress on the axis.
func (d *Driver) SlewAxis(axis Axis, rate float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.slewAxis(axis, rate)
}

func (d *Driver) slewAxis(axis Axis, rate float64) error {
	if err := d.checkMotorStatus(axis); err != nil {
		return err
	}
	st := &d.Model.State[axis]
	if st.Running && st.Status.SlewMode == GOTO {
		return invalidParameterf("cannot slew axis %s: a goto is in progress", axis)
	}

	plan, err := d.Model.planRate(axis, rate)
	if err != nil {
		return err
	}
	newStatus := MotorStatus{SlewMode: SLEW, Direction: plan.Direction, SpeedMode: plan.SpeedMode}
	if err := d.setMotion(axis, newStatus); err != nil {
		return err
	}
	if _, err := d.dispatch.exchange(opSetStepPeriod, axis, EncodeRevU24(plan.Period)); err != nil {
		return err
	}
	st.Period = plan.Period
	if !st.Running {
		return d.startMotor(axis)
	}
	return nil
}

// SetRate reprograms the period of an already-running slew, or starts one
// if the axis is idle. If the axis is running and the computed speed mode
// or direction differs from the current one, it raises InvalidParameter
// instead of restarting, per spec.md §4.7.
func (d *Driver) SetRate(axis Axis, rate float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setRate(axis, rate)
}

func (d *Driver) setRate(axis Axis, rate float64) error {
	if err := d.checkMotorStatus(axis); err != nil {
		return err
	}
	st := &d.Model.State[axis]
	if st.Running && st.Status.SlewMode == GOTO {
		return invalidParameterf("cannot set rate on axis %s: a goto is in progress", axis)
	}

	plan, err := d.Model.planRate(axis, rate)
	if err != nil {
		return err
	}

	if st.Running {
		if plan.SpeedMode != st.Status.SpeedMode || plan.Direction != st.Status.Direction {
			return invalidParameterf(
				"cannot change speed mode or direction on axis %s while running; stop the axis first", axis)
		}
		if _, err := d.dispatch.exchange(opSetStepPeriod, axis, EncodeRevU24(plan.Period)); err != nil {
			return err
		}
		st.Period = plan.Period
		return nil
	}

	newStatus := MotorStatus{SlewMode: SLEW, Direction: plan.Direction, SpeedMode: plan.SpeedMode}
	if err := d.setMotion(axis, newStatus); err != nil {
		return err
	}
	if _, err := d.dispatch.exchange(opSetStepPeriod, axis, EncodeRevU24(plan.Period)); err != nil {
		return err
	}
	st.Period = plan.Period
	return d.startMotor(axis)
}

// SlewTo issues a relative goto: dRA and dDE are signed encoder-step
// deltas. An axis with a zero delta is left untouched entirely (no wire
// traffic), per spec.md §4.7/§8 scenario 3.
func (d *Driver) SlewTo(dRA, dDE int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dRA != 0 {
		if err := d.relativeGoto(RA, dRA); err != nil {
			return err
		}
	}
	if dDE != 0 {
		if err := d.relativeGoto(DE, dDE); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) relativeGoto(axis Axis, delta int64) error {
	if err := d.checkMotorStatus(axis); err != nil {
		return err
	}
	absDelta := absDelta32(delta)
	plan := d.Model.planGoto(axis, absDelta)
	direction := FORWARD
	if delta < 0 {
		direction = BACKWARD
	}

	newStatus := MotorStatus{SlewMode: GOTO, Direction: direction, SpeedMode: plan.SpeedMode}
	if err := d.setMotion(axis, newStatus); err != nil {
		return err
	}
	if _, err := d.dispatch.exchange(opSetStepPeriod, axis, EncodeRevU24(plan.Period)); err != nil {
		return err
	}
	if _, err := d.dispatch.exchange(opSetGotoTargetIncrement, axis, EncodeRevU24(plan.Target)); err != nil {
		return err
	}
	if _, err := d.dispatch.exchange(opSetBreakPointIncrement, axis, EncodeRevU24(plan.Breaks)); err != nil {
		return err
	}

	st := &d.Model.State[axis]
	st.Period = plan.Period
	st.Target = plan.Target
	st.TargetBreaks = plan.Breaks
	return d.startMotor(axis)
}

// AbsSlewTo issues an absolute goto to raTarget/deTarget encoder values.
// raForward/deForward name the approach direction the caller wants
// programmed (the mount accepts either approach to a given target; the
// caller picks based on backlash/wrap considerations external to this
// engine). An axis whose target equals its current encoder position is
// left untouched.
func (d *Driver) AbsSlewTo(raTarget, deTarget uint32, raForward, deForward bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.absoluteGoto(RA, raTarget, raForward); err != nil {
		return err
	}
	return d.absoluteGoto(DE, deTarget, deForward)
}

func (d *Driver) absoluteGoto(axis Axis, target uint32, forward bool) error {
	current, err := d.getAxisPosition(axis)
	if err != nil {
		return err
	}
	if current == target {
		return nil
	}
	absDelta := absDelta32(int64(target) - int64(current))
	plan := d.Model.planGoto(axis, absDelta)

	direction := BACKWARD
	if forward {
		direction = FORWARD
	}
	var breakStep uint32
	if forward {
		breakStep = target - plan.Breaks
	} else {
		breakStep = target + plan.Breaks
	}

	newStatus := MotorStatus{SlewMode: GOTO, Direction: direction, SpeedMode: plan.SpeedMode}
	if err := d.setMotion(axis, newStatus); err != nil {
		return err
	}
	if _, err := d.dispatch.exchange(opSetStepPeriod, axis, EncodeRevU24(plan.Period)); err != nil {
		return err
	}
	if _, err := d.dispatch.exchange(opSetGotoTarget, axis, EncodeRevU24(target)); err != nil {
		return err
	}
	if _, err := d.dispatch.exchange(opSetBreakStep, axis, EncodeRevU24(breakStep)); err != nil {
		return err
	}

	st := &d.Model.State[axis]
	st.Period = plan.Period
	st.Target = target
	st.TargetBreaks = plan.Breaks
	return d.startMotor(axis)
}

// StartTracking drives axis at a sidereal-relative rate derived from a
// guide/tracking speed given in arcsec/sec. A zero resulting rate stops
// the axis instead of programming a zero-period slew.
func (d *Driver) StartTracking(axis Axis, trackspeedArcsecPerSec float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rate := trackspeedArcsecPerSec / StellarArcsecPerSec
	if rate == 0 {
		return d.stopWaitMotor(axis)
	}
	return d.setRate(axis, rate)
}

// StartRATracking is a convenience wrapper for the common case of driving
// the RA axis at a fraction or multiple of the sidereal rate.
func (d *Driver) StartRATracking(trackspeedArcsecPerSec float64) error {
	return d.StartTracking(RA, trackspeedArcsecPerSec)
}

// SetBacklash configures whether axis uses the invisible backlash
// preamble on direction reversal, and how many steps it moves.
func (d *Driver) SetBacklash(axis Axis, enabled bool, steps uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := &d.Model.State[axis]
	st.UseBacklash = enabled
	st.BacklashSteps = steps
}

// ParkMount reads both axes' current encoder positions and persists them
// as the park position via the ParkStore collaborator.
func (d *Driver) ParkMount() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Park == nil {
		return invalidParameterf("no ParkStore configured")
	}
	ra, err := d.getAxisPosition(RA)
	if err != nil {
		return err
	}
	de, err := d.getAxisPosition(DE)
	if err != nil {
		return err
	}
	return d.Park.Save(ra, de, true)
}

// UnparkMount clears the persisted parked flag, keeping the last known
// encoder values.
func (d *Driver) UnparkMount() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Park == nil {
		return invalidParameterf("no ParkStore configured")
	}
	ra, de, _, err := d.Park.Load()
	if err != nil {
		return err
	}
	return d.Park.Save(ra, de, false)
}

// setSnapPort writes the snap-port output state and caches it (the
// hardware does not report it back on query). RA addresses physical
// snap port 1, DE addresses snap port 2; a mount that lacks the port for
// this axis (per Identity.HasSnapPort1/2, mount-code gated) silently
// no-ops with a warning, matching original_source/skywatcher.cpp's
// `if (HasSnapPort1()) ...` guards.
func (d *Driver) setSnapPort(axis Axis, on bool) error {
	has := d.Model.Identity.HasSnapPort1
	port := 1
	if axis == DE {
		has = d.Model.Identity.HasSnapPort2
		port = 2
	}
	if !has {
		d.Log.Printf("skywatcher: mount %s has no snap port %d, ignoring SetSnapPort(%v)", d.Model.Identity.Name, port, on)
		return nil
	}
	arg := "0"
	if on {
		arg = "1"
	}
	if _, err := d.dispatch.exchange(opSetSnapPort, axis, arg); err != nil {
		return err
	}
	d.Model.State[axis].SnapPortOn = on
	return nil
}

// SetSnapPort is the exported, locked form of setSnapPort.
func (d *Driver) SetSnapPort(axis Axis, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setSnapPort(axis, on)
}

// SetPEC enables or disables the mount's built-in periodic-error
// correction. It silently no-ops with a logged warning if the axis
// reports no PPEC support.
func (d *Driver) SetPEC(axis Axis, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.Model.Features[axis].HasPPEC {
		d.Log.Printf("skywatcher: axis %s has no PPEC support, ignoring SetPEC(%v)", axis, on)
		return nil
	}
	sub := subTurnPPECOff
	if on {
		sub = subTurnPPECOn
	}
	_, err := d.dispatch.exchange(opSetFeature, axis, EncodeHiU8(uint8(sub)))
	if err == nil {
		d.Model.Features[axis].InPPEC = on
	}
	return err
}

// SetPECTraining starts or stops PPEC training. A CmdFailedError with
// code '8' (insufficient data) is returned to the caller, not swallowed,
// since the caller needs to know training has not yet accumulated enough
// data.
func (d *Driver) SetPECTraining(axis Axis, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.Model.Features[axis].HasPPEC {
		d.Log.Printf("skywatcher: axis %s has no PPEC support, ignoring SetPECTraining(%v)", axis, on)
		return nil
	}
	sub := subStopPPECTraining
	if on {
		sub = subStartPPECTraining
	}
	_, err := d.dispatch.exchange(opSetFeature, axis, EncodeHiU8(uint8(sub)))
	if err == nil {
		d.Model.Features[axis].InPPECTraining = on
	}
	return err
}

// SetLEDBrightness always attempts to program the polar-scope LED and
// swallows any failure (the feature bit is informational only here,
// per spec.md §4.7).
func (d *Driver) SetLEDBrightness(axis Axis, brightness uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.dispatch.exchange(opSetPolarScopeLED, axis, EncodeHiU8(brightness)); err != nil {
		d.Log.Printf("skywatcher: SetLEDBrightness(%s, %d) failed, ignoring: %v", axis, brightness, err)
	}
}

// SetST4GuideRate programs the autoguider port's rate multiplier
// ('0'..'4').
func (d *Driver) SetST4GuideRate(axis Axis, rate byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rate < '0' || rate > '4' {
		return invalidParameterf("ST4 guide rate %q out of range '0'..'4'", rate)
	}
	_, err := d.dispatch.exchange(opSetST4GuideRate, axis, string([]byte{rate}))
	return err
}

// ResetHomeIndexer resets the home-position indexer on axis. It no-ops
// with a warning if the axis reports no home indexer.
func (d *Driver) ResetHomeIndexer(axis Axis) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.Model.Features[axis].HasHomeIndexer {
		d.Log.Printf("skywatcher: axis %s has no home indexer, ignoring ResetHomeIndexer", axis)
		return nil
	}
	_, err := d.dispatch.exchange(opSetFeature, axis, EncodeHiU8(subResetHomeIndexer))
	return err
}

// GetIndexer reads the home-position indexer on axis. It returns
// (0, false, nil) without wire traffic if unsupported.
func (d *Driver) GetIndexer(axis Axis) (uint32, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.Model.Features[axis].HasHomeIndexer {
		d.Log.Printf("skywatcher: axis %s has no home indexer, ignoring GetIndexer", axis)
		return 0, false, nil
	}
	payload, err := d.dispatch.exchange(opGetFeatures, axis, EncodeHiU8(subGetIndexer))
	if err != nil {
		return 0, false, err
	}
	v, err := DecodeRevU24(payload)
	if err != nil {
		return 0, false, &InvalidCmdError{Cmd: opGetFeatures, Axis: axis, Reply: payload}
	}
	d.Model.State[axis].LastIndexer = v
	return v, true, nil
}

// SetAuxEncoder turns the auxiliary (high-resolution) encoder on axis on
// or off. It no-ops with a warning if unsupported.
func (d *Driver) SetAuxEncoder(axis Axis, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.Model.Features[axis].HasEncoder {
		d.Log.Printf("skywatcher: axis %s has no auxiliary encoder, ignoring SetAuxEncoder(%v)", axis, on)
		return nil
	}
	sub := subEncoderOff
	if on {
		sub = subEncoderOn
	}
	_, err := d.dispatch.exchange(opSetFeature, axis, EncodeHiU8(uint8(sub)))
	return err
}
