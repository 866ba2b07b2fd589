package skywatcher

import (
	"fmt"
	"time"
)

// Opcodes from SPEC_FULL.md / spec.md §6.
const (
	opInquireMotorBoardVersion  = 'e'
	opInquireGridPerRevolution  = 'a'
	opInquireTimerInterruptFreq = 'b'
	opInquireHighSpeedRatio     = 'g'
	opGetAxisPosition           = 'j'
	opGetAxisStatus             = 'f'
	opInitialize                = 'F'
	opSetMotionMode             = 'G'
	opSetStepPeriod             = 'I'
	opSetGotoTargetIncrement    = 'H'
	opSetBreakPointIncrement    = 'M'
	opSetGotoTarget             = 'S'
	opSetBreakStep              = 'U'
	opSetAxisPosition           = 'E'
	opStartMotion               = 'J'
	opNotInstantAxisStop        = 'K'
	opInstantAxisStop           = 'L'
	opSetST4GuideRate           = 'P'
	opGetFeatures               = 'q'
	opSetFeature                = 'W'
	opSetSnapPort               = 'O'
	opSetPolarScopeLED          = 'V'
)

// Subcommand codes for the 'W' (SetFeature) / 'q' (GetFeatures, GetIndexer,
// GetAuxEncoder) opcodes. subGetFeatures is fixed by spec.md §6; the rest
// are placeholders pending the vendor documentation or traffic capture
// spec.md §6 says they must ultimately be sourced from -- a real mount
// integration must confirm these against its own firmware before relying
// on anything but subGetFeatures.
const (
	subGetFeatures        = 0x00
	subEncoderOn          = 0x01
	subEncoderOff         = 0x02
	subStartPPECTraining  = 0x03
	subStopPPECTraining   = 0x04
	subTurnPPECOn         = 0x05
	subTurnPPECOff        = 0x06
	subGetIndexer         = 0x10
	subResetHomeIndexer   = 0x11
)

// bounded wait for StopWaitMotor / backlash preamble polling; exceeding
// it raises a DisconnectError (see pollUntilStopped).
const maxPollWait = 10 * time.Second

// getAxisPosition issues GetAxisPosition and updates the cached encoder
// value if the reply's MSB indicates validity (MSB=0 means valid, per §6).
func (d *Driver) getAxisPosition(axis Axis) (uint32, error) {
	payload, err := d.dispatch.exchange(opGetAxisPosition, axis, "")
	if err != nil {
		return 0, err
	}
	steps, err := DecodeRevU24(payload)
	if err != nil {
		return 0, &InvalidCmdError{Cmd: opGetAxisPosition, Axis: axis, Reply: payload}
	}
	st := &d.Model.State[axis]
	if steps&0x800000 != 0 {
		// invalid reading, ignore and keep the last known good value
		return st.EncoderStep, nil
	}
	st.EncoderStep = steps
	st.LastReadPositionTime = time.Now()
	return steps, nil
}

// readMotorStatus issues GetAxisStatus and decodes the three status
// nibbles into Model.State[axis], per spec.md §4.6.
func (d *Driver) readMotorStatus(axis Axis) error {
	payload, err := d.dispatch.exchange(opGetAxisStatus, axis, "")
	if err != nil {
		return err
	}
	if len(payload) < 3 {
		return &InvalidCmdError{Cmd: opGetAxisStatus, Axis: axis, Reply: payload}
	}
	n1 := payload[0]
	n2 := payload[1]
	n3 := payload[2]

	var status MotorStatus
	if hasNibbleBit(n1, 0x1) {
		status.SlewMode = SLEW
	} else {
		status.SlewMode = GOTO
	}
	if hasNibbleBit(n1, 0x2) {
		status.Direction = BACKWARD
	} else {
		status.Direction = FORWARD
	}
	if hasNibbleBit(n1, 0x4) {
		status.SpeedMode = HIGHSPEED
	} else {
		status.SpeedMode = LOWSPEED
	}

	st := &d.Model.State[axis]
	wasRunning := st.Running
	runningStatus := st.Status
	st.Status = status
	st.Running = hasNibbleBit(n2, 0x1)
	st.Initialized = hasNibbleBit(n3, 0x1)
	st.LastReadStatusTime = time.Now()
	if wasRunning && !st.Running {
		st.LastRunningStatus = runningStatus
	}
	return nil
}

// hasNibbleBit reports whether the hex digit c, interpreted as its
// integer value, has the given bit set.
func hasNibbleBit(c byte, bit byte) bool {
	v, err := hexNibble(c)
	if err != nil {
		return false
	}
	return v&bit != 0
}

// checkMotorStatus refreshes Model.State[axis].Status/Running/Initialized
// from the wire if the cached values are older than StatusFreshnessWindow
// (invariant 4).
func (d *Driver) checkMotorStatus(axis Axis) error {
	st := &d.Model.State[axis]
	if time.Since(st.LastReadStatusTime) <= StatusFreshnessWindow {
		return nil
	}
	return d.readMotorStatus(axis)
}

// motionModeArg renders the two-character SetMotionMode argument for a
// requested status, per spec.md §4.6/§4.7.
func motionModeArg(s MotorStatus) string {
	var mode byte
	switch s.SlewMode {
	case SLEW:
		if s.SpeedMode == LOWSPEED {
			mode = '1'
		} else {
			mode = '3'
		}
	case GOTO:
		if s.SpeedMode == LOWSPEED {
			mode = '2'
		} else {
			mode = '0'
		}
	}
	dir := byte('0')
	if s.Direction == BACKWARD {
		dir = '1'
	}
	return string([]byte{mode, dir})
}

// setMotion applies spec.md §4.6: if any of direction, speed mode, or
// slew mode differs from the current (freshly-checked) status, the axis
// is stopped and waited-on, then the new mode is written. If nothing
// differs, SetMotionMode is not re-sent at all (matches
// original_source/skywatcher.cpp's active SetMotion path -- its
// unconditional variant is compiled out behind a disabled #ifdef).
func (d *Driver) setMotion(axis Axis, newStatus MotorStatus) error {
	if err := d.checkMotorStatus(axis); err != nil {
		return err
	}
	st := &d.Model.State[axis]
	current := st.Status
	if newStatus.Direction != current.Direction || newStatus.SpeedMode != current.SpeedMode || newStatus.SlewMode != current.SlewMode {
		if err := d.stopWaitMotor(axis); err != nil {
			return err
		}
		if _, err := d.dispatch.exchange(opSetMotionMode, axis, motionModeArg(newStatus)); err != nil {
			return err
		}
	}
	st.NewStatus = newStatus
	return nil
}

// startMotor performs the backlash compensation preamble (if needed)
// and then issues StartMotion, per spec.md §4.7.
func (d *Driver) startMotor(axis Axis) error {
	st := &d.Model.State[axis]
	if st.UseBacklash && st.NewStatus.Direction != st.LastRunningStatus.Direction {
		if err := d.backlashPreamble(axis); err != nil {
			return err
		}
	}
	if _, err := d.dispatch.exchange(opStartMotion, axis, ""); err != nil {
		return err
	}
	st.Running = true
	return nil
}

// backlashPreamble implements spec.md §4.7's six-step invisible pre-move.
func (d *Driver) backlashPreamble(axis Axis) error {
	st := &d.Model.State[axis]
	c := &d.Model.Constants[axis]

	currentSteps, err := d.getAxisPosition(axis)
	if err != nil {
		return err
	}

	backlashMode := MotorStatus{SlewMode: GOTO, SpeedMode: LOWSPEED, Direction: st.NewStatus.Direction}
	if _, err := d.dispatch.exchange(opSetStepPeriod, axis, EncodeRevU24(c.BacklashPeriod)); err != nil {
		return err
	}
	if _, err := d.dispatch.exchange(opSetMotionMode, axis, motionModeArg(backlashMode)); err != nil {
		return err
	}
	if _, err := d.dispatch.exchange(opSetGotoTargetIncrement, axis, EncodeRevU24(st.BacklashSteps)); err != nil {
		return err
	}
	if _, err := d.dispatch.exchange(opSetBreakPointIncrement, axis, EncodeRevU24(st.BacklashSteps/10)); err != nil {
		return err
	}
	if _, err := d.dispatch.exchange(opStartMotion, axis, ""); err != nil {
		return err
	}
	st.Running = true

	if err := d.pollUntilStopped(axis); err != nil {
		return err
	}

	if _, err := d.dispatch.exchange(opSetAxisPosition, axis, EncodeRevU24(currentSteps)); err != nil {
		return err
	}
	st.EncoderStep = currentSteps

	if _, err := d.dispatch.exchange(opSetStepPeriod, axis, EncodeRevU24(st.Period)); err != nil {
		return err
	}
	if _, err := d.dispatch.exchange(opSetMotionMode, axis, motionModeArg(st.NewStatus)); err != nil {
		return err
	}
	if _, err := d.dispatch.exchange(opSetGotoTargetIncrement, axis, EncodeRevU24(st.Target)); err != nil {
		return err
	}
	if _, err := d.dispatch.exchange(opSetBreakPointIncrement, axis, EncodeRevU24(st.TargetBreaks)); err != nil {
		return err
	}
	return nil
}

// pollUntilStopped polls ReadMotorStatus every 100ms until the axis is
// no longer running, bounded by maxPollWait.
func (d *Driver) pollUntilStopped(axis Axis) error {
	deadline := time.Now().Add(maxPollWait)
	for {
		if err := d.readMotorStatus(axis); err != nil {
			return err
		}
		if !d.Model.State[axis].Running {
			return nil
		}
		if time.Now().After(deadline) {
			return &DisconnectError{Op: fmt.Sprintf("poll axis %s for stop", axis), Err: fmt.Errorf("exceeded %s", maxPollWait)}
		}
		time.Sleep(retryDelay)
	}
}

// stopWaitMotor issues a non-instant stop then polls until the axis
// reports not-running, per spec.md §4.7.
func (d *Driver) stopWaitMotor(axis Axis) error {
	if _, err := d.dispatch.exchange(opNotInstantAxisStop, axis, ""); err != nil {
		return err
	}
	return d.pollUntilStopped(axis)
}

// instantStopMotor issues an emergency abort with no wait.
func (d *Driver) instantStopMotor(axis Axis) error {
	if _, err := d.dispatch.exchange(opInstantAxisStop, axis, ""); err != nil {
		return err
	}
	return d.readMotorStatus(axis)
}

// StopAxis issues a non-instant stop and waits for the axis to settle.
func (d *Driver) StopAxis(axis Axis) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopWaitMotor(axis)
}

// InstantStopAxis issues an emergency abort with no wait for settling.
func (d *Driver) InstantStopAxis(axis Axis) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.instantStopMotor(axis)
}
