package skywatcher

import "fmt"

// blockedMountCodes is the active reject set. spec.md §9 notes the
// original source lists 0x82 in the mount table but comments out its
// rejection; 0x82 is accepted here, matching that.
var blockedMountCodes = map[uint8]bool{
	0x80: true, // GT
	0x81: true, // MF
	0x90: true, // DOB
}

// mountNames maps mount_code to a human-readable name. Codes not present
// here resolve to "CUSTOM".
var mountNames = map[uint8]string{
	0x00: "EQ6",
	0x01: "HEQ5",
	0x02: "EQ5",
	0x03: "EQ3",
	0x04: "EQ8",
	0x05: "AZEQ6",
	0x06: "AZEQ5",
	0x0A: "Star Adventurer",
	0x0C: "Star Adventurer GTi",
	0x20: "EQ8-R Pro",
	0x22: "AZEQ6 Pro",
	0x23: "EQ6-R Pro",
	0x25: "CQ350 Pro",
	0x31: "EQ5 Pro",
	0x45: "Wave 150i",
	0x80: "GT",
	0x81: "MF",
	0x82: "114GT",
	0x90: "DOB",
	0xA5: "AZ-GTi",
	0xF0: "GEEHALEL",
}

// snapPort1MountCodes / snapPort2MountCodes gate HasSnapPort1/HasSnapPort2
// by mount code, per original_source/skywatcher.cpp's HasSnapPort1/
// HasSnapPort2 (a plain mount-code comparison, not a feature-register bit).
var snapPort1MountCodes = map[uint8]bool{
	0x04: true, // EQ8
	0x05: true, // AZEQ6
	0x06: true, // AZEQ5
	0x0A: true, // Star Adventurer
	0x0C: true, // Star Adventurer GTi
	0x23: true, // EQ6-R Pro
	0xA5: true, // AZ-GTi
}

var snapPort2MountCodes = map[uint8]bool{
	0x06: true, // AZEQ5
}

// backlashRate is the axis-local divisor used to compute BacklashPeriod
// (spec.md §4.5 step 4: "backlash_rate ≈ 64 x sidereal, axis-specific").
// The original firmware build used two distinct constants here; their
// exact values were not recoverable from the filtered original source
// (see DESIGN.md), so both axes use the documented approximation.
var backlashRate = [numAxes]float64{
	RA: 64.0,
	DE: 64.0,
}

// Handshake performs step 1-2 of Capability Discovery: it reads the
// motor board version from the RA axis, derives mount identity, and
// rejects mounts in the blocked set. It must be called before Init.
func (d *Driver) Handshake() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	payload, err := d.dispatch.exchange(opInquireMotorBoardVersion, RA, "")
	if err != nil {
		return err
	}
	raw, err := DecodeRevU24(payload)
	if err != nil {
		return &InvalidCmdError{Cmd: opInquireMotorBoardVersion, Axis: RA, Reply: payload}
	}

	// byte-swap the outer two bytes relative to the wire encoding, per
	// spec.md §3/§4.5.
	mcVersion := ((raw & 0xFF) << 16) | (raw & 0xFF00) | ((raw & 0xFF0000) >> 16)
	mountCode := uint8(mcVersion & 0xFF)

	if blockedMountCodes[mountCode] {
		return &DisconnectError{
			Op:  "Handshake",
			Err: fmt.Errorf("mount not supported: mount code 0x%02X (0x80=GT, 0x81=MF, 0x90=DOB)", mountCode),
		}
	}

	name, ok := mountNames[mountCode]
	if !ok {
		name = "CUSTOM"
	}

	d.Model.Identity = Identity{
		MCVersion:    mcVersion,
		MountCode:    mountCode,
		Name:         name,
		HasSnapPort1: snapPort1MountCodes[mountCode],
		HasSnapPort2: snapPort2MountCodes[mountCode],
	}

	for axis := Axis(0); axis < numAxes; axis++ {
		d.Model.Constants[axis].MinPeriod = 6
	}
	if mountCode == 0xF0 {
		d.Model.Constants[RA].MinPeriod = 13
		d.Model.Constants[DE].MinPeriod = 16
	}
	return nil
}

// Init performs the remainder of Capability Discovery (gear constants,
// features) plus the motion-engine initialization of spec.md §4.7: first
// encoder read, motor energizing, home position computation, ST4 guide
// rate reset, snap port reset, and park restore via the ParkStore
// collaborator. Handshake must have already run.
func (d *Driver) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for axis := Axis(0); axis < numAxes; axis++ {
		if err := d.inquireGearConstants(axis); err != nil {
			return err
		}
	}
	d.inquireFeatures()

	bothUninitialized := true
	for axis := Axis(0); axis < numAxes; axis++ {
		if err := d.readMotorStatus(axis); err != nil {
			return err
		}
		if d.Model.State[axis].Initialized {
			bothUninitialized = false
		}
	}

	if bothUninitialized {
		for axis := Axis(0); axis < numAxes; axis++ {
			steps, err := d.getAxisPosition(axis)
			if err != nil {
				return err
			}
			d.Model.Constants[axis].StepInit = steps
		}
		for axis := Axis(0); axis < numAxes; axis++ {
			if _, err := d.dispatch.exchange(opInitialize, axis, ""); err != nil {
				return err
			}
		}
		d.Model.Constants[RA].StepHome = d.Model.Constants[RA].StepInit
		d.Model.Constants[DE].StepHome = d.Model.Constants[DE].StepInit + d.Model.Constants[DE].Steps360/4
	} else {
		// already initialized by another host: use the protocol's nominal
		// default and leave the encoders untouched.
		d.Model.Constants[RA].StepInit = 0x800000
		d.Model.Constants[DE].StepInit = 0x800000
		d.Model.Constants[RA].StepHome = 0x800000
		d.Model.Constants[DE].StepHome = 0x800000
	}

	for axis := Axis(0); axis < numAxes; axis++ {
		if _, err := d.dispatch.exchange(opSetST4GuideRate, axis, "2"); err != nil {
			// ST4 rate is a convenience reset, not essential to safe operation
			d.Log.Printf("skywatcher: could not reset ST4 guide rate on axis %s: %v", axis, err)
		}
		if err := d.setSnapPort(axis, false); err != nil {
			d.Log.Printf("skywatcher: could not reset snap port on axis %s: %v", axis, err)
		}
	}

	if d.Park != nil {
		raEnc, deEnc, parked, err := d.Park.Load()
		if err != nil {
			return fmt.Errorf("skywatcher: loading park state: %w", err)
		}
		if parked {
			if _, err := d.dispatch.exchange(opSetAxisPosition, RA, EncodeRevU24(raEnc)); err != nil {
				return err
			}
			if _, err := d.dispatch.exchange(opSetAxisPosition, DE, EncodeRevU24(deEnc)); err != nil {
				return err
			}
			d.Model.State[RA].EncoderStep = raEnc
			d.Model.State[DE].EncoderStep = deEnc
		}
	}

	return nil
}

// inquireGearConstants issues the Grid-Per-Revolution, Timer-Interrupt-Freq,
// and High-Speed-Ratio queries for axis a, applies firmware-specific
// overrides, and computes BacklashPeriod, per spec.md §4.5 steps 3-4.
func (d *Driver) inquireGearConstants(axis Axis) error {
	c := &d.Model.Constants[axis]

	payload, err := d.dispatch.exchange(opInquireGridPerRevolution, axis, "")
	if err != nil {
		return err
	}
	steps360, err := DecodeRevU24(payload)
	if err != nil {
		return &InvalidCmdError{Cmd: opInquireGridPerRevolution, Axis: axis, Reply: payload}
	}
	c.Steps360 = steps360

	payload, err = d.dispatch.exchange(opInquireTimerInterruptFreq, axis, "")
	if err != nil {
		return err
	}
	stepsWorm, err := DecodeRevU24(payload)
	if err != nil {
		return &InvalidCmdError{Cmd: opInquireTimerInterruptFreq, Axis: axis, Reply: payload}
	}

	mcv := d.Model.Identity.MCVersion
	switch {
	case mcv&0xFF == 0x80:
		d.Log.Printf("skywatcher: forcing %s StepsWorm for 80GT mount (0x162B97 in place of 0x%X)", axis, stepsWorm)
		stepsWorm = 0x162B97
	case mcv&0xFF == 0x82:
		d.Log.Printf("skywatcher: forcing %s StepsWorm for 114GT mount (0x205318 in place of 0x%X)", axis, stepsWorm)
		stepsWorm = 0x205318
	case mcv == 0x10601:
		d.Log.Printf("skywatcher: forcing %s StepsWorm for HEQ5 firmware 106 (0xFC80 in place of 0x%X)", axis, stepsWorm)
		stepsWorm = 0xFC80
	}
	c.StepsWorm = stepsWorm

	payload, err = d.dispatch.exchange(opInquireHighSpeedRatio, axis, "")
	if err != nil {
		return err
	}
	ratio, err := DecodeHiU8(payload)
	if err != nil {
		return &InvalidCmdError{Cmd: opInquireHighSpeedRatio, Axis: axis, Reply: payload}
	}
	c.HighspeedRatio = ratio

	c.BacklashPeriod = uint32(StellarDaySeconds * float64(c.StepsWorm) / float64(c.Steps360) / backlashRate[axis])
	return nil
}

// inquireFeatures decodes the Get-Features reply for both axes. If the
// command fails, all feature bits default to false (the mount legitimately
// may not support it). A warning is logged if the encoder/PPEC nibble
// differs between axes.
func (d *Driver) inquireFeatures() {
	var raw [numAxes]uint32
	ok := true
	for axis := Axis(0); axis < numAxes; axis++ {
		payload, err := d.dispatch.exchange(opGetFeatures, axis, EncodeHiU8(subGetFeatures))
		if err != nil {
			ok = false
			break
		}
		v, err := DecodeRevU24(payload)
		if err != nil {
			ok = false
			break
		}
		raw[axis] = v
	}
	if !ok {
		d.Log.Printf("skywatcher: mount does not support feature query")
		d.Model.Features[RA] = Features{}
		d.Model.Features[DE] = Features{}
		return
	}

	if raw[RA]&0x000000F0 != raw[DE]&0x000000F0 {
		d.Log.Printf("skywatcher: found different features for RA (%d) and DE (%d)", raw[RA], raw[DE])
	}
	for axis := Axis(0); axis < numAxes; axis++ {
		f := raw[axis]
		if f&0x10 != 0 {
			d.Log.Printf("skywatcher: found %s PPEC training on", axis)
		}
		d.Model.Features[axis] = Features{
			HasEncoder:             f&0x00000001 != 0,
			HasPPEC:                f&0x00000002 != 0,
			HasHomeIndexer:         f&0x00000004 != 0,
			IsAZEQ:                 f&0x00000008 != 0,
			InPPECTraining:         f&0x00000010 != 0,
			InPPEC:                 f&0x00000020 != 0,
			HasPolarLED:            f&0x00001000 != 0,
			HasCommonSlewStart:     f&0x00002000 != 0,
			HasHalfCurrentTracking: f&0x00004000 != 0,
			HasWifi:                f&0x00008000 != 0,
		}
	}
}
