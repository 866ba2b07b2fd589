package skywatcher

import (
	"bytes"
	"log"
	"testing"
	"time"
)

// indexOfFrom returns the index of the first element in ss (at or after
// from) equal to want, or -1.
func indexOfFrom(ss []string, from int, want string) int {
	for i := from; i < len(ss); i++ {
		if ss[i] == want {
			return i
		}
	}
	return -1
}

// assertSubsequence fails unless each element of seq appears in ss, in
// order (not necessarily contiguous).
func assertSubsequence(t *testing.T, ss []string, seq ...string) {
	t.Helper()
	at := 0
	for _, want := range seq {
		idx := indexOfFrom(ss, at, want)
		if idx < 0 {
			t.Fatalf("expected %q to appear at or after position %d in %v", want, at, ss)
		}
		at = idx + 1
	}
}

// TestStartRATrackingSiderealSequence covers spec.md §8 scenario 2: a
// sidereal-rate tracking command must emit SetMotionMode, SetStepPeriod,
// StartMotion in that order, once the axis's current status has been
// found (via the mandatory status check) to differ from the requested one.
func TestStartRATrackingSiderealSequence(t *testing.T) {
	d, mount := newTestDriver(t, func(cmd byte, axis byte, arg string) string {
		switch cmd {
		case opGetAxisStatus:
			// GOTO/FORWARD/LOWSPEED, idle, initialized -- differs from the
			// requested SLEW/FORWARD/LOWSPEED only in slew mode, so
			// SetMotion must stop-wait then reissue SetMotionMode.
			return "=001"
		case opNotInstantAxisStop, opSetMotionMode, opSetStepPeriod, opStartMotion:
			return "="
		default:
			t.Fatalf("unexpected command %q sent to mount", cmd)
			return "!0"
		}
	})

	if err := d.StartRATracking(StellarArcsecPerSec); err != nil { // 1x sidereal
		t.Fatalf("StartRATracking: %v", err)
	}

	period := uint32(620) // round(86164.0905 * 64935 / 9024000 / 1.0)
	assertSubsequence(t, mount.Written(),
		"G1"+"10",
		"I1"+EncodeRevU24(period),
		"J1",
	)
}

// TestSlewToHighspeedGotoSequence covers spec.md §8 scenario 3: a large
// relative goto on RA alone must drive a highspeed-goto sequence on RA and
// leave DE entirely untouched.
func TestSlewToHighspeedGotoSequence(t *testing.T) {
	d, mount := newTestDriver(t, func(cmd byte, axis byte, arg string) string {
		if axis != RA.wireTag() {
			t.Fatalf("unexpected command %q sent to axis %q (DE must see no traffic)", cmd, axis)
		}
		switch cmd {
		case opGetAxisStatus:
			return "=001" // GOTO/FORWARD/LOWSPEED, idle -- differs in speed mode
		case opNotInstantAxisStop, opSetMotionMode, opSetStepPeriod,
			opSetGotoTargetIncrement, opSetBreakPointIncrement, opStartMotion:
			return "="
		default:
			t.Fatalf("unexpected command %q sent to mount", cmd)
			return "!0"
		}
	})

	if err := d.SlewTo(100000, 0); err != nil {
		t.Fatalf("SlewTo: %v", err)
	}

	minPeriod := d.Model.Constants[RA].MinPeriod
	assertSubsequence(t, mount.Written(),
		"G1"+"00",
		"I1"+EncodeRevU24(minPeriod),
		"H1"+EncodeRevU24(100000),
		"M1"+EncodeRevU24(3200),
		"J1",
	)
}

// TestSlewAxisBacklashInvisible covers spec.md §8 scenario 4: reversing
// direction while USE_BACKLASH is enabled must drive the six-step
// backlash preamble, and the encoder position must be exactly restored
// once the preamble completes -- the reversal is invisible to the cached
// model except for the direction/rate actually requested.
func TestSlewAxisBacklashInvisible(t *testing.T) {
	const currentSteps = uint32(500000)

	d, mount := newTestDriver(t, func(cmd byte, axis byte, arg string) string {
		switch cmd {
		case opGetAxisStatus:
			return "=101" // SLEW/FORWARD/LOWSPEED, idle, initialized
		case opGetAxisPosition:
			return "=" + EncodeRevU24(currentSteps)
		case opNotInstantAxisStop, opSetMotionMode, opSetStepPeriod,
			opSetGotoTargetIncrement, opSetBreakPointIncrement,
			opStartMotion, opSetAxisPosition:
			return "="
		default:
			t.Fatalf("unexpected command %q sent to mount", cmd)
			return "!0"
		}
	})

	st := &d.Model.State[RA]
	st.LastRunningStatus.Direction = FORWARD
	st.UseBacklash = true
	st.BacklashSteps = 200

	if err := d.SlewAxis(RA, -1.0); err != nil { // reverses to BACKWARD
		t.Fatalf("SlewAxis: %v", err)
	}

	if st.EncoderStep != currentSteps {
		t.Errorf("EncoderStep after backlash-compensated slew = %d, want %d (restored)", st.EncoderStep, currentSteps)
	}

	w := mount.Written()
	assertSubsequence(t, w,
		"G1"+"21",                        // backlash: lowspeed goto, BACKWARD
		"H1"+EncodeRevU24(200),           // backlash target increment
		"M1"+EncodeRevU24(20),            // backlash break-point increment (200/10)
		"J1",                             // backlash StartMotion
		"E1"+EncodeRevU24(currentSteps),  // encoder restore
		"G1"+"11",                        // real slew: SLEW/LOWSPEED, BACKWARD
		"J1",                             // real StartMotion
	)
}

// TestExchangeRetriesOnTimeout covers spec.md §8 scenario 6: a dropped
// first reply must be retried and the retry must succeed, logging a
// recovery message.
func TestExchangeRetriesOnTimeout(t *testing.T) {
	mount := NewMockMount(func(cmd byte, axis byte, arg string) string {
		return "=001"
	})
	mount.Delays = []time.Duration{80 * time.Millisecond, 0}

	tp := NewMockTransport(mount)
	var logBuf bytes.Buffer
	tp.Log = log.New(&logBuf, "", 0)

	d := NewDriver(tp)
	d.Log = log.New(&logBuf, "", 0)
	for axis := Axis(0); axis < numAxes; axis++ {
		d.Model.Constants[axis] = AxisConstants{Steps360: 9024000, StepsWorm: 64935, HighspeedRatio: 64, MinPeriod: 6}
	}

	if err := d.StopAxis(RA); err != nil {
		t.Fatalf("StopAxis: %v", err)
	}

	if logBuf.Len() == 0 {
		t.Error("expected a recovery warning to be logged after the retried exchange succeeded")
	}
}
