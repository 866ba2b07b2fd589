package skywatcher

import (
	"io"
	"log"
	"testing"
)

func newTestDriver(t *testing.T, reply func(cmd byte, axis byte, arg string) string) (*Driver, *MockMount) {
	t.Helper()
	mount := NewMockMount(reply)
	tp := NewMockTransport(mount)
	d := NewDriver(tp)
	d.Log = log.New(io.Discard, "", 0)
	for axis := Axis(0); axis < numAxes; axis++ {
		d.Model.Constants[axis] = AxisConstants{
			Steps360:       9024000,
			StepsWorm:      64935,
			HighspeedRatio: 64,
			MinPeriod:      6,
		}
	}
	return d, mount
}

func TestSetRateRefusesSpeedModeChangeWhileRunning(t *testing.T) {
	d, mount := newTestDriver(t, func(cmd byte, axis byte, arg string) string {
		if cmd == opGetAxisStatus {
			return "=111" // running, SLEW, FORWARD, LOWSPEED, initialized
		}
		t.Fatalf("unexpected command %q sent to mount", cmd)
		return "=000000"
	})

	err := d.SetRate(RA, 200.0) // 200 > LowspeedThreshold => HIGHSPEED, differs from current LOWSPEED
	if err == nil {
		t.Fatal("expected an InvalidParameterError, got nil")
	}
	if _, ok := err.(*InvalidParameterError); !ok {
		t.Fatalf("expected *InvalidParameterError, got %T: %v", err, err)
	}
	if got := mount.Written(); len(got) != 1 {
		t.Fatalf("expected exactly one wire write (the status read), got %d: %v", len(got), got)
	}
}

func TestSlewRefusesWhileGotoInProgress(t *testing.T) {
	d, mount := newTestDriver(t, func(cmd byte, axis byte, arg string) string {
		if cmd == opGetAxisStatus {
			return "=011" // running, GOTO, FORWARD, LOWSPEED, initialized
		}
		t.Fatalf("unexpected command %q sent to mount", cmd)
		return "=000000"
	})

	err := d.SlewAxis(RA, 5.0)
	if err == nil {
		t.Fatal("expected an InvalidParameterError, got nil")
	}
	if _, ok := err.(*InvalidParameterError); !ok {
		t.Fatalf("expected *InvalidParameterError, got %T: %v", err, err)
	}
	if got := mount.Written(); len(got) != 1 {
		t.Fatalf("expected exactly one wire write (the status read), got %d: %v", len(got), got)
	}
}

func TestStopAxisLeavesNotRunning(t *testing.T) {
	d, _ := newTestDriver(t, func(cmd byte, axis byte, arg string) string {
		switch cmd {
		case opNotInstantAxisStop:
			return "="
		case opGetAxisStatus:
			return "=001" // idle, GOTO, FORWARD, LOWSPEED, initialized
		default:
			t.Fatalf("unexpected command %q sent to mount", cmd)
			return "=000000"
		}
	})

	if err := d.StopAxis(RA); err != nil {
		t.Fatalf("StopAxis: %v", err)
	}
	if d.Model.State[RA].Running {
		t.Error("expected Running == false after StopAxis")
	}
}

func TestReadMotorStatusRecordsLastRunningStatusOnStop(t *testing.T) {
	calls := 0
	d, _ := newTestDriver(t, func(cmd byte, axis byte, arg string) string {
		if cmd != opGetAxisStatus {
			t.Fatalf("unexpected command %q sent to mount", cmd)
		}
		calls++
		if calls == 1 {
			return "=301" // running, SLEW, BACKWARD, LOWSPEED, initialized (bits 0x1|0x2 set)
		}
		return "=001" // idle now
	})

	if err := d.readMotorStatus(RA); err != nil {
		t.Fatalf("readMotorStatus #1: %v", err)
	}
	if !d.Model.State[RA].Running {
		t.Fatal("expected Running == true after first read")
	}
	if err := d.readMotorStatus(RA); err != nil {
		t.Fatalf("readMotorStatus #2: %v", err)
	}
	if d.Model.State[RA].Running {
		t.Fatal("expected Running == false after second read")
	}
	if d.Model.State[RA].LastRunningStatus.Direction != BACKWARD {
		t.Errorf("LastRunningStatus.Direction = %v, want BACKWARD", d.Model.State[RA].LastRunningStatus.Direction)
	}
}
