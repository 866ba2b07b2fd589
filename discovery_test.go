package skywatcher

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHandshakeRejectsBlockedMountCode(t *testing.T) {
	// mount code 0x90 (DOB) must end up in the byte-swapped mc_version's
	// low byte, which (per the Rev-u24 wire shuffle) means the *decoded*
	// 24-bit value's high byte must be 0x90 -- i.e. the wire payload is
	// EncodeRevU24(0x900000), not the literal digits "900000".
	d, _ := newTestDriver(t, func(cmd byte, axis byte, arg string) string {
		if cmd == opInquireMotorBoardVersion {
			return "=" + EncodeRevU24(0x900000)
		}
		t.Fatalf("unexpected command %q sent to mount", cmd)
		return "=000000"
	})

	err := d.Handshake()
	if err == nil {
		t.Fatal("expected Handshake to fail for a blocked mount code, got nil")
	}
	de, ok := err.(*DisconnectError)
	if !ok {
		t.Fatalf("expected *DisconnectError, got %T: %v", err, err)
	}
	if !strings.Contains(de.Error(), "0x90") {
		t.Errorf("error %q does not mention the mount code 0x90", de.Error())
	}
}

func TestHandshakeAcceptsKnownMount(t *testing.T) {
	// "=000000" => byte-swap(0x000000) => mc_version=0, mount_code=0x00 => EQ6
	d, _ := newTestDriver(t, func(cmd byte, axis byte, arg string) string {
		if cmd == opInquireMotorBoardVersion {
			return "=000000"
		}
		t.Fatalf("unexpected command %q sent to mount", cmd)
		return "=000000"
	})

	if err := d.Handshake(); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if d.Model.Identity.Name != "EQ6" {
		t.Errorf("Identity.Name = %q, want %q", d.Model.Identity.Name, "EQ6")
	}
	if d.Model.Identity.MountCode != 0x00 {
		t.Errorf("Identity.MountCode = %#x, want 0x00", d.Model.Identity.MountCode)
	}
}

func TestHandshakeAppliesGeehalelMinPeriodOverride(t *testing.T) {
	// mount_code 0xF0: need MCVersion whose low byte is 0xF0. A wire value
	// w decodes (byte-swapped) to mc_version = ((w&0xFF)<<16)|(w&0xFF00)|((w&0xFF0000)>>16).
	// Choosing wire = 0x0000F0 gives mc_version = 0xF0<<16 = 0xF00000, mount_code = 0x00.
	// Instead pick wire so that mc_version's low byte is 0xF0: wire's middle
	// byte must be 0xF0, i.e. wire = 0x00F000 -> mc_version = (0)|(0xF000)|(0) = 0xF000,
	// mount_code = 0xF000 & 0xFF = 0x00. To land mount_code 0xF0 exactly, put 0xF0
	// in the wire's *high* byte: wire = 0xF00000 -> mc_version = 0 | 0 | (0xF00000>>16) = 0xF0.
	d, _ := newTestDriver(t, func(cmd byte, axis byte, arg string) string {
		if cmd == opInquireMotorBoardVersion {
			return "=" + EncodeRevU24(0xF00000)
		}
		t.Fatalf("unexpected command %q sent to mount", cmd)
		return "=000000"
	})

	if err := d.Handshake(); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if d.Model.Identity.MountCode != 0xF0 {
		t.Fatalf("MountCode = %#x, want 0xF0", d.Model.Identity.MountCode)
	}
	if d.Model.Constants[RA].MinPeriod != 13 || d.Model.Constants[DE].MinPeriod != 16 {
		t.Errorf("MinPeriod = (%d, %d), want (13, 16)", d.Model.Constants[RA].MinPeriod, d.Model.Constants[DE].MinPeriod)
	}
}

func TestInquireFeaturesAllFalseOnFailure(t *testing.T) {
	d, _ := newTestDriver(t, func(cmd byte, axis byte, arg string) string {
		if cmd == opGetFeatures {
			return "!0"
		}
		return "=000000"
	})
	d.inquireFeatures()
	if d.Model.Features[RA] != (Features{}) || d.Model.Features[DE] != (Features{}) {
		t.Errorf("expected all-false features on failure, got RA=%+v DE=%+v", d.Model.Features[RA], d.Model.Features[DE])
	}
}

func TestInquireFeaturesDecodesBits(t *testing.T) {
	d, _ := newTestDriver(t, func(cmd byte, axis byte, arg string) string {
		if cmd == opGetFeatures {
			return "=" + EncodeRevU24(0x00002001) // has_encoder + has_common_slew_start
		}
		return "=000000"
	})
	d.inquireFeatures()

	want := Features{HasEncoder: true, HasCommonSlewStart: true}
	if diff := cmp.Diff(want, d.Model.Features[RA]); diff != "" {
		t.Errorf("Features[RA] mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, d.Model.Features[DE]); diff != "" {
		t.Errorf("Features[DE] mismatch (-want +got):\n%s", diff)
	}
}
