package usbprobe

import (
	"testing"

	"github.com/google/gousb"
)

func TestIsFLI(t *testing.T) {
	if !IsFLI(&gousb.DeviceDesc{Vendor: 0x0f18, Product: 0x0300}) {
		t.Error("FLI vendor ID not recognized")
	}
	if IsFLI(&gousb.DeviceDesc{Vendor: 0x1313, Product: 0x804a}) {
		t.Error("ThorLabs device recognized as FLI")
	}
}

func TestDescribe(t *testing.T) {
	d := Describe(&gousb.DeviceDesc{Bus: 2, Address: 7, Port: 1, Vendor: 0x0f18, Product: 0x0300, Speed: gousb.SpeedSuper})
	if d.Bus != 2 || d.Address != 7 || d.Product != 0x0300 {
		t.Errorf("unexpected description %+v", d)
	}
	if s := d.String(); s[:24] != "bus 002 device 007 port " {
		t.Errorf("unexpected string %q", s)
	}
}
