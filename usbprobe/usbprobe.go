// Package usbprobe finds FLI cameras on the USB bus without opening them.
// It is used to tell "no camera plugged in" apart from "the driver cannot
// talk to the camera" when libflipro reports an empty device list.
package usbprobe

import (
	"fmt"

	"github.com/google/gousb"
)

const (
	// FLIVID is the Finger Lakes Instrumentation vendor ID
	FLIVID = 0x0f18
)

// Device is one USB device seen on the bus
type Device struct {
	Bus     int    `json:"bus"`
	Address int    `json:"address"`
	Port    int    `json:"port"`
	Vendor  uint16 `json:"vendor"`
	Product uint16 `json:"product"`
	Speed   string `json:"speed"`
}

func (d Device) String() string {
	return fmt.Sprintf("bus %03d device %03d port %d: ID %04x:%04x (%s)", d.Bus, d.Address, d.Port, d.Vendor, d.Product, d.Speed)
}

// IsFLI returns true if desc describes an FLI device
func IsFLI(desc *gousb.DeviceDesc) bool {
	return desc.Vendor == FLIVID
}

// Describe converts a gousb descriptor to a Device
func Describe(desc *gousb.DeviceDesc) Device {
	return Device{
		Bus:     desc.Bus,
		Address: desc.Address,
		Port:    desc.Port,
		Vendor:  uint16(desc.Vendor),
		Product: uint16(desc.Product),
		Speed:   desc.Speed.String()}
}

// List returns the FLI devices on the bus
func List() ([]Device, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()
	var out []Device
	// the filter never asks for a device to be opened, so no permissions are needed
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if IsFLI(desc) {
			out = append(out, Describe(desc))
		}
		return false
	})
	for _, d := range devs {
		d.Close()
	}
	return out, err
}
