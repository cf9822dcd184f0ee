/*Package flipro exposes control of FLI Kepler cameras in Go via libflipro

Only the subset of the API needed to configure a Kepler KL4040 and stream full
frame images from it is wrapped.  Cameras are opened by their index in the
device list, at most MaxCameras are enumerated.  Every function returns a
*kepler.DeviceError carrying the name of the C call and its status when the
library reports a failure, so callers can match on it with errors.As.

Higher level behavior (gain tables by index, read-back checks, capture
sessions) lives in the kepler package; this is purely a driver interface.
*/
package flipro

/*
#cgo CFLAGS: -I/usr/local/include
#cgo LDFLAGS: -L/usr/local/lib -lflipro
#include <stdlib.h>
#include <stdbool.h>
#include <libflipro.h>
*/
import "C"
import (
	"fmt"
	"time"
	"unsafe"

	cwch "github.com/lordadamson/cgo.wchar"

	"github.jpl.nasa.gov/bdube/kepler/kepler"
)

// ErrCodes maps the documented status codes of libflipro to their names
var ErrCodes = map[int]string{
	-1: "FPRO_ERR_GENERIC",
	-2: "FPRO_ERR_NOT_SUPPORTED",
	-3: "FPRO_ERR_TIMEOUT",
	-4: "FPRO_ERR_INVALID_HANDLE",
	-5: "FPRO_ERR_DEVICE_NOT_FOUND",
}

// Error converts a status code from the C API into an error.  Negative codes
// are failures, anything else is success.
func Error(op string, code C.int32_t) error {
	if code >= 0 {
		return nil
	}
	return &kepler.DeviceError{Op: op, Status: int(code)}
}

// StatusName returns the name of a status code, or its number if unknown
func StatusName(code int) string {
	if s, ok := ErrCodes[code]; ok {
		return s
	}
	return fmt.Sprintf("FPRO status %d", code)
}

func cbool(b bool) C.bool {
	if b {
		return C.bool(true)
	}
	return C.bool(false)
}

func wstr(p unsafe.Pointer) string {
	s, err := cwch.WcharStringPtrToGoString(p)
	if err != nil {
		return ""
	}
	return s
}

// List returns the cameras attached to the system
func List() ([]kepler.DeviceInfo, error) {
	var (
		infos [kepler.MaxCameras]C.FPRODEVICEINFO
		n     = C.uint32_t(kepler.MaxCameras)
	)
	err := Error("FPROCam_GetCameraList", C.FPROCam_GetCameraList(&infos[0], &n))
	if err != nil {
		return nil, err
	}
	out := make([]kepler.DeviceInfo, 0, int(n))
	for i := 0; i < int(n); i++ {
		out = append(out, kepler.DeviceInfo{
			FriendlyName: wstr(unsafe.Pointer(&infos[i].cFriendlyName[0])),
			SerialNo:     wstr(unsafe.Pointer(&infos[i].cSerialNo[0])),
			DevicePath:   wstr(unsafe.Pointer(&infos[i].cDevicePath[0])),
			VendorID:     uint16(infos[i].uiVendorId),
			ProductID:    uint16(infos[i].uiProdId)})
	}
	return out, nil
}

// Camera is an open connection to one camera.  It satisfies kepler.Device.
type Camera struct {
	handle C.int32_t
	info   kepler.DeviceInfo
}

// Open opens the camera at index idx of the device list
func Open(idx int) (*Camera, error) {
	var (
		infos [kepler.MaxCameras]C.FPRODEVICEINFO
		n     = C.uint32_t(kepler.MaxCameras)
	)
	err := Error("FPROCam_GetCameraList", C.FPROCam_GetCameraList(&infos[0], &n))
	if err != nil {
		return nil, err
	}
	if idx < 0 || idx >= int(n) {
		return nil, &kepler.ConfigurationError{Param: "device index",
			Msg: fmt.Sprintf("%d out of range, %d cameras found", idx, int(n))}
	}
	c := &Camera{}
	err = Error("FPROCam_Open", C.FPROCam_Open(&infos[idx], &c.handle))
	if err != nil {
		return nil, err
	}
	c.info = kepler.DeviceInfo{
		FriendlyName: wstr(unsafe.Pointer(&infos[idx].cFriendlyName[0])),
		SerialNo:     wstr(unsafe.Pointer(&infos[idx].cSerialNo[0])),
		DevicePath:   wstr(unsafe.Pointer(&infos[idx].cDevicePath[0])),
		VendorID:     uint16(infos[idx].uiVendorId),
		ProductID:    uint16(infos[idx].uiProdId)}
	return c, nil
}

// Info returns the device list entry the camera was opened from
func (c *Camera) Info() kepler.DeviceInfo {
	return c.info
}

// Close closes the connection to the camera
func (c *Camera) Close() error {
	return Error("FPROCam_Close", C.FPROCam_Close(c.handle))
}

/* this block contains sensor functions

 */

// Capabilities reads the capabilities structure of the camera
func (c *Camera) Capabilities() (kepler.Capabilities, error) {
	var (
		caps C.FPROCAP
		size = C.uint32_t(C.sizeof_FPROCAP)
	)
	err := Error("FPROSensor_GetCapabilities", C.FPROSensor_GetCapabilities(c.handle, &caps, &size))
	return kepler.Capabilities{
		DeviceType:               uint32(caps.uiDeviceType),
		MaxPixelImageWidth:       uint32(caps.uiMaxPixelImageWidth),
		MaxPixelImageHeight:      uint32(caps.uiMaxPixelImageHeight),
		AvailablePixelDepths:     uint32(caps.uiAvailablePixelDepths),
		BinningsTableSize:        uint32(caps.uiBinningsTableSize),
		BlackLevelMax:            uint32(caps.uiBlackLevelMax),
		BlackSunMax:              uint32(caps.uiBlackSunMax),
		LowGain:                  uint32(caps.uiLowGain),
		HighGain:                 uint32(caps.uiHighGain),
		RowScanTime:              uint32(caps.uiRowScanTime),
		DummyPixelNum:            uint32(caps.uiDummyPixelNum),
		HorizontalScanInvertable: bool(caps.bHorizontalScanInvertable),
		VerticalScanInvertable:   bool(caps.bVerticalScanInvertable),
		NVStorageAvailable:       uint32(caps.uiNVStorageAvailable),
		PreFrameReferenceRows:    uint32(caps.uiPreFrameReferenceRows),
		PostFrameReferenceRows:   uint32(caps.uiPostFrameReferenceRows),
		MetaDataSize:             uint32(caps.uiMetaDataSize)}, err
}

func gainTable(ch kepler.GainChannel) C.FPROGAINTABLE {
	if ch == kepler.HighGainTable {
		return C.FPRO_GAIN_TABLE_HIGH_CHANNEL
	}
	return C.FPRO_GAIN_TABLE_LOW_CHANNEL
}

// GainTable reads the gain table of a channel
func (c *Camera) GainTable(ch kepler.GainChannel) ([]kepler.GainEntry, error) {
	caps, err := c.Capabilities()
	if err != nil {
		return nil, err
	}
	n := caps.LowGain
	if ch == kepler.HighGainTable {
		n = caps.HighGain
	}
	if n == 0 {
		return nil, nil
	}
	vals := make([]C.FPROGAINVALUE, n)
	cn := C.uint32_t(n)
	err = Error("FPROSensor_GetGainTable", C.FPROSensor_GetGainTable(c.handle, gainTable(ch), &vals[0], &cn))
	if err != nil {
		return nil, err
	}
	out := make([]kepler.GainEntry, int(cn))
	for i := range out {
		out[i] = kepler.GainEntry{Value: uint32(vals[i].uiValue), DeviceIndex: uint32(vals[i].uiDeviceIndex)}
	}
	return out, nil
}

// GainIndex returns the device index of the current gain of a channel
func (c *Camera) GainIndex(ch kepler.GainChannel) (uint32, error) {
	var idx C.uint32_t
	err := Error("FPROSensor_GetGainIndex", C.FPROSensor_GetGainIndex(c.handle, gainTable(ch), &idx))
	return uint32(idx), err
}

// SetGainIndex selects the gain of a channel by device index
func (c *Camera) SetGainIndex(ch kepler.GainChannel, idx uint32) error {
	return Error("FPROSensor_SetGainIndex", C.FPROSensor_SetGainIndex(c.handle, gainTable(ch), C.uint32_t(idx)))
}

// HDREnabled returns true if the sensor is producing both gain channels
func (c *Camera) HDREnabled() (bool, error) {
	var b C.bool
	err := Error("FPROSensor_GetHDREnable", C.FPROSensor_GetHDREnable(c.handle, &b))
	return bool(b), err
}

// Modes lists the sensor modes and the index of the current one
func (c *Camera) Modes() ([]kepler.Mode, uint32, error) {
	var count, current C.uint32_t
	err := Error("FPROSensor_GetModeCount", C.FPROSensor_GetModeCount(c.handle, &count, &current))
	if err != nil {
		return nil, 0, err
	}
	out := make([]kepler.Mode, 0, int(count))
	for i := C.uint32_t(0); i < count; i++ {
		var m C.FPROSENSMODE
		err = Error("FPROSensor_GetMode", C.FPROSensor_GetMode(c.handle, i, &m))
		if err != nil {
			return out, uint32(current), err
		}
		out = append(out, kepler.Mode{
			Index:   uint32(m.uiModeIndex),
			Name:    wstr(unsafe.Pointer(&m.wcModeName[0])),
			Default: i == 0})
	}
	return out, uint32(current), nil
}

// SetMode selects a sensor mode
func (c *Camera) SetMode(idx uint32) error {
	return Error("FPROSensor_SetMode", C.FPROSensor_SetMode(c.handle, C.uint32_t(idx)))
}

/* this block contains control functions

 */

// Exposure returns the exposure time and frame delay
func (c *Camera) Exposure() (kepler.Exposure, error) {
	var (
		exp, delay C.uint64_t
		immediate  C.bool
	)
	err := Error("FPROCtrl_GetExposure", C.FPROCtrl_GetExposure(c.handle, &exp, &delay, &immediate))
	return kepler.Exposure{
		Time:       time.Duration(exp),
		FrameDelay: time.Duration(delay),
		Immediate:  bool(immediate)}, err
}

// SetExposure sets the exposure time and frame delay
func (c *Camera) SetExposure(e kepler.Exposure) error {
	return Error("FPROCtrl_SetExposure", C.FPROCtrl_SetExposure(c.handle,
		C.uint64_t(e.Time.Nanoseconds()), C.uint64_t(e.FrameDelay.Nanoseconds()), cbool(e.Immediate)))
}

// ExternalTrigger returns the external trigger configuration
func (c *Camera) ExternalTrigger() (kepler.TriggerConfig, error) {
	var (
		en  C.bool
		typ C.FPROEXTTRIGTYPE
	)
	err := Error("FPROCtrl_GetExternalTriggerEnable", C.FPROCtrl_GetExternalTriggerEnable(c.handle, &en, &typ))
	return kepler.TriggerConfig{Enabled: bool(en), Type: kepler.TriggerType(typ)}, err
}

// SetExternalTrigger sets the external trigger configuration
func (c *Camera) SetExternalTrigger(t kepler.TriggerConfig) error {
	return Error("FPROCtrl_SetExternalTriggerEnable",
		C.FPROCtrl_SetExternalTriggerEnable(c.handle, cbool(t.Enabled), C.FPROEXTTRIGTYPE(t.Type)))
}

// TemperatureSetpoint returns the cooler setpoint in Celsius
func (c *Camera) TemperatureSetpoint() (float64, error) {
	var d C.double
	err := Error("FPROCtrl_GetTemperatureSetPoint", C.FPROCtrl_GetTemperatureSetPoint(c.handle, &d))
	return float64(d), err
}

// SetTemperatureSetpoint sets the cooler setpoint in Celsius
func (c *Camera) SetTemperatureSetpoint(celsius float64) error {
	return Error("FPROCtrl_SetTemperatureSetPoint", C.FPROCtrl_SetTemperatureSetPoint(c.handle, C.double(celsius)))
}

// Temperatures returns the ambient, base, and cooler temperatures in Celsius
func (c *Camera) Temperatures() (kepler.Temperatures, error) {
	var amb, base, cool C.double
	err := Error("FPROCtrl_GetTemperatures", C.FPROCtrl_GetTemperatures(c.handle, &amb, &base, &cool))
	return kepler.Temperatures{Ambient: float64(amb), Base: float64(base), Cooler: float64(cool)}, err
}

// SensorTemperature returns the sensor temperature.  Later KL4040 units do not
// support this and return FPRO_ERR_NOT_SUPPORTED.
func (c *Camera) SensorTemperature() (int32, error) {
	var t C.int32_t
	err := Error("FPROCtrl_GetSensorTemperature", C.FPROCtrl_GetSensorTemperature(c.handle, &t))
	return int32(t), err
}

// ShutterOverride returns true if the shutter is under user control
func (c *Camera) ShutterOverride() (bool, error) {
	var b C.bool
	err := Error("FPROCtrl_GetShutterOverride", C.FPROCtrl_GetShutterOverride(c.handle, &b))
	return bool(b), err
}

// SetShutterOverride puts the shutter under user control, or returns it to the camera
func (c *Camera) SetShutterOverride(b bool) error {
	return Error("FPROCtrl_SetShutterOverride", C.FPROCtrl_SetShutterOverride(c.handle, cbool(b)))
}

// SetShutterOpen opens or closes the shutter
func (c *Camera) SetShutterOpen(b bool) error {
	return Error("FPROCtrl_SetShutterOpen", C.FPROCtrl_SetShutterOpen(c.handle, cbool(b)))
}

/* this block contains frame functions

 */

// PixelConfig returns the pixel depth and LSB position
func (c *Camera) PixelConfig() (kepler.PixelConfig, error) {
	var depth, lsb C.uint32_t
	err := Error("FPROFrame_GetPixelConfig", C.FPROFrame_GetPixelConfig(c.handle, &depth, &lsb))
	return kepler.PixelConfig{Depth: uint32(depth), LSB: uint32(lsb)}, err
}

// ImageArea returns the region of the sensor that is read out
func (c *Camera) ImageArea() (kepler.ImageArea, error) {
	var col, row, w, h C.uint32_t
	err := Error("FPROFrame_GetImageArea", C.FPROFrame_GetImageArea(c.handle, &col, &row, &w, &h))
	return kepler.ImageArea{
		ColOffset: uint32(col),
		RowOffset: uint32(row),
		Width:     uint32(w),
		Height:    uint32(h)}, err
}

// SetImageArea sets the region of the sensor that is read out
func (c *Camera) SetImageArea(a kepler.ImageArea) error {
	return Error("FPROFrame_SetImageArea", C.FPROFrame_SetImageArea(c.handle,
		C.uint32_t(a.ColOffset), C.uint32_t(a.RowOffset), C.uint32_t(a.Width), C.uint32_t(a.Height)))
}

// SetImageDataEnable turns image data on or off; with it off frames carry
// only metadata
func (c *Camera) SetImageDataEnable(b bool) error {
	return Error("FPROFrame_SetImageDataEnable", C.FPROFrame_SetImageDataEnable(c.handle, cbool(b)))
}

// CaptureStart begins an internally timed capture of n frames
func (c *Camera) CaptureStart(n uint32) error {
	return Error("FPROFrame_CaptureStart", C.FPROFrame_CaptureStart(c.handle, C.uint32_t(n)))
}

// CaptureStop stops a capture begun with CaptureStart
func (c *Camera) CaptureStop() error {
	return Error("FPROFrame_CaptureStop", C.FPROFrame_CaptureStop(c.handle))
}

// CaptureEnd ends a capture and releases the frame buffers of the driver
func (c *Camera) CaptureEnd() error {
	return Error("FPROFrame_CaptureEnd", C.FPROFrame_CaptureEnd(c.handle))
}

// GetVideoFrame blocks for the next frame of an internal capture and copies
// it into buf.  The number of bytes received is returned; a zero timeout waits
// for the exposure time plus frame delay as computed by the library.
func (c *Camera) GetVideoFrame(buf []byte, timeout time.Duration) (int, error) {
	if len(buf) == 0 {
		return 0, &kepler.ConfigurationError{Param: "frame buffer", Msg: "empty"}
	}
	size := C.uint32_t(len(buf))
	err := Error("FPROFrame_GetVideoFrame", C.FPROFrame_GetVideoFrame(c.handle,
		(*C.uint8_t)(unsafe.Pointer(&buf[0])), &size, C.uint32_t(timeout.Milliseconds())))
	return int(size), err
}

// GetVideoFrameExt blocks for the next externally triggered frame and copies
// it into buf.  The number of bytes received is returned.
func (c *Camera) GetVideoFrameExt(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, &kepler.ConfigurationError{Param: "frame buffer", Msg: "empty"}
	}
	size := C.uint32_t(len(buf))
	err := Error("FPROFrame_GetVideoFrameExt", C.FPROFrame_GetVideoFrameExt(c.handle,
		(*C.uint8_t)(unsafe.Pointer(&buf[0])), &size))
	return int(size), err
}

var _ kepler.Device = (*Camera)(nil)
