/*Package kepler contains the capture pipeline for FLI Kepler dual-gain
cameras: the frame decoder, the capture session state machine, the
timestamp policy, and camera controls layered on top of the driver.

The driver itself is abstracted as a Device.  The flipro package implements it
against libflipro, and SimDevice implements it in memory.
*/
package kepler

import (
	"time"
)

const (
	// GainScaleFactor is the factor gain table values are scaled by in the driver
	GainScaleFactor = 1000

	// SensorWidth is the width of the Gsense 4040 sensor in pixels
	SensorWidth = 4096

	// SensorHeight is the height of the Gsense 4040 sensor in pixels
	SensorHeight = 4096

	// MaxCameras is the maximum number of cameras enumerated at once
	MaxCameras = 4

	// Instrument is the instrument identity written to observation files
	Instrument = "FLI Kepler KL4040"

	// Detector is the detector identity written to observation files
	Detector = "Gsense 4040"
)

// GainChannel selects one of the two gain tables of the sensor
type GainChannel int

const (
	// LowGainTable is the low (LDR) gain table
	LowGainTable GainChannel = iota

	// HighGainTable is the high (HDR) gain table
	HighGainTable
)

func (g GainChannel) String() string {
	switch g {
	case LowGainTable:
		return "low"
	case HighGainTable:
		return "high"
	default:
		return "unknown"
	}
}

// TriggerType is the edge or level the external trigger input responds to
type TriggerType int

const (
	// FallingEdge starts an exposure on the falling edge of the trigger
	FallingEdge TriggerType = iota

	// RisingEdge starts an exposure on the rising edge of the trigger
	RisingEdge

	// ExposeActiveLow exposes while the trigger is low
	ExposeActiveLow

	// ExposeActiveHigh exposes while the trigger is high
	ExposeActiveHigh
)

var triggerNames = map[TriggerType]string{
	FallingEdge:      "falling edge",
	RisingEdge:       "rising edge",
	ExposeActiveLow:  "active low",
	ExposeActiveHigh: "active high",
}

func (t TriggerType) String() string {
	if s, ok := triggerNames[t]; ok {
		return s
	}
	return "unknown"
}

// TriggerConfig is the external trigger configuration of the camera
type TriggerConfig struct {
	// Enabled is true when frames are gated on the external trigger input
	Enabled bool `json:"enabled"`

	// Type is the edge or level the trigger responds to
	Type TriggerType `json:"type"`
}

// Capabilities is the capability block reported by the camera
type Capabilities struct {
	DeviceType               uint32 `json:"deviceType"`
	MaxPixelImageWidth       uint32 `json:"maxPixelImageWidth"`
	MaxPixelImageHeight      uint32 `json:"maxPixelImageHeight"`
	AvailablePixelDepths     uint32 `json:"availablePixelDepths"`
	BinningsTableSize        uint32 `json:"binningsTableSize"`
	BlackLevelMax            uint32 `json:"blackLevelMax"`
	BlackSunMax              uint32 `json:"blackSunMax"`
	LowGain                  uint32 `json:"lowGain"`
	HighGain                 uint32 `json:"highGain"`
	RowScanTime              uint32 `json:"rowScanTime"`
	DummyPixelNum            uint32 `json:"dummyPixelNum"`
	HorizontalScanInvertable bool   `json:"horizontalScanInvertable"`
	VerticalScanInvertable   bool   `json:"verticalScanInvertable"`
	NVStorageAvailable       uint32 `json:"nvStorageAvailable"`
	PreFrameReferenceRows    uint32 `json:"preFrameReferenceRows"`
	PostFrameReferenceRows   uint32 `json:"postFrameReferenceRows"`

	// MetaDataSize is the size of the header prepended to every frame, in bytes
	MetaDataSize uint32 `json:"metaDataSize"`
}

// GainEntry is one row of a gain table
type GainEntry struct {
	// Value is the gain multiplied by GainScaleFactor
	Value uint32 `json:"value"`

	// DeviceIndex is the index the camera expects when selecting this gain
	DeviceIndex uint32 `json:"deviceIndex"`
}

// Gain returns the calibrated gain of the entry
func (g GainEntry) Gain() float64 {
	return float64(g.Value) / GainScaleFactor
}

// Exposure holds the timing of a frame
type Exposure struct {
	Time       time.Duration `json:"time"`
	FrameDelay time.Duration `json:"frameDelay"`
	Immediate  bool          `json:"immediate"`
}

// Temperatures are the thermal readouts of the camera, in Celsius
type Temperatures struct {
	Ambient float64 `json:"ambient"`
	Base    float64 `json:"base"`
	Cooler  float64 `json:"cooler"`
}

// PixelConfig is the pixel depth and the least significant bit of the pixel data
type PixelConfig struct {
	Depth uint32 `json:"depth"`
	LSB   uint32 `json:"lsb"`
}

// ImageArea is the region of the sensor read out
type ImageArea struct {
	ColOffset uint32 `json:"colOffset"`
	RowOffset uint32 `json:"rowOffset"`
	Width     uint32 `json:"width"`
	Height    uint32 `json:"height"`
}

// Mode is an entry in the camera's list of modes
type Mode struct {
	Index   uint32 `json:"index"`
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

// DeviceInfo identifies a connected camera
type DeviceInfo struct {
	FriendlyName string `json:"friendlyName"`
	SerialNo     string `json:"serialNo"`
	DevicePath   string `json:"devicePath"`
	VendorID     uint16 `json:"vendorId"`
	ProductID    uint16 `json:"productId"`
}

// Device is the camera driver.  Every method that talks to the hardware returns
// a *DeviceError when the driver reports a negative status.
type Device interface {
	// Capabilities queries the capability block of the camera
	Capabilities() (Capabilities, error)

	// GainTable retrieves the gain table of a channel
	GainTable(GainChannel) ([]GainEntry, error)

	// GainIndex gets the device index of the gain currently in use on a channel
	GainIndex(GainChannel) (uint32, error)

	// SetGainIndex selects a gain by its device index
	SetGainIndex(GainChannel, uint32) error

	// Exposure gets the exposure time and frame delay
	Exposure() (Exposure, error)

	// SetExposure sets the exposure time and frame delay
	SetExposure(Exposure) error

	// ExternalTrigger gets the external trigger configuration
	ExternalTrigger() (TriggerConfig, error)

	// SetExternalTrigger sets the external trigger configuration
	SetExternalTrigger(TriggerConfig) error

	// CaptureStart begins capturing a number of frames
	CaptureStart(frames uint32) error

	// CaptureStop stops a capture begun with CaptureStart
	CaptureStop() error

	// CaptureEnd ends a streaming capture
	CaptureEnd() error

	// GetVideoFrame blocks until a frame is available or timeout elapses, and
	// copies it into buf.  It returns the number of bytes received.
	// A zero timeout uses the driver's default.
	GetVideoFrame(buf []byte, timeout time.Duration) (int, error)

	// GetVideoFrameExt is GetVideoFrame for externally triggered frames
	GetVideoFrameExt(buf []byte) (int, error)

	// TemperatureSetpoint gets the cooler setpoint in Celsius
	TemperatureSetpoint() (float64, error)

	// SetTemperatureSetpoint sets the cooler setpoint in Celsius
	SetTemperatureSetpoint(float64) error

	// Temperatures reads the ambient, base, and cooler temperatures
	Temperatures() (Temperatures, error)

	// SensorTemperature reads the sensor temperature
	SensorTemperature() (int32, error)

	// PixelConfig gets the pixel depth and LSB
	PixelConfig() (PixelConfig, error)

	// HDREnabled returns true if the sensor is producing dual-gain frames
	HDREnabled() (bool, error)

	// ImageArea gets the area of the sensor read out
	ImageArea() (ImageArea, error)

	// SetImageArea sets the area of the sensor read out
	SetImageArea(ImageArea) error

	// SetImageDataEnable turns image data on or off in the frames
	SetImageDataEnable(bool) error

	// ShutterOverride returns true if the shutter is under user control
	ShutterOverride() (bool, error)

	// SetShutterOverride gives or takes control of the shutter to the user
	SetShutterOverride(bool) error

	// SetShutterOpen opens or closes the shutter
	SetShutterOpen(bool) error

	// Modes lists the modes of the camera and the index of the current one
	Modes() ([]Mode, uint32, error)

	// SetMode selects a mode by index
	SetMode(uint32) error

	// Close releases the camera
	Close() error
}
