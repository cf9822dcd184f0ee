package kepler

import (
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"
	"time"
)

const (
	// DefaultExposure is the exposure the camera reports after power up
	DefaultExposure = 2010960 * time.Nanosecond

	// DefaultLowGainIndex is the low gain table index used unless configured otherwise
	DefaultLowGainIndex = 14

	// DefaultHighGainIndex is the high gain table index used unless configured otherwise
	DefaultHighGainIndex = 57

	// exposureTolerance is the relative error allowed when reading back exposure settings
	exposureTolerance = 0.01
)

// Site is the geodetic location of the observatory
type Site struct {
	Latitude  float64 `json:"latitude" yaml:"Latitude" koanf:"Latitude"`
	Longitude float64 `json:"longitude" yaml:"Longitude" koanf:"Longitude"`
	Altitude  float64 `json:"altitude" yaml:"Altitude" koanf:"Altitude"`
	Name      string  `json:"name" yaml:"Name" koanf:"Name"`
}

// DefaultSite is the lab the camera was commissioned in
var DefaultSite = Site{Latitude: -32.00720, Longitude: 115.89469, Altitude: 50.0, Name: "lab"}

// CameraConfig is what an observation file records about the camera
type CameraConfig struct {
	Exposure   time.Duration
	LowGain    float64
	HighGain   float64
	Site       Site
	Instrument string
	Detector   string
}

// DeviceSnapshot is the state of the camera at one instant
type DeviceSnapshot struct {
	Capabilities        Capabilities  `json:"capabilities"`
	PixelConfig         PixelConfig   `json:"pixelConfig"`
	HDR                 bool          `json:"hdr"`
	ImageArea           ImageArea     `json:"imageArea"`
	Exposure            Exposure      `json:"exposure"`
	Trigger             TriggerConfig `json:"trigger"`
	TemperatureSetpoint float64       `json:"temperatureSetpoint"`
	Temperatures        Temperatures  `json:"temperatures"`
	SensorTemperature   int32         `json:"sensorTemperature"`
	LowGainIndex        uint32        `json:"lowGainIndex"`
	HighGainIndex       uint32        `json:"highGainIndex"`
	LowGain             float64       `json:"lowGain"`
	HighGain            float64       `json:"highGain"`
}

// Channels is the number of gain channels in each frame
func (s DeviceSnapshot) Channels() int {
	if s.HDR {
		return 2
	}
	return 1
}

// Geometry is the frame geometry implied by the snapshot
func (s DeviceSnapshot) Geometry() Geometry {
	return Geometry{
		Width:        int(s.ImageArea.Width),
		Height:       int(s.ImageArea.Height),
		Channels:     s.Channels(),
		MetadataSize: int(s.Capabilities.MetaDataSize)}
}

// Config builds the observation record for a site
func (s DeviceSnapshot) Config(site Site) CameraConfig {
	return CameraConfig{
		Exposure:   s.Exposure.Time,
		LowGain:    s.LowGain,
		HighGain:   s.HighGain,
		Site:       site,
		Instrument: Instrument,
		Detector:   Detector}
}

// Report writes a human readable summary of the snapshot to w
func (s DeviceSnapshot) Report(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	c := s.Capabilities
	lines := []struct {
		k string
		v interface{}
	}{
		{"device type", c.DeviceType},
		{"max image size", fmt.Sprintf("%dx%d", c.MaxPixelImageWidth, c.MaxPixelImageHeight)},
		{"metadata size", c.MetaDataSize},
		{"gain table sizes (low/high)", fmt.Sprintf("%d/%d", c.LowGain, c.HighGain)},
		{"image area", fmt.Sprintf("%d,%d %dx%d", s.ImageArea.ColOffset, s.ImageArea.RowOffset, s.ImageArea.Width, s.ImageArea.Height)},
		{"pixel depth/lsb", fmt.Sprintf("%d/%d", s.PixelConfig.Depth, s.PixelConfig.LSB)},
		{"HDR", s.HDR},
		{"exposure", s.Exposure.Time},
		{"frame delay", s.Exposure.FrameDelay},
		{"external trigger", s.Trigger.Enabled},
		{"trigger type", s.Trigger.Type},
		{"low gain", fmt.Sprintf("%.3f (device index %d)", s.LowGain, s.LowGainIndex)},
		{"high gain", fmt.Sprintf("%.3f (device index %d)", s.HighGain, s.HighGainIndex)},
		{"setpoint [C]", s.TemperatureSetpoint},
		{"temperatures [C]", fmt.Sprintf("ambient %.2f base %.2f cooler %.2f", s.Temperatures.Ambient, s.Temperatures.Base, s.Temperatures.Cooler)},
		{"sensor temperature", s.SensorTemperature},
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(tw, "%s\t%v\n", l.k, l.v); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// Camera layers verified configuration on top of a Device
type Camera struct {
	Device Device
}

// NewCamera wraps a device
func NewCamera(d Device) *Camera {
	return &Camera{Device: d}
}

// Snapshot reads the state of the camera
func (c *Camera) Snapshot() (DeviceSnapshot, error) {
	var (
		s   DeviceSnapshot
		err error
	)
	d := c.Device
	if s.Capabilities, err = d.Capabilities(); err != nil {
		return s, err
	}
	if s.PixelConfig, err = d.PixelConfig(); err != nil {
		return s, err
	}
	if s.HDR, err = d.HDREnabled(); err != nil {
		return s, err
	}
	if s.ImageArea, err = d.ImageArea(); err != nil {
		return s, err
	}
	if s.Exposure, err = d.Exposure(); err != nil {
		return s, err
	}
	if s.Trigger, err = d.ExternalTrigger(); err != nil {
		return s, err
	}
	if s.TemperatureSetpoint, err = d.TemperatureSetpoint(); err != nil {
		return s, err
	}
	if s.Temperatures, err = d.Temperatures(); err != nil {
		return s, err
	}
	if s.SensorTemperature, err = d.SensorTemperature(); err != nil {
		return s, err
	}
	if s.LowGainIndex, s.LowGain, err = c.gain(LowGainTable); err != nil {
		return s, err
	}
	s.HighGainIndex, s.HighGain, err = c.gain(HighGainTable)
	return s, err
}

// Gain returns the calibrated gain currently in use on a channel
func (c *Camera) Gain(ch GainChannel) (float64, error) {
	_, g, err := c.gain(ch)
	return g, err
}

func (c *Camera) gain(ch GainChannel) (uint32, float64, error) {
	idx, err := c.Device.GainIndex(ch)
	if err != nil {
		return 0, 0, err
	}
	table, err := c.Device.GainTable(ch)
	if err != nil {
		return idx, 0, err
	}
	for _, e := range table {
		if e.DeviceIndex == idx {
			return idx, e.Gain(), nil
		}
	}
	return idx, 0, &ConfigurationError{
		Param: ch.String() + " gain",
		Msg:   fmt.Sprintf("device index %d is not in the gain table", idx)}
}

// SetGain selects entry idx of a channel's gain table and returns its
// calibrated value
func (c *Camera) SetGain(ch GainChannel, idx int) (float64, error) {
	table, err := c.Device.GainTable(ch)
	if err != nil {
		return 0, err
	}
	if idx < 0 || idx >= len(table) {
		return 0, &ConfigurationError{
			Param: ch.String() + " gain",
			Msg:   fmt.Sprintf("index %d out of range [0,%d)", idx, len(table))}
	}
	e := table[idx]
	if err = c.Device.SetGainIndex(ch, e.DeviceIndex); err != nil {
		return 0, err
	}
	return e.Gain(), nil
}

// SetExposure sets the exposure time, keeping the frame delay, and verifies the
// camera accepted it to within 1%
func (c *Camera) SetExposure(t time.Duration) error {
	e, err := c.Device.Exposure()
	if err != nil {
		return err
	}
	e.Time = t
	if err = c.Device.SetExposure(e); err != nil {
		return err
	}
	rb, err := c.Device.Exposure()
	if err != nil {
		return err
	}
	return checkReadback("exposure", t, rb.Time)
}

// SetFrameDelay sets the delay between frames, keeping the exposure time, and
// verifies the camera accepted it to within 1%
func (c *Camera) SetFrameDelay(t time.Duration) error {
	e, err := c.Device.Exposure()
	if err != nil {
		return err
	}
	e.FrameDelay = t
	if err = c.Device.SetExposure(e); err != nil {
		return err
	}
	rb, err := c.Device.Exposure()
	if err != nil {
		return err
	}
	return checkReadback("frame delay", t, rb.FrameDelay)
}

func checkReadback(param string, want, got time.Duration) error {
	diff := math.Abs(float64(got - want))
	if diff > exposureTolerance*float64(want) {
		return &ConfigurationError{
			Param: param,
			Msg:   fmt.Sprintf("requested %v, camera reports %v", want, got)}
	}
	return nil
}

// TemperatureSetpoint returns the cooler setpoint in Celsius
func (c *Camera) TemperatureSetpoint() (float64, error) {
	return c.Device.TemperatureSetpoint()
}

// Temperatures returns the ambient, base, and cooler temperatures
func (c *Camera) Temperatures() (Temperatures, error) {
	return c.Device.Temperatures()
}

// SetTemperatureSetpoint sets the cooler setpoint and verifies it reads back
func (c *Camera) SetTemperatureSetpoint(celsius float64) error {
	if err := c.Device.SetTemperatureSetpoint(celsius); err != nil {
		return err
	}
	rb, err := c.Device.TemperatureSetpoint()
	if err != nil {
		return err
	}
	if rb != celsius {
		return &ConfigurationError{
			Param: "temperature setpoint",
			Msg:   fmt.Sprintf("requested %v, camera reports %v", celsius, rb)}
	}
	return nil
}

// SetShutter opens or closes the shutter, taking user control of it if needed
func (c *Camera) SetShutter(open bool) error {
	override, err := c.Device.ShutterOverride()
	if err != nil {
		return err
	}
	if !override {
		if err = c.Device.SetShutterOverride(true); err != nil {
			return err
		}
	}
	return c.Device.SetShutterOpen(open)
}

// Trigger returns the external trigger configuration
func (c *Camera) Trigger() (TriggerConfig, error) {
	return c.Device.ExternalTrigger()
}

// SetTrigger sets the external trigger configuration
func (c *Camera) SetTrigger(t TriggerConfig) error {
	if t.Type < FallingEdge || t.Type > ExposeActiveHigh {
		return &ConfigurationError{Param: "trigger type", Msg: fmt.Sprintf("unknown type %d", t.Type)}
	}
	return c.Device.SetExternalTrigger(t)
}

// Modes lists the camera modes and the index of the current one
func (c *Camera) Modes() ([]Mode, uint32, error) {
	return c.Device.Modes()
}

// SetMode selects a camera mode by index
func (c *Camera) SetMode(idx uint32) error {
	modes, _, err := c.Device.Modes()
	if err != nil {
		return err
	}
	if int(idx) >= len(modes) {
		return &ConfigurationError{Param: "mode", Msg: fmt.Sprintf("index %d out of range [0,%d)", idx, len(modes))}
	}
	return c.Device.SetMode(idx)
}

// ReportModes writes the list of modes to w, marking the current one
func (c *Camera) ReportModes(w io.Writer) error {
	modes, cur, err := c.Device.Modes()
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, m := range modes {
		mark := " "
		if m.Index == cur {
			mark = "*"
		}
		fmt.Fprintf(&b, "%s %2d %s\n", mark, m.Index, m.Name)
	}
	_, err = io.WriteString(w, b.String())
	return err
}

// PrepareFullSensor enables image data and reads out the whole sensor
func (c *Camera) PrepareFullSensor() error {
	caps, err := c.Device.Capabilities()
	if err != nil {
		return err
	}
	if err = c.Device.SetImageDataEnable(true); err != nil {
		return err
	}
	return c.Device.SetImageArea(ImageArea{Width: caps.MaxPixelImageWidth, Height: caps.MaxPixelImageHeight})
}
