package kepler

import (
	"encoding/binary"
	"sync"
	"time"
)

// SimDevice is an in-memory Device.  It produces synthetic dual-gain frames and
// records the driver calls made against it.
type SimDevice struct {
	sync.Mutex

	caps     Capabilities
	low      []GainEntry
	high     []GainEntry
	lowIdx   uint32
	highIdx  uint32
	exposure Exposure
	trigger  TriggerConfig
	setpoint float64
	temps    Temperatures
	hdr      bool
	area     ImageArea
	dataOn   bool
	override bool
	shutter  bool
	modes    []Mode
	mode     uint32

	capturing bool
	remaining uint32
	frame     int

	// Calls is the sequence of driver calls made, by name
	Calls []string

	// Fail maps driver call names to the status they should fail with
	Fail map[string]int

	// Short lists frame numbers (0-based, counted across captures) which are
	// delivered truncated
	Short map[int]bool

	// Skew scales the exposure and frame delay the camera reads back
	Skew float64

	// ReadoutTime is how long each frame retrieval blocks
	ReadoutTime time.Duration
}

// NewSimDevice returns a simulated camera with a width x height HDR sensor
// and a metadataSize byte frame header
func NewSimDevice(width, height, metadataSize int) *SimDevice {
	low := make([]GainEntry, 32)
	for i := range low {
		low[i] = GainEntry{Value: uint32(i) * 200, DeviceIndex: uint32(i)}
	}
	high := make([]GainEntry, 64)
	for i := range high {
		high[i] = GainEntry{Value: 1000 + uint32(i)*270, DeviceIndex: uint32(i + 64)}
	}
	return &SimDevice{
		caps: Capabilities{
			DeviceType:          0x4040,
			MaxPixelImageWidth:  uint32(width),
			MaxPixelImageHeight: uint32(height),
			LowGain:             uint32(len(low)),
			HighGain:            uint32(len(high)),
			MetaDataSize:        uint32(metadataSize)},
		low:      low,
		high:     high,
		lowIdx:   low[DefaultLowGainIndex].DeviceIndex,
		highIdx:  high[DefaultHighGainIndex].DeviceIndex,
		exposure: Exposure{Time: DefaultExposure},
		setpoint: -10,
		temps:    Temperatures{Ambient: 22.5, Base: 24.1, Cooler: -9.8},
		hdr:      true,
		area:     ImageArea{Width: uint32(width), Height: uint32(height)},
		modes: []Mode{
			{Index: 0, Name: "HDR 12bit", Default: true},
			{Index: 1, Name: "LDR 12bit"}},
		Skew: 1}
}

// call records op and returns its injected failure, if any
func (s *SimDevice) call(op string) error {
	s.Calls = append(s.Calls, op)
	if status, ok := s.Fail[op]; ok {
		return &DeviceError{Op: op, Status: status}
	}
	return nil
}

// Called returns true if op was called at least once
func (s *SimDevice) Called(op string) bool {
	s.Lock()
	defer s.Unlock()
	for _, c := range s.Calls {
		if c == op {
			return true
		}
	}
	return false
}

func (s *SimDevice) Capabilities() (Capabilities, error) {
	s.Lock()
	defer s.Unlock()
	return s.caps, s.call("FPROSensor_GetCapabilities")
}

func (s *SimDevice) table(ch GainChannel) []GainEntry {
	if ch == HighGainTable {
		return s.high
	}
	return s.low
}

func (s *SimDevice) GainTable(ch GainChannel) ([]GainEntry, error) {
	s.Lock()
	defer s.Unlock()
	t := s.table(ch)
	out := make([]GainEntry, len(t))
	copy(out, t)
	return out, s.call("FPROSensor_GetGainTable")
}

func (s *SimDevice) GainIndex(ch GainChannel) (uint32, error) {
	s.Lock()
	defer s.Unlock()
	if ch == HighGainTable {
		return s.highIdx, s.call("FPROSensor_GetGainIndex")
	}
	return s.lowIdx, s.call("FPROSensor_GetGainIndex")
}

func (s *SimDevice) SetGainIndex(ch GainChannel, idx uint32) error {
	s.Lock()
	defer s.Unlock()
	if err := s.call("FPROSensor_SetGainIndex"); err != nil {
		return err
	}
	if ch == HighGainTable {
		s.highIdx = idx
	} else {
		s.lowIdx = idx
	}
	return nil
}

func (s *SimDevice) Exposure() (Exposure, error) {
	s.Lock()
	defer s.Unlock()
	e := s.exposure
	e.Time = time.Duration(float64(e.Time) * s.Skew)
	e.FrameDelay = time.Duration(float64(e.FrameDelay) * s.Skew)
	return e, s.call("FPROCtrl_GetExposure")
}

func (s *SimDevice) SetExposure(e Exposure) error {
	s.Lock()
	defer s.Unlock()
	if err := s.call("FPROCtrl_SetExposure"); err != nil {
		return err
	}
	s.exposure = e
	return nil
}

func (s *SimDevice) ExternalTrigger() (TriggerConfig, error) {
	s.Lock()
	defer s.Unlock()
	return s.trigger, s.call("FPROCtrl_GetExternalTriggerEnable")
}

func (s *SimDevice) SetExternalTrigger(t TriggerConfig) error {
	s.Lock()
	defer s.Unlock()
	if err := s.call("FPROCtrl_SetExternalTriggerEnable"); err != nil {
		return err
	}
	s.trigger = t
	return nil
}

func (s *SimDevice) CaptureStart(frames uint32) error {
	s.Lock()
	defer s.Unlock()
	if err := s.call("FPROFrame_CaptureStart"); err != nil {
		return err
	}
	s.capturing = true
	s.remaining = frames
	return nil
}

func (s *SimDevice) CaptureStop() error {
	s.Lock()
	defer s.Unlock()
	if err := s.call("FPROFrame_CaptureStop"); err != nil {
		return err
	}
	s.capturing = false
	return nil
}

func (s *SimDevice) CaptureEnd() error {
	s.Lock()
	defer s.Unlock()
	if err := s.call("FPROFrame_CaptureEnd"); err != nil {
		return err
	}
	s.capturing = false
	return nil
}

func (s *SimDevice) GetVideoFrame(buf []byte, timeout time.Duration) (int, error) {
	s.Lock()
	defer s.Unlock()
	if err := s.call("FPROFrame_GetVideoFrame"); err != nil {
		return 0, err
	}
	if !s.capturing || s.remaining == 0 {
		// nothing will arrive, the driver times out
		return 0, &DeviceError{Op: "FPROFrame_GetVideoFrame", Status: -1}
	}
	s.remaining--
	return s.fill(buf), nil
}

func (s *SimDevice) GetVideoFrameExt(buf []byte) (int, error) {
	s.Lock()
	defer s.Unlock()
	if err := s.call("FPROFrame_GetVideoFrameExt"); err != nil {
		return 0, err
	}
	return s.fill(buf), nil
}

// fill writes the next synthetic frame into buf
func (s *SimDevice) fill(buf []byte) int {
	time.Sleep(s.ReadoutTime)
	n := s.frame
	s.frame++
	w, h := int(s.area.Width), int(s.area.Height)
	channels := 1
	if s.hdr {
		channels = 2
	}
	size := int(s.caps.MetaDataSize) + PayloadSize(w, h, channels)
	if size > len(buf) {
		size = len(buf)
	}
	meta := make([]byte, s.caps.MetaDataSize)
	if len(meta) >= 4 {
		binary.BigEndian.PutUint32(meta, uint32(n))
	}
	imgs := make([]ChannelImage, channels)
	for c := range imgs {
		imgs[c] = SimImage(Channel(c), w, h, n)
	}
	frame := append(meta, Pack(imgs...)...)
	copy(buf, frame)
	if s.Short[n] {
		return size / 2
	}
	return size
}

// SimImage is the synthetic image a SimDevice sends on channel c of frame n
func SimImage(c Channel, width, height, n int) ChannelImage {
	img := ChannelImage{Channel: c, Width: width, Height: height, Pix: make([]uint16, width*height)}
	gain := uint16(1)
	if c == High {
		gain = 4
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Pix[y*width+x] = (uint16(x+y+n) * gain) & 0x0FFF
		}
	}
	return img
}

func (s *SimDevice) TemperatureSetpoint() (float64, error) {
	s.Lock()
	defer s.Unlock()
	return s.setpoint, s.call("FPROCtrl_GetTemperatureSetPoint")
}

func (s *SimDevice) SetTemperatureSetpoint(c float64) error {
	s.Lock()
	defer s.Unlock()
	if err := s.call("FPROCtrl_SetTemperatureSetPoint"); err != nil {
		return err
	}
	s.setpoint = c
	return nil
}

func (s *SimDevice) Temperatures() (Temperatures, error) {
	s.Lock()
	defer s.Unlock()
	return s.temps, s.call("FPROCtrl_GetTemperatures")
}

func (s *SimDevice) SensorTemperature() (int32, error) {
	s.Lock()
	defer s.Unlock()
	return int32(s.temps.Cooler), s.call("FPROCtrl_GetSensorTemperature")
}

func (s *SimDevice) PixelConfig() (PixelConfig, error) {
	s.Lock()
	defer s.Unlock()
	return PixelConfig{Depth: 12, LSB: 0}, s.call("FPROFrame_GetPixelConfig")
}

func (s *SimDevice) HDREnabled() (bool, error) {
	s.Lock()
	defer s.Unlock()
	return s.hdr, s.call("FPROSensor_GetHDREnable")
}

// SetHDR switches the simulated sensor between dual and single gain frames
func (s *SimDevice) SetHDR(b bool) {
	s.Lock()
	defer s.Unlock()
	s.hdr = b
}

func (s *SimDevice) ImageArea() (ImageArea, error) {
	s.Lock()
	defer s.Unlock()
	return s.area, s.call("FPROFrame_GetImageArea")
}

func (s *SimDevice) SetImageArea(a ImageArea) error {
	s.Lock()
	defer s.Unlock()
	if err := s.call("FPROFrame_SetImageArea"); err != nil {
		return err
	}
	s.area = a
	return nil
}

func (s *SimDevice) SetImageDataEnable(b bool) error {
	s.Lock()
	defer s.Unlock()
	if err := s.call("FPROFrame_SetImageDataEnable"); err != nil {
		return err
	}
	s.dataOn = b
	return nil
}

func (s *SimDevice) ShutterOverride() (bool, error) {
	s.Lock()
	defer s.Unlock()
	return s.override, s.call("FPROCtrl_GetShutterOverride")
}

func (s *SimDevice) SetShutterOverride(b bool) error {
	s.Lock()
	defer s.Unlock()
	if err := s.call("FPROCtrl_SetShutterOverride"); err != nil {
		return err
	}
	s.override = b
	return nil
}

func (s *SimDevice) SetShutterOpen(b bool) error {
	s.Lock()
	defer s.Unlock()
	if err := s.call("FPROCtrl_SetShutterOpen"); err != nil {
		return err
	}
	s.shutter = b
	return nil
}

// ShutterOpen returns true if the simulated shutter is open
func (s *SimDevice) ShutterOpen() bool {
	s.Lock()
	defer s.Unlock()
	return s.shutter
}

func (s *SimDevice) Modes() ([]Mode, uint32, error) {
	s.Lock()
	defer s.Unlock()
	out := make([]Mode, len(s.modes))
	copy(out, s.modes)
	return out, s.mode, s.call("FPROSensor_GetModeCount")
}

func (s *SimDevice) SetMode(idx uint32) error {
	s.Lock()
	defer s.Unlock()
	if err := s.call("FPROSensor_SetMode"); err != nil {
		return err
	}
	s.mode = idx
	return nil
}

func (s *SimDevice) Close() error {
	s.Lock()
	defer s.Unlock()
	s.capturing = false
	return s.call("FPROCam_Close")
}
