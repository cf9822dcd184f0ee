package kepler

import (
	"time"
)

// State is the state of a capture session
type State int

const (
	// Idle is a new session
	Idle State = iota

	// Armed is a session that is ready to retrieve frames
	Armed

	// Retrieving is a session that has retrieved at least one frame
	Retrieving

	// Stopped is a session that finished normally
	Stopped

	// Aborted is a session that saw a device error
	Aborted
)

var stateNames = map[State]string{
	Idle:       "Idle",
	Armed:      "Armed",
	Retrieving: "Retrieving",
	Stopped:    "Stopped",
	Aborted:    "Aborted",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "Unknown"
}

// Geometry is the shape of the frames a session retrieves
type Geometry struct {
	Width        int
	Height       int
	Channels     int
	MetadataSize int
}

// FrameSize is the number of bytes the device sends per frame
func (g Geometry) FrameSize() int {
	return g.MetadataSize + PayloadSize(g.Width, g.Height, g.Channels)
}

// RawFrame is a frame as received from the device.  It aliases the session's
// buffer and is invalidated by the next retrieval.
type RawFrame struct {
	// Data is the metadata header followed by the packed pixel payload
	Data []byte

	// MetadataSize is the length of the header at the front of Data
	MetadataSize int

	// ReadoutCompletedAt is the wall clock time the frame was received
	ReadoutCompletedAt time.Time
}

// Metadata is the opaque header of the frame
func (f RawFrame) Metadata() []byte {
	return f.Data[:f.MetadataSize]
}

// Payload is the packed pixel data of the frame
func (f RawFrame) Payload() []byte {
	return f.Data[f.MetadataSize:]
}

// Session sequences a capture against a Device.  It is not safe for concurrent
// use; each camera needs its own session.
type Session struct {
	dev        Device
	geom       Geometry
	discipline TriggerDiscipline
	state      State
	buf        []byte

	// Now is the clock sampled when a frame is received.  Defaults to time.Now
	Now func() time.Time
}

// NewSession creates a new idle session
func NewSession(dev Device, geom Geometry, discipline TriggerDiscipline) *Session {
	return &Session{
		dev:        dev,
		geom:       geom,
		discipline: discipline,
		buf:        make([]byte, geom.FrameSize()),
		Now:        time.Now}
}

// State returns the current state of the session
func (s *Session) State() State {
	return s.state
}

// Geometry returns the geometry the session was created with
func (s *Session) Geometry() Geometry {
	return s.geom
}

// Discipline returns the trigger discipline of the session
func (s *Session) Discipline() TriggerDiscipline {
	return s.discipline
}

// Arm prepares the device to capture frameCount frames.  With internal
// triggering this starts the capture; with external triggering the device
// waits on the trigger input and nothing is sent.
func (s *Session) Arm(frameCount uint32) error {
	if s.state != Idle {
		return &StateError{Op: "arm", State: s.state}
	}
	if s.discipline == Internal {
		if err := s.dev.CaptureStart(frameCount); err != nil {
			return s.abort(err)
		}
	}
	s.state = Armed
	return nil
}

// RetrieveOne blocks until the device delivers a frame.  A frame of the wrong
// size is dropped and reported as a *FrameSizeMismatch without changing the
// state of the session.  Any error from the device aborts the session.
func (s *Session) RetrieveOne() (RawFrame, error) {
	if s.state != Armed && s.state != Retrieving {
		return RawFrame{}, &StateError{Op: "retrieve", State: s.state}
	}
	var (
		n   int
		err error
	)
	if s.discipline == External {
		n, err = s.dev.GetVideoFrameExt(s.buf)
	} else {
		n, err = s.dev.GetVideoFrame(s.buf, 0)
	}
	if err != nil {
		return RawFrame{}, s.abort(err)
	}
	t := s.Now()
	s.state = Retrieving
	if expected := len(s.buf); n != expected {
		return RawFrame{}, &FrameSizeMismatch{Expected: expected, Actual: n}
	}
	return RawFrame{Data: s.buf, MetadataSize: s.geom.MetadataSize, ReadoutCompletedAt: t}, nil
}

// Finish returns the device to an idle state.  With internal triggering the
// capture is stopped.  With external triggering the trigger is disabled, keeping
// its configured type.
func (s *Session) Finish() error {
	if s.state != Armed && s.state != Retrieving {
		return &StateError{Op: "finish", State: s.state}
	}
	if s.discipline == Internal {
		if err := s.dev.CaptureStop(); err != nil {
			return s.abort(err)
		}
	} else {
		trig, err := s.dev.ExternalTrigger()
		if err != nil {
			return s.abort(err)
		}
		trig.Enabled = false
		if err := s.dev.SetExternalTrigger(trig); err != nil {
			return s.abort(err)
		}
	}
	s.state = Stopped
	return nil
}

func (s *Session) abort(err error) error {
	s.state = Aborted
	return err
}
