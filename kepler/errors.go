package kepler

import (
	"fmt"
)

// DeviceError is returned when a call into the camera driver reports a
// negative status.  It is fatal to the session that saw it.
type DeviceError struct {
	// Op is the name of the driver call that failed
	Op string

	// Status is the raw status code returned by the driver
	Status int
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s failed, status=%d", e.Op, e.Status)
}

// FrameSizeMismatch is returned when the number of bytes received for a frame
// does not match the size computed from the sensor geometry.  The frame is
// dropped, but the session may continue.
type FrameSizeMismatch struct {
	Expected int
	Actual   int
}

func (e *FrameSizeMismatch) Error() string {
	return fmt.Sprintf("frame size mismatch: expected %d bytes, got %d", e.Expected, e.Actual)
}

// AlreadyExists is returned instead of overwriting an existing file
type AlreadyExists struct {
	Path string
}

func (e *AlreadyExists) Error() string {
	return fmt.Sprintf("%s already exists, refusing to overwrite", e.Path)
}

// BackendError is returned when the file backend fails during a write.
// Op is one of create, create_img, write_date, write_img, write_key, close.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("fits %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// ConfigurationError is returned when a requested setting is outside what the
// camera supports, or the camera did not accept it
type ConfigurationError struct {
	Param string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Msg)
}

// StateError is returned when a session operation is called in a state that
// does not allow it
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Op, e.State)
}
