/*Package obsfits writes decoded camera images to FITS files along with the
observation keywords archival needs.

A file is written in this order: the image plane is created, the DATE card is
written, the pixels are written, then the observation keywords.  A failure
partway through leaves whatever was written on disk; nothing is rolled back.
*/
package obsfits

import (
	"os"
	"path/filepath"
	"time"

	"github.jpl.nasa.gov/bdube/kepler/kepler"
)

// File is an open FITS file being written
type File interface {
	// CreateImage creates a 2D unsigned 16-bit image plane
	CreateImage(width, height int) error

	// WriteDate writes the UTC creation date
	WriteDate(time.Time) error

	// WritePixels writes the whole image, row-major
	WritePixels([]uint16) error

	// WriteString writes a string keyword
	WriteString(key, value, comment string) error

	// WriteFloat writes a double keyword
	WriteFloat(key string, value float64, comment string) error

	// Close finishes the file
	Close() error
}

// Backend creates FITS files
type Backend interface {
	// Create creates a new file at path.  It must not replace an existing file.
	Create(path string) (File, error)
}

// Keyword is a FITS header keyword.  Value is a string or a float64.
type Keyword struct {
	Name    string
	Value   interface{}
	Comment string
}

// Keywords is the observation keyword set for an image
func Keywords(filename string, tag kepler.Channel, cfg kepler.CameraConfig, ts kepler.ObservationTimestamp, host string) []Keyword {
	return []Keyword{
		{"FILENAME", filename, "file name as written"},
		{"INSTRUME", cfg.Instrument, "instrument"},
		{"CAMERA", cfg.Instrument, "camera"},
		{"DETNAM", cfg.Detector, "detector"},
		{"OBSTIME", ts.ISO(), "exposure start, UTC"},
		{"EXPOSURE", float64(cfg.Exposure.Nanoseconds()) / 1e9, "[s] exposure time"},
		{"SITELAT", cfg.Site.Latitude, "[deg] site latitude"},
		{"SITELON", cfg.Site.Longitude, "[deg] site longitude"},
		{"SITEALT", cfg.Site.Altitude, "[m] site altitude"},
		{"SITELOC", cfg.Site.Name, "site name"},
		{"TELESCOP", host, "host the camera is attached to"},
		{"HIGHGAIN", cfg.HighGain, "high gain channel gain"},
		{"LOWGAIN", cfg.LowGain, "low gain channel gain"},
		{"LHIMGCH", tag.Tag(), "gain channel of this image"},
	}
}

// Writer writes observation files through a Backend
type Writer struct {
	Backend Backend

	// Hostname names the host for TELESCOP.  Defaults to os.Hostname
	Hostname func() (string, error)

	// Now is the clock used for DATE.  Defaults to time.Now
	Now func() time.Time
}

// NewWriter returns a Writer which writes FITS files with fitsio
func NewWriter() *Writer {
	return &Writer{Backend: FitsBackend{}, Hostname: os.Hostname, Now: time.Now}
}

// Write writes img to a new file at path.  It returns *kepler.AlreadyExists if
// path exists, and *kepler.BackendError if any step of the write fails.
func (w *Writer) Write(path string, width, height int, img kepler.ChannelImage, tag kepler.Channel, cfg kepler.CameraConfig, ts kepler.ObservationTimestamp) error {
	if _, err := os.Stat(path); err == nil {
		return &kepler.AlreadyExists{Path: path}
	}
	host, err := w.hostname()
	if err != nil {
		return &kepler.BackendError{Op: "hostname", Err: err}
	}
	f, err := w.Backend.Create(path)
	if err != nil {
		if os.IsExist(err) {
			return &kepler.AlreadyExists{Path: path}
		}
		return &kepler.BackendError{Op: "create", Err: err}
	}
	kw := Keywords(filepath.Base(path), tag, cfg, ts, host)
	if err = writeObservation(f, width, height, img.Pix, kw, w.now()); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return &kepler.BackendError{Op: "close", Err: err}
	}
	return nil
}

func (w *Writer) hostname() (string, error) {
	if w.Hostname == nil {
		return os.Hostname()
	}
	return w.Hostname()
}

func (w *Writer) now() time.Time {
	if w.Now == nil {
		return time.Now()
	}
	return w.Now()
}

func writeObservation(f File, width, height int, pix []uint16, kw []Keyword, now time.Time) error {
	if err := f.CreateImage(width, height); err != nil {
		return &kepler.BackendError{Op: "create_img", Err: err}
	}
	if err := f.WriteDate(now.UTC()); err != nil {
		return &kepler.BackendError{Op: "write_date", Err: err}
	}
	if err := f.WritePixels(pix); err != nil {
		return &kepler.BackendError{Op: "write_img", Err: err}
	}
	for _, k := range kw {
		var err error
		switch v := k.Value.(type) {
		case string:
			err = f.WriteString(k.Name, v, k.Comment)
		case float64:
			err = f.WriteFloat(k.Name, v, k.Comment)
		}
		if err != nil {
			return &kepler.BackendError{Op: "write_key", Err: err}
		}
	}
	return nil
}
