/*Package grab runs captures end to end: it arms a session, retrieves and decodes
frames, timestamps them, and writes the low and high gain images along with the
optional metadata sidecars.

Frames that arrive with the wrong size are logged and skipped.  Any other error
ends the run; files already written stay on disk.
*/
package grab

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/snksoft/crc"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.jpl.nasa.gov/bdube/kepler/imgrec"
	"github.jpl.nasa.gov/bdube/kepler/kepler"
	"github.jpl.nasa.gov/bdube/kepler/obsfits"
)

var crcTable = crc.NewTable(crc.XMODEM)

// checksum computes the XMODEM CRC of a metadata header
func checksum(buf []byte) uint16 {
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, buf)
	return crcTable.CRC16(c)
}

// Frame describes one frame of a run
type Frame struct {
	// Index is the frame number within the run, -1 for a single grab
	Index int `json:"index"`

	// Timestamp is the derived exposure start
	Timestamp time.Time `json:"timestamp"`

	// Files are the FITS files written, low gain first
	Files []string `json:"files"`

	// Meta is the metadata sidecar, if one was written
	Meta string `json:"meta,omitempty"`

	// MetaCRC is the XMODEM CRC of the metadata header
	MetaCRC uint16 `json:"metaCrc"`

	// Dropped is true if the frame was received with the wrong size and skipped
	Dropped bool `json:"dropped"`
}

// Capture is a decoded frame held in memory
type Capture struct {
	Images    []kepler.ChannelImage
	Config    kepler.CameraConfig
	Timestamp kepler.ObservationTimestamp
	Metadata  []byte
}

// Runner captures frames from a camera to disk.  Runs are serialized.
type Runner struct {
	mu sync.Mutex

	Camera   *kepler.Camera
	Recorder *imgrec.Recorder
	Writer   *obsfits.Writer

	// Site is recorded in every file
	Site kepler.Site

	// Trigger is applied to the camera at the start of every run and decides
	// whether the run waits on external pulses.  Finishing an external run
	// disables the trigger on the camera, so the device is not consulted.
	// Use SetTrigger once runs may be in progress.
	Trigger kepler.TriggerConfig

	// Log receives progress.  A nil Log discards it
	Log *zap.SugaredLogger

	// Waiting is called before blocking on each externally triggered frame
	Waiting func(idx int)

	// Now overrides the session clock, if not nil
	Now func() time.Time
}

func (r *Runner) log() *zap.SugaredLogger {
	if r.Log == nil {
		return zap.NewNop().Sugar()
	}
	return r.Log
}

// SetTrigger applies t to the camera and keeps it for the runs that follow
func (r *Runner) SetTrigger(t kepler.TriggerConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.Camera.SetTrigger(t); err != nil {
		return err
	}
	r.Trigger = t
	return nil
}

// TriggerConfig returns the trigger applied to each run
func (r *Runner) TriggerConfig() kepler.TriggerConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Trigger
}

// session prepares the sensor, re-arms the trigger, and opens a session
// matching the camera's configuration
func (r *Runner) session() (*kepler.Session, kepler.CameraConfig, error) {
	if err := r.Camera.PrepareFullSensor(); err != nil {
		return nil, kepler.CameraConfig{}, errors.Wrap(err, "preparing sensor")
	}
	if err := r.Camera.SetTrigger(r.Trigger); err != nil {
		return nil, kepler.CameraConfig{}, errors.Wrap(err, "applying trigger")
	}
	snap, err := r.Camera.Snapshot()
	if err != nil {
		return nil, kepler.CameraConfig{}, errors.Wrap(err, "reading camera configuration")
	}
	s := kepler.NewSession(r.Camera.Device, snap.Geometry(), kepler.DisciplineOf(r.Trigger))
	if r.Now != nil {
		s.Now = r.Now
	}
	return s, snap.Config(r.Site), nil
}

// finish finishes s unless it aborted, folding any error into err
func finish(s *kepler.Session, err *error) {
	if s.State() == kepler.Aborted {
		return
	}
	*err = multierr.Append(*err, s.Finish())
}

// GrabImages captures n frames.  The frames written are returned even when
// the run fails partway.
func (r *Runner) GrabImages(n int) (frames []Frame, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, cfg, err := r.session()
	if err != nil {
		return nil, err
	}
	log := r.log()
	log.Infow("starting run", "frames", n, "trigger", s.Discipline(), "exposure", cfg.Exposure)
	if err = s.Arm(uint32(n)); err != nil {
		return nil, errors.Wrap(err, "arming capture")
	}
	defer finish(s, &err)

	for i := 0; i < n; i++ {
		f, ferr := r.one(s, i, cfg)
		if ferr != nil {
			var fsm *kepler.FrameSizeMismatch
			if errors.As(ferr, &fsm) {
				log.Warnw("dropping frame", "index", i, "expected", fsm.Expected, "actual", fsm.Actual)
				frames = append(frames, Frame{Index: i, Dropped: true})
				continue
			}
			return frames, errors.Wrapf(ferr, "frame %d", i)
		}
		frames = append(frames, f)
	}
	log.Infow("run complete", "frames", len(frames))
	return frames, nil
}

// GrabImage captures a single frame.  Its files carry no frame index.
func (r *Runner) GrabImage() (frame Frame, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, cfg, err := r.session()
	if err != nil {
		return Frame{}, err
	}
	if err = s.Arm(1); err != nil {
		return Frame{}, errors.Wrap(err, "arming capture")
	}
	defer finish(s, &err)
	frame, err = r.one(s, -1, cfg)
	return frame, err
}

// Capture retrieves and decodes a single frame without writing it anywhere
func (r *Runner) Capture() (c Capture, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, cfg, err := r.session()
	if err != nil {
		return Capture{}, err
	}
	if err = s.Arm(1); err != nil {
		return Capture{}, errors.Wrap(err, "arming capture")
	}
	defer finish(s, &err)
	r.wait(s, 0)
	raw, err := s.RetrieveOne()
	if err != nil {
		return Capture{}, err
	}
	g := s.Geometry()
	c.Images = kepler.Unpack(raw.Payload(), g.Width, g.Height, g.Channels)
	c.Config = cfg
	c.Timestamp = kepler.DeriveTimestamp(raw.ReadoutCompletedAt, cfg.Exposure, s.Discipline())
	c.Metadata = append([]byte(nil), raw.Metadata()...)
	return c, nil
}

func (r *Runner) wait(s *kepler.Session, idx int) {
	if s.Discipline() == kepler.External && r.Waiting != nil {
		r.Waiting(idx)
	}
}

// one retrieves, decodes, and writes one frame
func (r *Runner) one(s *kepler.Session, idx int, cfg kepler.CameraConfig) (Frame, error) {
	r.wait(s, idx)
	raw, err := s.RetrieveOne()
	if err != nil {
		return Frame{Index: idx}, err
	}
	ts := kepler.DeriveTimestamp(raw.ReadoutCompletedAt, cfg.Exposure, s.Discipline())
	g := s.Geometry()
	imgs := kepler.Unpack(raw.Payload(), g.Width, g.Height, g.Channels)

	fr := Frame{Index: idx, Timestamp: ts.Time, MetaCRC: checksum(raw.Metadata())}
	stem := r.Recorder.Stem(idx, ts)
	if err = imgrec.MkDir(stem); err != nil {
		return fr, err
	}
	for _, img := range imgs {
		path := imgrec.ImagePath(stem, img.Channel)
		if err = r.Writer.Write(path, g.Width, g.Height, img, img.Channel, cfg, ts); err != nil {
			return fr, err
		}
		fr.Files = append(fr.Files, path)
	}
	if r.Recorder.Sidecars() {
		path := imgrec.MetaPath(stem)
		if err = imgrec.WriteSidecar(path, raw.Metadata()); err != nil {
			return fr, err
		}
		fr.Meta = path
	}
	r.log().Infow("frame written",
		"index", idx,
		"obstime", ts.ISO(),
		"files", fr.Files,
		"metaCrc", fmt.Sprintf("%04x", fr.MetaCRC))
	return fr, nil
}
