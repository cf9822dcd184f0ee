// Package camera provides an HTTP interface to a Kepler camera
package camera

import (
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.jpl.nasa.gov/bdube/kepler/generichttp"
	"github.jpl.nasa.gov/bdube/kepler/generichttp/thermal"
	"github.jpl.nasa.gov/bdube/kepler/grab"
	"github.jpl.nasa.gov/bdube/kepler/imgrec"
	"github.jpl.nasa.gov/bdube/kepler/kepler"
	"github.jpl.nasa.gov/bdube/kepler/obsfits"
	"github.jpl.nasa.gov/bdube/kepler/server"
	"github.jpl.nasa.gov/bdube/kepler/server/middleware/locker"
)

// HTTPCamera wraps a camera and its runner in an HTTP interface.  Requests that
// touch the camera are serialized, and the locker is held for the duration of a
// run so other clients see 423 instead of queueing behind it.
type HTTPCamera struct {
	mu   sync.Mutex
	last grab.Frame

	Camera *kepler.Camera
	Runner *grab.Runner
	Locker *locker.Locker
	Cooler *thermal.Cooler

	RouteTable generichttp.RouteTable
}

// NewHTTPCamera builds the route table for a runner.  The cooler, recorder,
// and locker routes are injected as well.
func NewHTTPCamera(r *grab.Runner, l *locker.Locker) *HTTPCamera {
	h := &HTTPCamera{Camera: r.Camera, Runner: r, Locker: l}
	cam := r.Camera
	rt := generichttp.RouteTable{}
	mp := func(m, p string) generichttp.MethodPath { return generichttp.MethodPath{Method: m, Path: p} }
	rt[mp(http.MethodGet, "/exposure-time")] = h.GetExposureTime
	rt[mp(http.MethodPost, "/exposure-time")] = h.SetDuration(cam.SetExposure)
	rt[mp(http.MethodGet, "/frame-delay")] = h.GetFrameDelay
	rt[mp(http.MethodPost, "/frame-delay")] = h.SetDuration(cam.SetFrameDelay)

	for _, ch := range []kepler.GainChannel{kepler.LowGainTable, kepler.HighGainTable} {
		path := "/gain/" + ch.String()
		rt[mp(http.MethodGet, path)] = generichttp.GetFloat(h.gainGetter(ch))
		rt[mp(http.MethodPost, path)] = generichttp.SetInt(h.gainSetter(ch))
	}

	rt[mp(http.MethodGet, "/trigger")] = h.GetTrigger
	rt[mp(http.MethodPost, "/trigger")] = h.SetTrigger
	rt[mp(http.MethodPost, "/shutter")] = generichttp.SetBool(func(b bool) error {
		return h.do(func() error { return cam.SetShutter(b) })
	})
	rt[mp(http.MethodGet, "/modes")] = h.GetModes
	rt[mp(http.MethodPost, "/mode")] = generichttp.SetInt(func(i int) error {
		return h.do(func() error { return cam.SetMode(uint32(i)) })
	})
	rt[mp(http.MethodGet, "/snapshot")] = h.GetSnapshot
	rt[mp(http.MethodGet, "/frame")] = h.GetFrame
	rt[mp(http.MethodPost, "/grab")] = h.Grab
	rt[mp(http.MethodGet, "/last")] = h.GetLast
	h.RouteTable = rt
	h.Cooler = thermal.NewCooler(cam, h.do)
	h.Cooler.Inject(h)
	imgrec.NewHTTPWrapper(r.Recorder).Inject(h)
	locker.Inject(h, l)
	return h
}

// RT satisfies generichttp.HTTPer
func (h *HTTPCamera) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h *HTTPCamera) do(fcn func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fcn()
}

func (h *HTTPCamera) exposure() (kepler.Exposure, error) {
	var e kepler.Exposure
	err := h.do(func() error {
		var err error
		e, err = h.Camera.Device.Exposure()
		return err
	})
	return e, err
}

// GetExposureTime returns the exposure time in seconds as {'f64': value}
func (h *HTTPCamera) GetExposureTime(w http.ResponseWriter, r *http.Request) {
	generichttp.GetFloat(func() (float64, error) {
		e, err := h.exposure()
		return e.Time.Seconds(), err
	})(w, r)
}

// GetFrameDelay returns the frame delay in seconds as {'f64': value}
func (h *HTTPCamera) GetFrameDelay(w http.ResponseWriter, r *http.Request) {
	generichttp.GetFloat(func() (float64, error) {
		e, err := h.exposure()
		return e.FrameDelay.Seconds(), err
	})(w, r)
}

// SetDuration builds a handler that sets a duration.
// it can be provided either as a query parameter value, formatted in a
// way that is parseable by golang/time.ParseDuration, or a json payload with
// key f64, holding the duration in seconds.
func (h *HTTPCamera) SetDuration(fcn func(time.Duration) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			d   time.Duration
			err error
		)
		if v := r.URL.Query().Get("value"); v != "" {
			d, err = time.ParseDuration(v)
		} else {
			f := server.FloatT{}
			err = json.NewDecoder(r.Body).Decode(&f)
			defer r.Body.Close()
			d = time.Duration(f.F64 * 1e9)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err = h.do(func() error { return fcn(d) }); err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (h *HTTPCamera) gainGetter(ch kepler.GainChannel) func() (float64, error) {
	return func() (float64, error) {
		var g float64
		err := h.do(func() error {
			var err error
			g, err = h.Camera.Gain(ch)
			return err
		})
		return g, err
	}
}

func (h *HTTPCamera) gainSetter(ch kepler.GainChannel) func(int) error {
	return func(idx int) error {
		return h.do(func() error {
			_, err := h.Camera.SetGain(ch, idx)
			return err
		})
	}
}

// GetTrigger returns the trigger configuration applied to each capture as JSON
func (h *HTTPCamera) GetTrigger(w http.ResponseWriter, r *http.Request) {
	generichttp.ReplyJSON(w, h.Runner.TriggerConfig())
}

// SetTrigger sets the trigger configuration from {'enabled': bool, 'type': int}
func (h *HTTPCamera) SetTrigger(w http.ResponseWriter, r *http.Request) {
	t := kepler.TriggerConfig{}
	err := json.NewDecoder(r.Body).Decode(&t)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.do(func() error { return h.Runner.SetTrigger(t) }); err != nil {
		generichttp.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetModes returns the list of modes and the current mode as JSON
func (h *HTTPCamera) GetModes(w http.ResponseWriter, r *http.Request) {
	var resp struct {
		Modes   []kepler.Mode `json:"modes"`
		Current uint32        `json:"current"`
	}
	err := h.do(func() error {
		var err error
		resp.Modes, resp.Current, err = h.Camera.Modes()
		return err
	})
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.ReplyJSON(w, resp)
}

// GetSnapshot returns the full state of the camera as JSON
func (h *HTTPCamera) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	var s kepler.DeviceSnapshot
	err := h.do(func() error {
		var err error
		s, err = h.Camera.Snapshot()
		return err
	})
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.ReplyJSON(w, s)
}

func parseChannel(s string) (kepler.Channel, error) {
	switch strings.ToUpper(s) {
	case "", "L":
		return kepler.Low, nil
	case "H":
		return kepler.High, nil
	}
	return 0, &kepler.ConfigurationError{Param: "channel", Msg: fmt.Sprintf("%q is not L or H", s)}
}

// GetFrame takes a picture and returns one channel of it on a GET request.
//
// the channel is given by the ch query parameter, L or H; default to L.
// the image format may be specified in the fmt query parameter, one of
// fits, png, or jpg; default to fits.  Nothing is written to disk.
func (h *HTTPCamera) GetFrame(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ch, err := parseChannel(q.Get("ch"))
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	if !h.Locker.TryLock() {
		w.WriteHeader(http.StatusLocked)
		return
	}
	defer h.Locker.Unlock()
	var c grab.Capture
	err = h.do(func() error {
		var err error
		c, err = h.Runner.Capture()
		return err
	})
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	if int(ch) >= len(c.Images) {
		generichttp.Error(w, &kepler.ConfigurationError{Param: "channel", Msg: "the camera is not producing HDR frames"})
		return
	}
	img := c.Images[ch]

	format := q.Get("fmt")
	if format == "" {
		format = "fits"
	}
	switch format {
	case "jpg", "png":
		buf := make([]byte, len(img.Pix))
		for idx, p := range img.Pix {
			buf[idx] = byte(p >> 4) // scale 12 to 8 bits
		}
		im := &image.Gray{Pix: buf, Stride: img.Width, Rect: image.Rect(0, 0, img.Width, img.Height)}
		if format == "jpg" {
			w.Header().Set("Content-Type", "image/jpeg")
			err = jpeg.Encode(w, im, nil)
		} else {
			w.Header().Set("Content-Type", "image/png")
			err = png.Encode(w, im)
		}
	case "fits":
		host, _ := os.Hostname()
		fn := fmt.Sprintf("frame_%s_%s.fits", c.Timestamp.Compact(), ch.Tag())
		hdr := w.Header()
		hdr.Set("Content-Type", "image/fits")
		hdr.Set("Content-Disposition", "attachment; filename="+fn)
		err = obsfits.Encode(w, fn, img, c.Config, c.Timestamp, host)
	default:
		http.Error(w, fmt.Sprintf("unknown format %q", format), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Grab runs a capture of {'int': N} frames to disk and returns the frames as
// JSON.  A single grab (no index in the file names) is made when N is zero.
func (h *HTTPCamera) Grab(w http.ResponseWriter, r *http.Request) {
	n := server.IntT{}
	err := json.NewDecoder(r.Body).Decode(&n)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if n.Int < 0 {
		http.Error(w, "frame count must not be negative", http.StatusBadRequest)
		return
	}
	if !h.Locker.TryLock() {
		w.WriteHeader(http.StatusLocked)
		return
	}
	defer h.Locker.Unlock()

	var frames []grab.Frame
	err = h.do(func() error {
		var err error
		if n.Int == 0 {
			var f grab.Frame
			f, err = h.Runner.GrabImage()
			frames = []grab.Frame{f}
		} else {
			frames, err = h.Runner.GrabImages(n.Int)
		}
		for _, f := range frames {
			if len(f.Files) > 0 {
				h.last = f
			}
		}
		return err
	})
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.ReplyJSON(w, frames)
}

// GetLast serves the most recently written file of the channel given by the ch
// query parameter
func (h *HTTPCamera) GetLast(w http.ResponseWriter, r *http.Request) {
	ch, err := parseChannel(r.URL.Query().Get("ch"))
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	h.mu.Lock()
	last := h.last
	h.mu.Unlock()
	if int(ch) >= len(last.Files) {
		http.Error(w, "no file has been written", http.StatusNotFound)
		return
	}
	fn := last.Files[ch]
	server.ReplyWithFile(w, r, filepath.Base(fn), filepath.Dir(fn))
}
