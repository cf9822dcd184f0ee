// Package thermal exposes an HTTP interface to the camera cooler
package thermal

import (
	"context"
	"encoding/json"
	"go/types"
	"net/http"
	"sync"

	"github.jpl.nasa.gov/bdube/kepler/generichttp"
	"github.jpl.nasa.gov/bdube/kepler/kepler"
	"github.jpl.nasa.gov/bdube/kepler/kepler/ext/thermalguard"
	"github.jpl.nasa.gov/bdube/kepler/server"
)

// Controller is an interface to a cooler with a single setpoint
type Controller interface {
	// TemperatureSetpoint gets the temperature setpoint in Celcius
	TemperatureSetpoint() (float64, error)

	// SetTemperatureSetpoint sets the temperature setpoint in Celcius
	SetTemperatureSetpoint(float64) error

	// Temperatures gets the temperatures of the camera in Celcius
	Temperatures() (kepler.Temperatures, error)
}

// serialized routes calls to a Controller through do
type serialized struct {
	c  Controller
	do func(func() error) error
}

func (s serialized) TemperatureSetpoint() (float64, error) {
	var f float64
	err := s.do(func() error {
		var err error
		f, err = s.c.TemperatureSetpoint()
		return err
	})
	return f, err
}

func (s serialized) SetTemperatureSetpoint(f float64) error {
	return s.do(func() error { return s.c.SetTemperatureSetpoint(f) })
}

func (s serialized) Temperatures() (kepler.Temperatures, error) {
	var t kepler.Temperatures
	err := s.do(func() error {
		var err error
		t, err = s.c.Temperatures()
		return err
	})
	return t, err
}

// Cooler wraps a Controller in an HTTP interface, including a warmup that
// walks the setpoint to ambient in the background
type Cooler struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	err    error

	ctl serialized

	// Guard holds the warmup target, step, and interval.  Its Cam is ignored
	Guard thermalguard.Guardian
}

// NewCooler returns a Cooler with the default warmup.  do serializes access to
// the hardware; nil means calls are made directly.
func NewCooler(c Controller, do func(func() error) error) *Cooler {
	if do == nil {
		do = func(fcn func() error) error { return fcn() }
	}
	g := thermalguard.New(nil)
	return &Cooler{ctl: serialized{c: c, do: do}, Guard: *g}
}

// GetTemperatureSetpoint returns the setpoint as {'f64': value}
func (c *Cooler) GetTemperatureSetpoint(w http.ResponseWriter, r *http.Request) {
	generichttp.GetFloat(c.ctl.TemperatureSetpoint)(w, r)
}

// SetTemperatureSetpoint sets the setpoint from {'f64': value}.  A running
// warmup is cancelled first.
func (c *Cooler) SetTemperatureSetpoint(w http.ResponseWriter, r *http.Request) {
	c.stop()
	generichttp.SetFloat(c.ctl.SetTemperatureSetpoint)(w, r)
}

// GetTemperatures returns the temperatures as JSON
func (c *Cooler) GetTemperatures(w http.ResponseWriter, r *http.Request) {
	t, err := c.ctl.Temperatures()
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	generichttp.ReplyJSON(w, t)
}

// Warming returns true while a warmup is running
func (c *Cooler) Warming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Warmup starts walking the setpoint to the guard's target in the background.
// It does nothing if a warmup is already running.  done, if not nil, is called
// with the result when the walk ends.
func (c *Cooler) Warmup(done func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.err = nil
	g := c.Guard
	g.Cam = c.ctl
	go func() {
		err := g.Walk(ctx)
		c.mu.Lock()
		c.cancel = nil
		c.err = err
		c.mu.Unlock()
		cancel()
		if done != nil {
			done(err)
		}
	}()
}

func (c *Cooler) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// SetWarmup starts or cancels a warmup from {'bool': value}
func (c *Cooler) SetWarmup(w http.ResponseWriter, r *http.Request) {
	b := server.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		c.Warmup(nil)
	} else {
		c.stop()
	}
	w.WriteHeader(http.StatusOK)
}

// GetWarmup returns {'bool': true} while a warmup is running.  If the last
// warmup failed, the error is returned instead.
func (c *Cooler) GetWarmup(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	running, err := c.cancel != nil, c.err
	c.mu.Unlock()
	if err != nil && err != context.Canceled {
		generichttp.Error(w, err)
		return
	}
	hp := server.HumanPayload{T: types.Bool, Bool: running}
	hp.EncodeAndRespond(w, r)
}

// Inject adds the cooler routes to a generichttp.HTTPer
func (c *Cooler) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/temperature-setpoint"}] = c.GetTemperatureSetpoint
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/temperature-setpoint"}] = c.SetTemperatureSetpoint
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/temperatures"}] = c.GetTemperatures
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/warmup"}] = c.GetWarmup
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/warmup"}] = c.SetWarmup
}
