/*Package thermalguard provides a thermal guardian that walks the cooler setpoint
of a camera back toward ambient at a bounded rate.  This is used in, for
example, scenarios where power is lost but a UPS provides short-term
continuance, or before the camera is shut down at the end of a night.  Letting
the TEC warm the sensor in one step stresses it; the guardian instead moves the
setpoint by Step every Interval until it reaches Target.

To use it, simply replicate this example:

 cam, err := flipro.Open(0) // or any other kepler.Device
 g := thermalguard.Guardian{Cam: cam, Target: 20, Step: 5, Interval: time.Minute}

 // you might want to do this concurrently so you can save other bacon at the same time
 err = g.Walk(ctx)
 // This sets off:
 // T0:    -10C
 // T+1m:  -5C
 // T+2m:  0C
 // ...
 // T+6m:  20C
*/
package thermalguard

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultTarget is the setpoint walked to when Target is unset, Celsius
	DefaultTarget = 20.

	// DefaultStep is the largest setpoint change made at once, Celsius
	DefaultStep = 5.

	// DefaultInterval is the time between steps
	DefaultInterval = time.Minute
)

// Cooler is something with a temperature setpoint
type Cooler interface {
	TemperatureSetpoint() (float64, error)
	SetTemperatureSetpoint(float64) error
}

// Guardian walks the setpoint of a cooler to a target
type Guardian struct {
	Cam Cooler

	// Target is the final setpoint.  Zero is a valid target, so there is no default
	// applied; use New for the defaults
	Target float64

	// Step is the largest change made at once
	Step float64

	// Interval is the time between changes
	Interval time.Duration

	// Log receives each step, if not nil
	Log *zap.SugaredLogger
}

// New returns a Guardian with the default target, step, and interval
func New(cam Cooler) *Guardian {
	return &Guardian{Cam: cam, Target: DefaultTarget, Step: DefaultStep, Interval: DefaultInterval}
}

// Steps returns the setpoints visited walking from start to target, target last
func Steps(start, target, step float64) []float64 {
	if step <= 0 || start == target {
		return []float64{target}
	}
	n := int(math.Ceil(math.Abs(target-start) / step))
	out := make([]float64, 0, n)
	dir := math.Copysign(step, target-start)
	for i := 1; i < n; i++ {
		out = append(out, start+float64(i)*dir)
	}
	return append(out, target)
}

// Walk moves the setpoint to Target, waiting Interval between each step.  It
// returns early with the context's error if ctx is done.  The setpoint is left
// where it was when the walk stopped.
func (g *Guardian) Walk(ctx context.Context) error {
	start, err := g.Cam.TemperatureSetpoint()
	if err != nil {
		return errors.Wrap(err, "reading setpoint")
	}
	lim := rate.NewLimiter(rate.Every(g.Interval), 1)
	// the first token is free, spend it so the first step waits too
	lim.Allow()
	for _, sp := range Steps(start, g.Target, g.Step) {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		if err := g.Cam.SetTemperatureSetpoint(sp); err != nil {
			return errors.Wrapf(err, "setting setpoint to %.1f", sp)
		}
		if g.Log != nil {
			g.Log.Infow("thermal guard step", "setpoint", sp, "target", g.Target)
		}
	}
	return nil
}
