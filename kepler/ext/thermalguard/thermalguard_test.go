package thermalguard

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type fakeCooler struct {
	sp   float64
	seen []float64
}

func (f *fakeCooler) TemperatureSetpoint() (float64, error) { return f.sp, nil }

func (f *fakeCooler) SetTemperatureSetpoint(c float64) error {
	f.sp = c
	f.seen = append(f.seen, c)
	return nil
}

func TestSteps(t *testing.T) {
	cases := []struct {
		start, target, step float64
		want                []float64
	}{
		{-10, 20, 5, []float64{-5, 0, 5, 10, 15, 20}},
		{-12, 20, 5, []float64{-7, -2, 3, 8, 13, 18, 20}},
		{20, 10, 5, []float64{15, 10}},
		{20, 20, 5, []float64{20}},
		{-10, 20, 0, []float64{20}},
	}
	for _, c := range cases {
		got := Steps(c.start, c.target, c.step)
		if diff := cmp.Diff(c.want, got); diff != "" {
			t.Errorf("Steps(%v, %v, %v) mismatch (-want +got):\n%s", c.start, c.target, c.step, diff)
		}
	}
}

func TestWalk(t *testing.T) {
	f := &fakeCooler{sp: -10}
	g := Guardian{Cam: f, Target: 20, Step: 10, Interval: time.Millisecond}
	if err := g.Walk(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{0, 10, 20}, f.seen); diff != "" {
		t.Errorf("setpoints mismatch (-want +got):\n%s", diff)
	}
}

func TestWalkCancelled(t *testing.T) {
	f := &fakeCooler{sp: -10}
	g := New(f)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.Walk(ctx); err == nil {
		t.Error("expected an error from a cancelled walk")
	}
	if len(f.seen) != 0 {
		t.Errorf("expected no setpoint changes, got %v", f.seen)
	}
}
