package kepler_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.jpl.nasa.gov/bdube/kepler/kepler"
)

const (
	testWidth  = 16
	testHeight = 4
	testMeta   = 32
)

func newTestSession(discipline kepler.TriggerDiscipline) (*kepler.SimDevice, *kepler.Session) {
	dev := kepler.NewSimDevice(testWidth, testHeight, testMeta)
	geom := kepler.Geometry{Width: testWidth, Height: testHeight, Channels: 2, MetadataSize: testMeta}
	return dev, kepler.NewSession(dev, geom, discipline)
}

func TestGeometryFrameSize(t *testing.T) {
	g := kepler.Geometry{Width: 4096, Height: 4096, Channels: 2, MetadataSize: 8192}
	if want := 8192 + 4096*4096*2*3/2; g.FrameSize() != want {
		t.Errorf("expected %d got %d", want, g.FrameSize())
	}
}

func TestInternalArmStartsCapture(t *testing.T) {
	dev, s := newTestSession(kepler.Internal)
	if err := s.Arm(3); err != nil {
		t.Fatal(err)
	}
	if !dev.Called("FPROFrame_CaptureStart") {
		t.Error("expected CaptureStart to be called")
	}
	if s.State() != kepler.Armed {
		t.Errorf("expected Armed got %v", s.State())
	}
}

func TestExternalArmDoesNotTouchDevice(t *testing.T) {
	dev, s := newTestSession(kepler.External)
	if err := s.Arm(3); err != nil {
		t.Fatal(err)
	}
	if len(dev.Calls) != 0 {
		t.Errorf("expected no driver calls, got %v", dev.Calls)
	}
}

func TestRetrieveOneDecodes(t *testing.T) {
	_, s := newTestSession(kepler.Internal)
	readout := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)
	s.Now = func() time.Time { return readout }
	if err := s.Arm(1); err != nil {
		t.Fatal(err)
	}
	f, err := s.RetrieveOne()
	if err != nil {
		t.Fatal(err)
	}
	if s.State() != kepler.Retrieving {
		t.Errorf("expected Retrieving got %v", s.State())
	}
	if !f.ReadoutCompletedAt.Equal(readout) {
		t.Errorf("readout time %v, expected %v", f.ReadoutCompletedAt, readout)
	}
	if len(f.Metadata()) != testMeta {
		t.Errorf("metadata is %d bytes, expected %d", len(f.Metadata()), testMeta)
	}
	imgs := kepler.Unpack(f.Payload(), testWidth, testHeight, 2)
	want := kepler.SimImage(kepler.High, testWidth, testHeight, 0)
	if diff := cmp.Diff(want.Pix, imgs[1].Pix); diff != "" {
		t.Errorf("high channel mismatch (-want +got):\n%s", diff)
	}
}

func TestSizeMismatchDropsFrameAndContinues(t *testing.T) {
	dev, s := newTestSession(kepler.Internal)
	dev.Short = map[int]bool{0: true}
	if err := s.Arm(2); err != nil {
		t.Fatal(err)
	}
	_, err := s.RetrieveOne()
	var fsm *kepler.FrameSizeMismatch
	if !errors.As(err, &fsm) {
		t.Fatalf("expected FrameSizeMismatch, got %v", err)
	}
	geom := s.Geometry()
	if fsm.Expected != geom.FrameSize() || fsm.Actual != geom.FrameSize()/2 {
		t.Errorf("mismatch reported %d/%d", fsm.Expected, fsm.Actual)
	}
	if s.State() != kepler.Retrieving {
		t.Errorf("expected session to remain Retrieving, got %v", s.State())
	}
	if _, err = s.RetrieveOne(); err != nil {
		t.Errorf("second frame should be good, got %v", err)
	}
}

func TestDeviceErrorAborts(t *testing.T) {
	dev, s := newTestSession(kepler.Internal)
	dev.Fail = map[string]int{"FPROFrame_GetVideoFrame": -7}
	if err := s.Arm(1); err != nil {
		t.Fatal(err)
	}
	_, err := s.RetrieveOne()
	var de *kepler.DeviceError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeviceError, got %v", err)
	}
	if de.Op != "FPROFrame_GetVideoFrame" || de.Status != -7 {
		t.Errorf("unexpected error contents %+v", de)
	}
	if s.State() != kepler.Aborted {
		t.Errorf("expected Aborted got %v", s.State())
	}
	if _, err = s.RetrieveOne(); err == nil {
		t.Error("retrieve after abort should fail")
	}
}

func TestExternalUsesExtRetrieval(t *testing.T) {
	dev, s := newTestSession(kepler.External)
	if err := s.Arm(1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RetrieveOne(); err != nil {
		t.Fatal(err)
	}
	if !dev.Called("FPROFrame_GetVideoFrameExt") || dev.Called("FPROFrame_GetVideoFrame") {
		t.Errorf("expected only the external retrieval, calls were %v", dev.Calls)
	}
}

func TestInternalFinishStopsCapture(t *testing.T) {
	dev, s := newTestSession(kepler.Internal)
	if err := s.Arm(1); err != nil {
		t.Fatal(err)
	}
	if err := s.Finish(); err != nil {
		t.Fatal(err)
	}
	if !dev.Called("FPROFrame_CaptureStop") {
		t.Error("expected CaptureStop")
	}
	if s.State() != kepler.Stopped {
		t.Errorf("expected Stopped got %v", s.State())
	}
}

func TestExternalFinishRevertsTriggerKeepingType(t *testing.T) {
	dev, s := newTestSession(kepler.External)
	if err := dev.SetExternalTrigger(kepler.TriggerConfig{Enabled: true, Type: kepler.ExposeActiveHigh}); err != nil {
		t.Fatal(err)
	}
	if err := s.Arm(1); err != nil {
		t.Fatal(err)
	}
	if err := s.Finish(); err != nil {
		t.Fatal(err)
	}
	trig, _ := dev.ExternalTrigger()
	want := kepler.TriggerConfig{Enabled: false, Type: kepler.ExposeActiveHigh}
	if trig != want {
		t.Errorf("expected %+v got %+v", want, trig)
	}
	if dev.Called("FPROFrame_CaptureStop") {
		t.Error("CaptureStop should not be called for external triggering")
	}
}

func TestOperationsOutOfOrder(t *testing.T) {
	_, s := newTestSession(kepler.Internal)
	var se *kepler.StateError
	if _, err := s.RetrieveOne(); !errors.As(err, &se) {
		t.Errorf("retrieve before arm: expected StateError, got %v", err)
	}
	if err := s.Finish(); !errors.As(err, &se) {
		t.Errorf("finish before arm: expected StateError, got %v", err)
	}
	if err := s.Arm(1); err != nil {
		t.Fatal(err)
	}
	if err := s.Arm(1); !errors.As(err, &se) {
		t.Errorf("double arm: expected StateError, got %v", err)
	}
}
