package grab_test

import (
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.jpl.nasa.gov/bdube/kepler/grab"
	"github.jpl.nasa.gov/bdube/kepler/imgrec"
	"github.jpl.nasa.gov/bdube/kepler/kepler"
	"github.jpl.nasa.gov/bdube/kepler/obsfits"
)

const metaSize = 64

// clock returns a clock that advances by step on every call
func clock(step time.Duration) func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func newRunner(t *testing.T, metadata bool) (*kepler.SimDevice, *grab.Runner, string) {
	dir := t.TempDir()
	dev := kepler.NewSimDevice(16, 4, metaSize)
	r := &grab.Runner{
		Camera:   kepler.NewCamera(dev),
		Recorder: &imgrec.Recorder{Root: dir, Base: "fli_image", Timestamps: true, Metadata: metadata},
		Writer:   obsfits.NewWriter(),
		Site:     kepler.DefaultSite,
		Log:      zap.NewNop().Sugar(),
		Now:      clock(700 * time.Millisecond)}
	return dev, r, dir
}

func countFiles(t *testing.T, dir, suffix string) int {
	t.Helper()
	n := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, suffix) {
			n++
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestGrabImagesInternal(t *testing.T) {
	dev, r, dir := newRunner(t, true)
	frames, err := r.GrabImages(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if n := countFiles(t, dir, ".fits"); n != 6 {
		t.Errorf("expected 6 fits files, got %d", n)
	}
	if n := countFiles(t, dir, "_meta.bin"); n != 3 {
		t.Errorf("expected 3 metadata sidecars, got %d", n)
	}
	for i := 1; i < len(frames); i++ {
		if frames[i].Timestamp.Before(frames[i-1].Timestamp) {
			t.Errorf("timestamp of frame %d (%v) is before frame %d (%v)", i, frames[i].Timestamp, i-1, frames[i-1].Timestamp)
		}
	}
	if !dev.Called("FPROFrame_CaptureStart") || !dev.Called("FPROFrame_CaptureStop") {
		t.Errorf("expected capture start and stop, calls were %v", dev.Calls)
	}
	if !strings.HasSuffix(frames[2].Files[1], "_H.fits") || !strings.Contains(frames[2].Files[0], "fli_image00002_") {
		t.Errorf("unexpected file names %v", frames[2].Files)
	}
}

func TestGrabImagesWithoutMetadata(t *testing.T) {
	_, r, dir := newRunner(t, false)
	if _, err := r.GrabImages(2); err != nil {
		t.Fatal(err)
	}
	if n := countFiles(t, dir, "_meta.bin"); n != 0 {
		t.Errorf("expected no sidecars, got %d", n)
	}
}

func TestSidecarHoldsMetadataVerbatim(t *testing.T) {
	_, r, _ := newRunner(t, true)
	frames, err := r.GrabImages(2)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ioutil.ReadFile(frames[1].Meta)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != metaSize {
		t.Fatalf("sidecar is %d bytes, expected %d", len(b), metaSize)
	}
	// the simulated camera numbers its frames in the first four bytes
	if b[3] != 1 {
		t.Errorf("expected frame number 1 in the header, got % x", b[:4])
	}
}

func TestDroppedFrameDoesNotEndRun(t *testing.T) {
	dev, r, dir := newRunner(t, false)
	dev.Short = map[int]bool{1: true}
	frames, err := r.GrabImages(3)
	if err != nil {
		t.Fatal(err)
	}
	if !frames[1].Dropped || frames[0].Dropped || frames[2].Dropped {
		t.Errorf("expected only frame 1 dropped: %+v", frames)
	}
	if n := countFiles(t, dir, ".fits"); n != 4 {
		t.Errorf("expected 4 fits files, got %d", n)
	}
}

func TestExistingFileEndsRun(t *testing.T) {
	dev, r, dir := newRunner(t, false)
	r.Recorder.Timestamps = false
	if err := ioutil.WriteFile(filepath.Join(dir, "fli_image00001_L.fits"), []byte("keep"), 0666); err != nil {
		t.Fatal(err)
	}
	frames, err := r.GrabImages(3)
	var ae *kepler.AlreadyExists
	if !errors.As(err, &ae) {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
	if len(frames) != 1 {
		t.Errorf("expected the first frame to be kept, got %d frames", len(frames))
	}
	if !dev.Called("FPROFrame_CaptureStop") {
		t.Error("capture should be stopped after a failed run")
	}
	b, _ := ioutil.ReadFile(filepath.Join(dir, "fli_image00001_L.fits"))
	if string(b) != "keep" {
		t.Error("existing file was overwritten")
	}
}

func TestDeviceErrorEndsRun(t *testing.T) {
	dev, r, _ := newRunner(t, false)
	dev.Fail = map[string]int{"FPROFrame_GetVideoFrame": -3}
	_, err := r.GrabImages(2)
	var de *kepler.DeviceError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeviceError, got %v", err)
	}
	if dev.Called("FPROFrame_CaptureStop") {
		t.Error("an aborted session should not be finished")
	}
}

func TestGrabImagesExternal(t *testing.T) {
	dev, r, dir := newRunner(t, true)
	r.Trigger = kepler.TriggerConfig{Enabled: true, Type: kepler.RisingEdge}
	waits := 0
	r.Waiting = func(int) { waits++ }
	if _, err := r.GrabImages(2); err != nil {
		t.Fatal(err)
	}
	if waits != 2 {
		t.Errorf("expected 2 waits, got %d", waits)
	}
	if dev.Called("FPROFrame_CaptureStart") {
		t.Error("external runs should not start a capture")
	}
	trig, _ := dev.ExternalTrigger()
	if trig.Enabled || trig.Type != kepler.RisingEdge {
		t.Errorf("expected trigger disabled keeping rising edge, got %+v", trig)
	}
	if n := countFiles(t, dir, ".fits"); n != 4 {
		t.Errorf("expected 4 fits files, got %d", n)
	}
}

func TestExternalTriggerKeptBetweenRuns(t *testing.T) {
	dev, r, _ := newRunner(t, false)
	if err := r.SetTrigger(kepler.TriggerConfig{Enabled: true, Type: kepler.RisingEdge}); err != nil {
		t.Fatal(err)
	}
	waits := 0
	r.Waiting = func(int) { waits++ }
	for run := 0; run < 2; run++ {
		dev.Calls = nil
		frames, err := r.GrabImages(1)
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if dev.Called("FPROFrame_CaptureStart") {
			t.Errorf("run %d started an internal capture", run)
		}
		if !dev.Called("FPROFrame_GetVideoFrameExt") {
			t.Errorf("run %d did not wait on the trigger, calls were %v", run, dev.Calls)
		}
		if frames[0].Dropped {
			t.Errorf("run %d dropped its frame", run)
		}
		trig, _ := dev.ExternalTrigger()
		if trig.Enabled {
			t.Errorf("run %d left the trigger enabled", run)
		}
	}
	if waits != 2 {
		t.Errorf("expected 2 waits, got %d", waits)
	}
	if got := r.TriggerConfig(); !got.Enabled || got.Type != kepler.RisingEdge {
		t.Errorf("runner trigger changed to %+v", got)
	}
}

func TestGrabImage(t *testing.T) {
	_, r, dir := newRunner(t, false)
	r.Recorder.Timestamps = false
	f, err := r.GrabImage()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(dir, "fli_image_L.fits"), filepath.Join(dir, "fli_image_H.fits")}
	if len(f.Files) != 2 || f.Files[0] != want[0] || f.Files[1] != want[1] {
		t.Errorf("expected %v got %v", want, f.Files)
	}
}

func TestCapture(t *testing.T) {
	_, r, dir := newRunner(t, false)
	c, err := r.Capture()
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Images) != 2 || len(c.Metadata) != metaSize {
		t.Errorf("unexpected capture %d images %d metadata bytes", len(c.Images), len(c.Metadata))
	}
	if n := countFiles(t, dir, ".fits"); n != 0 {
		t.Errorf("capture should not write files, found %d", n)
	}
}
