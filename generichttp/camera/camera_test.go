package camera_test

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/go-chi/chi"

	"github.jpl.nasa.gov/bdube/kepler/generichttp/camera"
	"github.jpl.nasa.gov/bdube/kepler/grab"
	"github.jpl.nasa.gov/bdube/kepler/imgrec"
	"github.jpl.nasa.gov/bdube/kepler/kepler"
	"github.jpl.nasa.gov/bdube/kepler/obsfits"
	"github.jpl.nasa.gov/bdube/kepler/server/middleware/locker"
)

func setup(t *testing.T) (*kepler.SimDevice, *camera.HTTPCamera, http.Handler) {
	dev := kepler.NewSimDevice(16, 4, 64)
	run := &grab.Runner{
		Camera:   kepler.NewCamera(dev),
		Recorder: &imgrec.Recorder{Root: t.TempDir(), Base: "fli_image"},
		Writer:   obsfits.NewWriter(),
		Site:     kepler.DefaultSite}
	l := locker.New()
	h := camera.NewHTTPCamera(run, l)
	mux := chi.NewRouter()
	mux.Use(l.Check)
	h.RT().Bind(mux)
	return dev, h, mux
}

func do(t *testing.T, mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestExposureRoundTrip(t *testing.T) {
	_, _, mux := setup(t)
	if w := do(t, mux, http.MethodPost, "/exposure-time", `{"f64": 0.05}`); w.Code != http.StatusOK {
		t.Fatalf("set exposure: %d %s", w.Code, w.Body.String())
	}
	w := do(t, mux, http.MethodGet, "/exposure-time", "")
	var f struct {
		F64 float64 `json:"f64"`
	}
	if err := json.NewDecoder(w.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if f.F64 != 0.05 {
		t.Errorf("expected 0.05 s, got %v", f.F64)
	}
	if w := do(t, mux, http.MethodPost, "/frame-delay?value=25ms", ""); w.Code != http.StatusOK {
		t.Fatalf("set frame delay: %d %s", w.Code, w.Body.String())
	}
}

func TestGainOutOfRangeIsBadRequest(t *testing.T) {
	_, _, mux := setup(t)
	if w := do(t, mux, http.MethodPost, "/gain/low", `{"int": 999}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if w := do(t, mux, http.MethodPost, "/gain/high", `{"int": 3}`); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestGrabWritesFiles(t *testing.T) {
	_, h, mux := setup(t)
	w := do(t, mux, http.MethodPost, "/grab", `{"int": 2}`)
	if w.Code != http.StatusOK {
		t.Fatalf("grab: %d %s", w.Code, w.Body.String())
	}
	var frames []grab.Frame
	if err := json.NewDecoder(w.Body).Decode(&frames); err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 || len(frames[1].Files) != 2 {
		t.Fatalf("unexpected frames %+v", frames)
	}
	if _, err := os.Stat(frames[1].Files[1]); err != nil {
		t.Error(err)
	}
	if h.Locker.Locked() {
		t.Error("locker should be released after a grab")
	}

	w = do(t, mux, http.MethodGet, "/last?ch=H", "")
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Errorf("expected the last high gain file, got %d", w.Code)
	}
}

func TestExternalTriggerKeptAcrossGrabs(t *testing.T) {
	dev, _, mux := setup(t)
	if w := do(t, mux, http.MethodPost, "/trigger", `{"enabled": true, "type": 1}`); w.Code != http.StatusOK {
		t.Fatalf("set trigger: %d %s", w.Code, w.Body.String())
	}
	for i := 0; i < 2; i++ {
		if w := do(t, mux, http.MethodPost, "/grab", `{"int": 1}`); w.Code != http.StatusOK {
			t.Fatalf("grab %d: %d %s", i, w.Code, w.Body.String())
		}
	}
	if dev.Called("FPROFrame_CaptureStart") {
		t.Error("an externally triggered grab started an internal capture")
	}
	var trig kepler.TriggerConfig
	w := do(t, mux, http.MethodGet, "/trigger", "")
	if err := json.NewDecoder(w.Body).Decode(&trig); err != nil {
		t.Fatal(err)
	}
	if !trig.Enabled || trig.Type != kepler.RisingEdge {
		t.Errorf("expected the rising edge trigger to be kept, got %+v", trig)
	}
}

func TestLockedCameraRefusesGrab(t *testing.T) {
	_, h, mux := setup(t)
	h.Locker.Lock()
	if w := do(t, mux, http.MethodPost, "/grab", `{"int": 1}`); w.Code != http.StatusLocked {
		t.Errorf("expected 423, got %d", w.Code)
	}
	if w := do(t, mux, http.MethodPost, "/lock", `{"bool": false}`); w.Code != http.StatusOK {
		t.Errorf("the lock route should stay reachable, got %d", w.Code)
	}
}

func TestFramePNG(t *testing.T) {
	_, _, mux := setup(t)
	w := do(t, mux, http.MethodGet, "/frame?ch=H&fmt=png", "")
	if w.Code != http.StatusOK {
		t.Fatalf("frame: %d %s", w.Code, w.Body.String())
	}
	img, err := png.Decode(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 4 {
		t.Errorf("expected 16x4 image, got %v", b)
	}
}

func TestFrameFITS(t *testing.T) {
	_, _, mux := setup(t)
	w := do(t, mux, http.MethodGet, "/frame", "")
	if w.Code != http.StatusOK {
		t.Fatalf("frame: %d %s", w.Code, w.Body.String())
	}
	f, err := fitsio.Open(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	card := f.HDU(0).Header().Get("LHIMGCH")
	if card == nil || card.Value != "L" {
		t.Errorf("expected LHIMGCH L, got %+v", card)
	}
}

func TestFrameBadChannel(t *testing.T) {
	_, _, mux := setup(t)
	if w := do(t, mux, http.MethodGet, "/frame?ch=Q", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestSnapshotAndModes(t *testing.T) {
	_, _, mux := setup(t)
	w := do(t, mux, http.MethodGet, "/snapshot", "")
	var s kepler.DeviceSnapshot
	if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if !s.HDR {
		t.Error("expected the simulated camera to report HDR")
	}
	if w := do(t, mux, http.MethodPost, "/mode", `{"int": 7}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad mode, got %d", w.Code)
	}
	if w := do(t, mux, http.MethodGet, "/endpoints", ""); !strings.Contains(w.Body.String(), "POST /grab") {
		t.Errorf("endpoints do not list the grab route: %s", w.Body.String())
	}
}
