// Package imgrec names the files written during a capture run and writes the raw metadata sidecars.
package imgrec

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.jpl.nasa.gov/bdube/kepler/generichttp"
	"github.jpl.nasa.gov/bdube/kepler/kepler"
	"github.jpl.nasa.gov/bdube/kepler/server"
)

// DefaultBase is the file name base used when none is configured
const DefaultBase = "fli_image"

// Recorder names observation files.  Frames of a run are named
//  <base><index, 5 digits>[_<timestamp>]_<L|H>.fits
// and single grabs drop the index.  The metadata sidecar of a frame shares its
// stem and ends in _meta.bin.
type Recorder struct {
	sync.Mutex

	// Root is the folder files are written in
	Root string

	// Base is the prefix of every file name
	Base string

	// Timestamps adds the exposure start time to file names
	Timestamps bool

	// Metadata enables writing the raw metadata header of each frame to a sidecar
	Metadata bool

	// DateFolders puts files in yyyy-mm-dd subfolders of Root, by exposure start
	DateFolders bool
}

// Stem is the path of a frame without the channel suffix and extension.
// A negative index omits the frame counter.
func (r *Recorder) Stem(idx int, ts kepler.ObservationTimestamp) string {
	r.Lock()
	defer r.Unlock()
	base := r.Base
	if base == "" {
		base = DefaultBase
	}
	name := base
	if idx >= 0 {
		name += fmt.Sprintf("%05d", idx)
	}
	if r.Timestamps {
		name += "_" + ts.Compact()
	}
	fldr := r.Root
	if r.DateFolders {
		t := ts.Time.UTC()
		fldr = filepath.Join(fldr, fmt.Sprintf("%04d-%02d-%02d", t.Year(), t.Month(), t.Day()))
	}
	return filepath.Join(fldr, name)
}

// Sidecars returns true if metadata sidecars are enabled
func (r *Recorder) Sidecars() bool {
	r.Lock()
	defer r.Unlock()
	return r.Metadata
}

// ImagePath is the FITS file for one channel of a frame
func ImagePath(stem string, c kepler.Channel) string {
	return stem + "_" + c.Tag() + ".fits"
}

// MetaPath is the metadata sidecar of a frame
func MetaPath(stem string) string {
	return stem + "_meta.bin"
}

// MkDir makes the folder a stem lives in
func MkDir(stem string) error {
	return os.MkdirAll(filepath.Dir(stem), 0777)
}

// WriteSidecar writes the metadata header verbatim to a new file at path.  It
// returns *kepler.AlreadyExists rather than replace an existing file.
func WriteSidecar(path string, meta []byte) error {
	fid, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		if os.IsExist(err) {
			return &kepler.AlreadyExists{Path: path}
		}
		return err
	}
	_, err = fid.Write(meta)
	if cerr := fid.Close(); err == nil {
		err = cerr
	}
	return err
}

// HTTPWrapper is an HTTP wrapper around a recorder that allows the folder and naming to be changed on the fly
//
// it does not implement generichttp.HTTPer, offering an Inject method allowing it to be injected
// into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

// SetRoot updates the root folder of the recorder
func (h HTTPWrapper) SetRoot(w http.ResponseWriter, r *http.Request) {
	str := server.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = os.MkdirAll(str.Str, 0777)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Lock()
	h.Root = str.Str
	h.Unlock()
	w.WriteHeader(http.StatusOK)
}

// GetRoot gets the recorder's root folder and sends it back as JSON
func (h HTTPWrapper) GetRoot(w http.ResponseWriter, r *http.Request) {
	h.Lock()
	hp := server.HumanPayload{T: types.String, String: h.Root}
	h.Unlock()
	hp.EncodeAndRespond(w, r)
}

// SetBase updates the file name base of the recorder
func (h HTTPWrapper) SetBase(w http.ResponseWriter, r *http.Request) {
	str := server.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Lock()
	h.Base = str.Str
	h.Unlock()
	w.WriteHeader(http.StatusOK)
}

// GetBase gets the recorder's file name base and sends it back as JSON
func (h HTTPWrapper) GetBase(w http.ResponseWriter, r *http.Request) {
	h.Lock()
	hp := server.HumanPayload{T: types.String, String: h.Base}
	h.Unlock()
	hp.EncodeAndRespond(w, r)
}

// boolField builds a getter and setter for one of the recorder's flags
func (h HTTPWrapper) boolField(field *bool) (http.HandlerFunc, http.HandlerFunc) {
	get := func(w http.ResponseWriter, r *http.Request) {
		h.Lock()
		hp := server.HumanPayload{T: types.Bool, Bool: *field}
		h.Unlock()
		hp.EncodeAndRespond(w, r)
	}
	set := func(w http.ResponseWriter, r *http.Request) {
		bT := server.BoolT{}
		err := json.NewDecoder(r.Body).Decode(&bT)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.Lock()
		*field = bT.Bool
		h.Unlock()
		w.WriteHeader(http.StatusOK)
	}
	return get, set
}

// Inject adds GET and POST routes under /autowrite to the HTTPer which manipulate this wrapper's recorder
func (h HTTPWrapper) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = h.SetRoot
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = h.GetRoot
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/base"}] = h.SetBase
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/base"}] = h.GetBase
	for path, field := range map[string]*bool{
		"/autowrite/timestamps":   &h.Timestamps,
		"/autowrite/metadata":     &h.Metadata,
		"/autowrite/date-folders": &h.DateFolders,
	} {
		get, set := h.boolField(field)
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: path}] = get
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: path}] = set
	}
}
