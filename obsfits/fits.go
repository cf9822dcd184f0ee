package obsfits

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/astrogo/fitsio"
	"go.uber.org/multierr"

	"github.jpl.nasa.gov/bdube/kepler/kepler"
)

// FitsBackend writes files with fitsio.  Unsigned pixels are stored as BITPIX 16
// with BZERO 32768.
type FitsBackend struct{}

// Create creates a new file at path, failing if it already exists
func (FitsBackend) Create(path string) (File, error) {
	fid, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, err
	}
	return &fitsFile{w: fid, closer: fid}, nil
}

type fitsFile struct {
	w      io.Writer
	closer io.Closer
	fits   *fitsio.File
	img    fitsio.Image
	npix   int
}

func (f *fitsFile) CreateImage(width, height int) error {
	fits, err := fitsio.Create(f.w)
	if err != nil {
		return err
	}
	f.fits = fits
	f.img = fitsio.NewImage(16, []int{width, height})
	f.npix = width * height
	return f.img.Header().Append(
		fitsio.Card{Name: "BZERO", Value: 32768},
		fitsio.Card{Name: "BSCALE", Value: 1.0})
}

func (f *fitsFile) WriteDate(t time.Time) error {
	if f.img == nil {
		return errors.New("no image plane")
	}
	return f.img.Header().Append(fitsio.Card{
		Name:    "DATE",
		Value:   t.UTC().Format("2006-01-02T15:04:05"),
		Comment: "file creation date (YYYY-MM-DDThh:mm:ss UT)"})
}

func (f *fitsFile) WritePixels(pix []uint16) error {
	if f.img == nil {
		return errors.New("no image plane")
	}
	if len(pix) != f.npix {
		return fmt.Errorf("%d pixels given for a %d pixel image", len(pix), f.npix)
	}
	ints := make([]int16, len(pix))
	for i, p := range pix {
		ints[i] = int16(p - 32768)
	}
	return f.img.Write(ints)
}

func (f *fitsFile) WriteString(key, value, comment string) error {
	return f.append(fitsio.Card{Name: key, Value: value, Comment: comment})
}

func (f *fitsFile) WriteFloat(key string, value float64, comment string) error {
	return f.append(fitsio.Card{Name: key, Value: value, Comment: comment})
}

func (f *fitsFile) append(c fitsio.Card) error {
	if f.img == nil {
		return errors.New("no image plane")
	}
	return f.img.Header().Append(c)
}

// Close writes the HDU out and closes the underlying file
func (f *fitsFile) Close() error {
	var err error
	if f.fits != nil {
		err = multierr.Append(err, f.fits.Write(f.img))
		err = multierr.Append(err, f.img.Close())
		err = multierr.Append(err, f.fits.Close())
		f.fits = nil
	}
	if f.closer != nil {
		err = multierr.Append(err, f.closer.Close())
		f.closer = nil
	}
	return err
}

// Encode streams an observation FITS file to w.  filename is recorded in
// FILENAME.
func Encode(w io.Writer, filename string, img kepler.ChannelImage, cfg kepler.CameraConfig, ts kepler.ObservationTimestamp, host string) error {
	f := &fitsFile{w: w}
	kw := Keywords(filename, img.Channel, cfg, ts, host)
	if err := writeObservation(f, img.Width, img.Height, img.Pix, kw, time.Now()); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return &kepler.BackendError{Op: "close", Err: err}
	}
	return nil
}
