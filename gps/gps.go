// Package gps reads the observing site from an NMEA GPS receiver on a serial port
package gps

import (
	"bufio"
	"io"
	"strings"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/pkg/errors"
	"github.com/tarm/serial"

	"github.jpl.nasa.gov/bdube/kepler/kepler"
)

var (
	// ErrNotGGA is generated when a sentence other than GGA is parsed
	ErrNotGGA = errors.New("not a GGA sentence")

	// ErrNoFix is generated when the receiver reports no position fix
	ErrNoFix = errors.New("receiver has no fix")
)

// Fix is a position reported by the receiver
type Fix struct {
	// Latitude in degrees, north positive
	Latitude float64

	// Longitude in degrees, east positive
	Longitude float64

	// Altitude above mean sea level in meters
	Altitude float64

	// Quality is the GGA fix quality, nmea.Invalid is no fix
	Quality string

	// Satellites is the number in use
	Satellites int
}

// Site converts the fix to an observing site with the given name
func (f Fix) Site(name string) kepler.Site {
	return kepler.Site{Latitude: f.Latitude, Longitude: f.Longitude, Altitude: f.Altitude, Name: name}
}

// ParseGGA parses a GGA sentence from any talker ($GPGGA, $GNGGA, ...).  The
// checksum is verified when the sentence carries one.
func ParseGGA(line string) (Fix, error) {
	s, err := nmea.Parse(strings.TrimSpace(line))
	if err != nil {
		return Fix{}, errors.Wrap(err, "parsing NMEA sentence")
	}
	switch m := s.(type) {
	case nmea.GGA:
		fix := Fix{
			Latitude:   m.Latitude,
			Longitude:  m.Longitude,
			Altitude:   m.Altitude,
			Quality:    m.FixQuality,
			Satellites: int(m.NumSatellites)}
		if m.FixQuality == nmea.Invalid {
			return fix, ErrNoFix
		}
		return fix, nil
	default:
		return Fix{}, ErrNotGGA
	}
}

// ReadFix reads sentences from r until a GGA sentence with a fix arrives.
// Other sentences and GGA sentences without a fix are skipped.  At most
// maxLines are read.
func ReadFix(r io.Reader, maxLines int) (Fix, error) {
	sc := bufio.NewScanner(r)
	for i := 0; i < maxLines && sc.Scan(); i++ {
		fix, err := ParseGGA(sc.Text())
		if err == nil {
			return fix, nil
		}
	}
	if err := sc.Err(); err != nil {
		return Fix{}, err
	}
	return Fix{}, ErrNoFix
}

func makeSerConf(addr string, baud int) *serial.Config {
	if baud == 0 {
		baud = 9600
	}
	return &serial.Config{
		Name:        addr,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 2 * time.Second}
}

// Receiver is a GPS receiver on a serial port
type Receiver struct {
	conn *serial.Port
}

// NewReceiver opens the receiver at addr; a baud of 0 is 9600
func NewReceiver(addr string, baud int) (*Receiver, error) {
	conn, err := serial.OpenPort(makeSerConf(addr, baud))
	if err != nil {
		return nil, err
	}
	return &Receiver{conn: conn}, nil
}

// Fix waits for a position fix, reading at most maxLines sentences
func (r *Receiver) Fix(maxLines int) (Fix, error) {
	return ReadFix(r.conn, maxLines)
}

// Close closes the serial port
func (r *Receiver) Close() error {
	return r.conn.Close()
}
