package kepler

import "time"

// TriggerDiscipline is how frame capture is initiated
type TriggerDiscipline int

const (
	// Internal is the camera's free running timer
	Internal TriggerDiscipline = iota

	// External is a pulse on the trigger input, referenced to an absolute
	// 1 Hz time standard
	External
)

func (d TriggerDiscipline) String() string {
	if d == External {
		return "external"
	}
	return "internal"
}

// DisciplineOf returns the discipline implied by a trigger configuration
func DisciplineOf(t TriggerConfig) TriggerDiscipline {
	if t.Enabled {
		return External
	}
	return Internal
}

const (
	// ISOExtended is the layout of OBSTIME
	ISOExtended = "2006-01-02T15:04:05.000000000"

	// ISOBasic is the layout used in file names
	ISOBasic = "20060102T150405"
)

// ObservationTimestamp is the nominal start of an exposure
type ObservationTimestamp struct {
	Time       time.Time
	Discipline TriggerDiscipline
}

// ISO formats the timestamp in extended ISO 8601 form, UTC, with no offset
func (o ObservationTimestamp) ISO() string {
	return o.Time.UTC().Format(ISOExtended)
}

// Compact formats the timestamp in basic ISO 8601 form, for file names
func (o ObservationTimestamp) Compact() string {
	return o.Time.UTC().Format(ISOBasic)
}

// DeriveTimestamp computes the start of an exposure from the time its readout
// completed.  The start is approximated as readout minus exposure; the readout
// transit time and shutter latency are not accounted for.
//
// Externally triggered frames are truncated to the second, since the trigger is
// locked to a 1 Hz reference.  Internally triggered frames are rounded to the
// nearest second, half a second rounding up.
func DeriveTimestamp(readoutCompletedAt time.Time, exposure time.Duration, discipline TriggerDiscipline) ObservationTimestamp {
	start := readoutCompletedAt.UTC().Add(-exposure)
	var t time.Time
	if discipline == External {
		t = start.Truncate(time.Second)
	} else {
		t = start.Round(time.Second)
	}
	return ObservationTimestamp{Time: t, Discipline: discipline}
}
