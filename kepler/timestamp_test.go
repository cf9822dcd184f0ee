package kepler_test

import (
	"testing"
	"time"

	"github.jpl.nasa.gov/bdube/kepler/kepler"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t.Fatal(err)
	}
	return tm
}

func TestDeriveTimestampExternalTruncates(t *testing.T) {
	start := mustParse(t, "2024-01-01T00:00:00.734Z")
	exposure := 2 * time.Millisecond
	ts := kepler.DeriveTimestamp(start.Add(exposure), exposure, kepler.External)
	want := mustParse(t, "2024-01-01T00:00:00Z")
	if !ts.Time.Equal(want) {
		t.Errorf("expected %v got %v", want, ts.Time)
	}
	if ts.Discipline != kepler.External {
		t.Errorf("expected external discipline, got %v", ts.Discipline)
	}
}

func TestDeriveTimestampInternalRoundsUp(t *testing.T) {
	start := mustParse(t, "2024-01-01T00:00:00.734Z")
	ts := kepler.DeriveTimestamp(start.Add(time.Second), time.Second, kepler.Internal)
	want := mustParse(t, "2024-01-01T00:00:01Z")
	if !ts.Time.Equal(want) {
		t.Errorf("expected %v got %v", want, ts.Time)
	}
}

func TestDeriveTimestampInternalRoundsDown(t *testing.T) {
	start := mustParse(t, "2024-01-01T00:00:00.2Z")
	ts := kepler.DeriveTimestamp(start.Add(kepler.DefaultExposure), kepler.DefaultExposure, kepler.Internal)
	want := mustParse(t, "2024-01-01T00:00:00Z")
	if !ts.Time.Equal(want) {
		t.Errorf("expected %v got %v", want, ts.Time)
	}
}

func TestDeriveTimestampInternalHalfSecondRoundsUp(t *testing.T) {
	start := mustParse(t, "2024-01-01T00:00:00.5Z")
	ts := kepler.DeriveTimestamp(start, 0, kepler.Internal)
	want := mustParse(t, "2024-01-01T00:00:01Z")
	if !ts.Time.Equal(want) {
		t.Errorf("expected %v got %v", want, ts.Time)
	}
}

func TestDeriveTimestampConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("AWST", 8*3600)
	readout := time.Date(2024, 1, 1, 8, 0, 0, 734000000, loc)
	ts := kepler.DeriveTimestamp(readout, 0, kepler.External)
	if got := ts.ISO(); got != "2024-01-01T00:00:00.000000000" {
		t.Errorf("expected OBSTIME 2024-01-01T00:00:00.000000000, got %s", got)
	}
	if got := ts.Compact(); got != "20240101T000000" {
		t.Errorf("expected file stamp 20240101T000000, got %s", got)
	}
}
