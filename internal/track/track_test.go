package track

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 5, 12, 8, 30, 0, 0, time.UTC)

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"latitude":35.228950619029085,"longitude":126.8427269951037,"timestamp":1715502600000}`), t0)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Latitude != 35.228950619029085 || ev.Longitude != 126.8427269951037 {
		t.Errorf("coordinates mangled: %v", ev)
	}
	if ev.Timestamp != 1715502600000 {
		t.Errorf("timestamp mangled: %d", ev.Timestamp)
	}
}

func TestParseEventDefaultTimestamp(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"latitude":1,"longitude":2}`), t0)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Timestamp != t0.UnixMilli() {
		t.Errorf("expected receipt time %d, got %d", t0.UnixMilli(), ev.Timestamp)
	}
}

func TestParseEventMissingCoordinate(t *testing.T) {
	_, err := ParseEvent([]byte(`{"latitude":1}`), t0)
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestParseEventNonNumeric(t *testing.T) {
	_, err := ParseEvent([]byte(`{"latitude":"abc","longitude":2}`), t0)
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestParseEventOutOfRange(t *testing.T) {
	cases := []string{
		`{"latitude":91,"longitude":0}`,
		`{"latitude":-91,"longitude":0}`,
		`{"latitude":0,"longitude":181}`,
		`{"latitude":0,"longitude":-181}`,
	}
	for _, c := range cases {
		_, err := ParseEvent([]byte(c), t0)
		if _, ok := err.(*ValidationError); !ok {
			t.Errorf("%s: expected ValidationError, got %v", c, err)
		}
	}
}

func TestParseEventStationaryRepeat(t *testing.T) {
	// identical repeated coordinates are valid
	for i := 0; i < 3; i++ {
		_, err := ParseEvent([]byte(`{"latitude":0,"longitude":0}`), t0)
		if err != nil {
			t.Fatal(err)
		}
	}
}
