package schedule

import (
	"encoding/json"
	"testing"
)

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()

	ok := map[string]TimeOfDay{
		"09:30":   {9, 30},
		"9:05":    {9, 5},
		" 23:59 ": {23, 59},
		"00:00":   {0, 0},
	}
	for in, want := range ok {
		got, err := ParseTimeOfDay(in)
		if err != nil || got != want {
			t.Fatalf("ParseTimeOfDay(%q)=%v,%v want %v", in, got, err, want)
		}
	}
	for _, in := range []string{"", "24:00", "12:60", "1230", "ab:cd", "12:5", "-1:00"} {
		if _, err := ParseTimeOfDay(in); err == nil {
			t.Fatalf("ParseTimeOfDay(%q) accepted", in)
		}
	}
}

func TestParseFrequency(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Frequency{"Daily": Daily, "weekly": Weekly, " MONTHLY ": Monthly} {
		got, err := ParseFrequency(in)
		if err != nil || got != want {
			t.Fatalf("ParseFrequency(%q)=%v,%v", in, got, err)
		}
	}
	if _, err := ParseFrequency("Hourly"); err == nil {
		t.Fatalf("ParseFrequency accepted Hourly")
	}
}

func TestTextEncoding(t *testing.T) {
	t.Parallel()

	in := struct {
		At   TimeOfDay `json:"at"`
		Freq Frequency `json:"freq"`
	}{TimeOfDay{7, 5}, Weekly}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"at":"07:05","freq":"Weekly"}` {
		t.Fatalf("json=%s", b)
	}
	if err := json.Unmarshal([]byte(`{"at":"25:00","freq":"Weekly"}`), &in); err == nil {
		t.Fatalf("unmarshal accepted invalid time")
	}
}
