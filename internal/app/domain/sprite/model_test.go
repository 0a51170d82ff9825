package sprite

import (
	"testing"
	"time"
)

func TestParseActivity(t *testing.T) {
	tests := []struct {
		in   string
		want Activity
		ok   bool
	}{
		{"STANDING", Standing, true},
		{"running", Running, true},
		{" Running ", Running, true},
		{"SLEEPING", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := ParseActivity(tt.in)
		if tt.ok && err != nil {
			t.Fatalf("parse %q: %v", tt.in, err)
		}
		if !tt.ok && err == nil {
			t.Fatalf("parse %q: expected error", tt.in)
		}
		if got != tt.want {
			t.Fatalf("parse %q: got %q want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseBreedAndColourDefaults(t *testing.T) {
	b, err := ParseBreed("")
	if err != nil || b != BreedHusky {
		t.Fatalf("default breed: %v %v", b, err)
	}
	c, err := ParseColour(" THREE ")
	if err != nil || c != ColourThree {
		t.Fatalf("colour: %v %v", c, err)
	}
	if _, err := ParseBreed("poodle"); err == nil {
		t.Fatalf("expected unknown breed error")
	}
	if got := SheetURL(BreedAfghan, ColourTwo); got != "afghan/two" {
		t.Fatalf("unexpected url %s", got)
	}
}

func TestStateValidate(t *testing.T) {
	now := time.Now()
	if err := NewStateWithSatiation(150, now).Validate(); err != nil {
		t.Fatalf("clamped state should validate: %v", err)
	}
	bad := NewState(now)
	bad.Activity = Standing
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected inconsistent activity error")
	}
	bad = NewState(now)
	bad.RunningMinutesToday = -1
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected negative timer error")
	}
}
