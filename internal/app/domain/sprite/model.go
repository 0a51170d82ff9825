package sprite

import (
	"fmt"
	"strings"
	"time"
)

// Satiation bounds and the threshold separating the two activity states.
const (
	MinSatiation     = 0
	MaxSatiation     = 100
	RunningThreshold = 50
	DefaultSatiation = 50
)

// Activity is the sprite's animation state. It is derived from satiation and
// never set independently.
type Activity string

const (
	Standing Activity = "STANDING"
	Running  Activity = "RUNNING"
)

// DeriveActivity returns Running when satiation reaches the threshold.
func DeriveActivity(satiation int) Activity {
	if satiation >= RunningThreshold {
		return Running
	}
	return Standing
}

// ParseActivity accepts the stored representation, case-insensitively.
func ParseActivity(raw string) (Activity, error) {
	switch Activity(strings.ToUpper(strings.TrimSpace(raw))) {
	case Standing:
		return Standing, nil
	case Running:
		return Running, nil
	default:
		return "", fmt.Errorf("unknown activity state %q", raw)
	}
}

// Valid reports whether a is one of the two known states.
func (a Activity) Valid() bool {
	return a == Standing || a == Running
}

// Breed selects the sprite sheet family.
type Breed string

const (
	BreedHusky  Breed = "husky"
	BreedAfghan Breed = "afghan"
)

// Colour selects the sprite sheet variant.
type Colour string

const (
	ColourOne   Colour = "one"
	ColourTwo   Colour = "two"
	ColourThree Colour = "three"
)

// ParseBreed normalises raw input; empty input yields the husky default.
func ParseBreed(raw string) (Breed, error) {
	switch b := Breed(strings.ToLower(strings.TrimSpace(raw))); b {
	case "":
		return BreedHusky, nil
	case BreedHusky, BreedAfghan:
		return b, nil
	default:
		return "", fmt.Errorf("unknown breed %q", raw)
	}
}

// ParseColour normalises raw input; empty input yields colour one.
func ParseColour(raw string) (Colour, error) {
	switch c := Colour(strings.ToLower(strings.TrimSpace(raw))); c {
	case "":
		return ColourOne, nil
	case ColourOne, ColourTwo, ColourThree:
		return c, nil
	default:
		return "", fmt.Errorf("unknown colour %q", raw)
	}
}

// SheetURL is the relative sprite sheet location used by the client.
func SheetURL(b Breed, c Colour) string {
	return string(b) + "/" + string(c)
}

// State is the mutable, time-dependent part of a sprite.
type State struct {
	Satiation            int       `json:"satiation"`
	Activity             Activity  `json:"activity_state"`
	StandingMinutesToday int       `json:"time_in_standing_today"`
	RunningMinutesToday  int       `json:"time_in_running_today"`
	LastObservedAt       time.Time `json:"last_observed_at"`
}

// NewState returns the state of a freshly fostered sprite observed at now.
func NewState(now time.Time) State {
	return NewStateWithSatiation(DefaultSatiation, now)
}

// NewStateWithSatiation clamps satiation and derives the activity state.
func NewStateWithSatiation(satiation int, now time.Time) State {
	satiation = clamp(satiation)
	return State{
		Satiation:      satiation,
		Activity:       DeriveActivity(satiation),
		LastObservedAt: now,
	}
}

// Validate checks the persisted invariants.
func (s State) Validate() error {
	if s.Satiation < MinSatiation || s.Satiation > MaxSatiation {
		return fmt.Errorf("satiation %d out of range [%d, %d]", s.Satiation, MinSatiation, MaxSatiation)
	}
	if !s.Activity.Valid() {
		return fmt.Errorf("invalid activity state %q", s.Activity)
	}
	if s.Activity != DeriveActivity(s.Satiation) {
		return fmt.Errorf("activity %s inconsistent with satiation %d", s.Activity, s.Satiation)
	}
	if s.StandingMinutesToday < 0 || s.RunningMinutesToday < 0 {
		return fmt.Errorf("negative day timers")
	}
	return nil
}

// Sprite is a fostered animal's virtual representation.
type Sprite struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	AnimalID  string    `json:"animal_id"`
	Breed     Breed     `json:"breed"`
	Colour    Colour    `json:"colour"`
	URL       string    `json:"url"`
	State               // flattened into the JSON body
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status is the payload returned by a refresh.
type Status struct {
	Satiation            int      `json:"satiation"`
	Activity             Activity `json:"activity_state"`
	StandingMinutesToday int      `json:"time_in_standing_today"`
	RunningMinutesToday  int      `json:"time_in_running_today"`
}

// StatusOf projects the refresh payload from a state.
func StatusOf(s State) Status {
	return Status{
		Satiation:            s.Satiation,
		Activity:             s.Activity,
		StandingMinutesToday: s.StandingMinutesToday,
		RunningMinutesToday:  s.RunningMinutesToday,
	}
}

func clamp(v int) int {
	if v < MinSatiation {
		return MinSatiation
	}
	if v > MaxSatiation {
		return MaxSatiation
	}
	return v
}
