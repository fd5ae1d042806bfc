package pkg

import (
	"fmt"
	"time"
)

// Step names a point in the intake flow.
type Step int

const (
	StepTriage Step = iota
	StepRegistration
	StepQuestion
	StepFollowUpIntake
	StepCaptureImage
	StepAnalyze
	StepPrescribe
	StepTerminal
)

var stepNames = map[Step]string{
	StepTriage:         "triage",
	StepRegistration:   "registration",
	StepQuestion:       "question",
	StepFollowUpIntake: "follow_up_intake",
	StepCaptureImage:   "capture_image",
	StepAnalyze:        "analyze",
	StepPrescribe:      "prescribe",
	StepTerminal:       "terminal",
}

func (s Step) String() string {
	if n, ok := stepNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Step) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a step name written by MarshalText.
func (s *Step) UnmarshalText(b []byte) error {
	name := string(b)
	for step, n := range stepNames {
		if n == name {
			*s = step
			return nil
		}
	}
	return fmt.Errorf("unknown step %q", name)
}

// State is the current position of a Session.  Each variant carries only the
// data that is meaningful while the session sits in it.
type State interface {
	Step() Step
	state()
}

type (
	Triage       struct{}
	Registration struct{}
	// Question asks scripted question Slot.
	Question       struct{ Slot int }
	FollowUpIntake struct{}
	CaptureImage   struct{ Category ImageCategory }
	Analyze        struct{}
	Prescribe      struct{}
	Terminal       struct{}
)

func (Triage) Step() Step         { return StepTriage }
func (Registration) Step() Step   { return StepRegistration }
func (Question) Step() Step       { return StepQuestion }
func (FollowUpIntake) Step() Step { return StepFollowUpIntake }
func (CaptureImage) Step() Step   { return StepCaptureImage }
func (Analyze) Step() Step        { return StepAnalyze }
func (Prescribe) Step() Step      { return StepPrescribe }
func (Terminal) Step() Step       { return StepTerminal }

func (Triage) state()         {}
func (Registration) state()   {}
func (Question) state()       {}
func (FollowUpIntake) state() {}
func (CaptureImage) state()   {}
func (Analyze) state()        {}
func (Prescribe) state()      {}
func (Terminal) state()       {}

// Session is the in-memory state of one patient visit.
type Session struct {
	ID        string      `json:"id"`
	Record    *CaseRecord `json:"record"`
	State     State       `json:"-"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// NewSession starts a visit at triage.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		Record:    NewCaseRecord(),
		State:     Triage{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// InputKind enumerates the inbound UI events.
type InputKind string

const (
	InputSelectType InputKind = "select_type"
	InputRegister   InputKind = "register"
	InputLookup     InputKind = "lookup"
	InputAnswer     InputKind = "answer"
	InputAudio      InputKind = "audio"
	InputPhoto      InputKind = "photo"
	InputSkipPhoto  InputKind = "skip_photo"
	InputAdvance    InputKind = "advance"
	InputReset      InputKind = "reset"
)

// Input is one event from the kiosk UI.  Only the fields relevant to Kind are
// read.
type Input struct {
	Kind               InputKind   `json:"kind"`
	PatientType        PatientType `json:"patient_type,omitempty"`
	Name               string      `json:"name,omitempty"`
	Phone              string      `json:"phone,omitempty"`
	RegistrationNumber string      `json:"registration_number,omitempty"`
	Text               string      `json:"text,omitempty"`
	Audio              []byte      `json:"-"`
	Photo              *Photo      `json:"-"`
}

// Reply holds the outbound signals produced by one input.
type Reply struct {
	SessionID     string         `json:"session_id"`
	Step          Step           `json:"step"`
	Slot          int            `json:"slot,omitempty"`
	Prompt        string         `json:"prompt,omitempty"`
	Transcript    string         `json:"transcript,omitempty"`
	Audio         []byte         `json:"audio,omitempty"`
	Result        string         `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	Notice        string         `json:"notice,omitempty"`
	ImageCategory *ImageCategory `json:"image_category,omitempty"`
}
