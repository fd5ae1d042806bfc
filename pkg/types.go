package pkg

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// PatientType is chosen once at triage and never changes afterwards.
type PatientType string

const (
	PatientNewChronic PatientType = "new_chronic"
	PatientAcute      PatientType = "acute"
	PatientFollowUp   PatientType = "follow_up"
)

// Valid reports whether t is one of the known patient types.
func (t PatientType) Valid() bool {
	switch t {
	case PatientNewChronic, PatientAcute, PatientFollowUp:
		return true
	}
	return false
}

// ImageCategory decides which photo the kiosk asks for.
type ImageCategory string

const (
	ImageTongue ImageCategory = "tongue"
	ImageLesion ImageCategory = "lesion"
)

// Question slots. Scripted questions use 2..8; follow-up visits use their own
// slots so the scripted range stays empty for them.
const (
	FirstQuestionSlot   = 2
	LastQuestionSlot    = 8
	SlotFollowUpGeneral = 15
	SlotFollowUpKeynote = 16
)

var (
	ErrTypeAlreadySet     = errors.New("patient type already set")
	ErrNotRegistered      = errors.New("registration number not set")
	ErrSlotAlreadyWritten = errors.New("answer slot already written")
	ErrEmptyAnswer        = errors.New("empty answer")
)

// Photo is a captured image together with its MIME type.
type Photo struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
}

// Diagnosis is the structured result of the first model call.  Fallback is set
// when the response could not be parsed and the generic question was used.
type Diagnosis struct {
	Analysis         string `json:"analysis"`
	FollowUpQuestion string `json:"followup_question"`
	Fallback         bool   `json:"fallback"`
	Failed           bool   `json:"failed"`
}

// Prescription is the result of the second model call.  Remedy is the short
// label that gets persisted; Text is shown to the patient.
type Prescription struct {
	Text   string `json:"text"`
	Remedy string `json:"remedy"`
	Failed bool   `json:"failed"`
}

// CaseRecord is the working memory of one visit.
type CaseRecord struct {
	RegistrationNumber string         `json:"registration_number"`
	Name               string         `json:"name"`
	Phone              string         `json:"phone"`
	PatientType        PatientType    `json:"patient_type"`
	Answers            map[int]string `json:"answers"`
	LastRemedy         string         `json:"last_remedy,omitempty"`
	ImageCategory      *ImageCategory `json:"image_category,omitempty"`
	Photo              *Photo         `json:"photo,omitempty"`
	PhotoSkipped       bool           `json:"photo_skipped"`
	KeynoteQuestion    string         `json:"keynote_question,omitempty"`
	Diagnosis          *Diagnosis     `json:"diagnosis,omitempty"`
	DiagnosticAnswer   string         `json:"diagnostic_answer,omitempty"`
	Prescription       *Prescription  `json:"prescription,omitempty"`
}

// NewCaseRecord returns an empty record for a fresh visit.
func NewCaseRecord() *CaseRecord {
	return &CaseRecord{Answers: map[int]string{}}
}

// SetPatientType records the triage choice.
func (r *CaseRecord) SetPatientType(t PatientType) error {
	if r.PatientType != "" {
		return ErrTypeAlreadySet
	}
	r.PatientType = t
	return nil
}

// Answer writes text into slot.  Slots are append-only for the visit.
func (r *CaseRecord) Answer(slot int, text string) error {
	if r.RegistrationNumber == "" {
		return ErrNotRegistered
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyAnswer
	}
	if r.Answers == nil {
		r.Answers = map[int]string{}
	}
	if _, ok := r.Answers[slot]; ok {
		return ErrSlotAlreadyWritten
	}
	r.Answers[slot] = text
	return nil
}

// HasAnswer reports whether slot has been written.
func (r *CaseRecord) HasAnswer(slot int) bool {
	_, ok := r.Answers[slot]
	return ok
}

// Slots returns the written slot ids in ascending order.
func (r *CaseRecord) Slots() []int {
	slots := make([]int, 0, len(r.Answers))
	for s := range r.Answers {
		slots = append(slots, s)
	}
	sort.Ints(slots)
	return slots
}

// ResolveImageCategory sets the category the first time it is called and
// ignores every later call.  It returns the stored category.
func (r *CaseRecord) ResolveImageCategory(classify func(string) ImageCategory) ImageCategory {
	if r.ImageCategory == nil {
		c := classify(r.AnswerText())
		r.ImageCategory = &c
	}
	return *r.ImageCategory
}

// AnswerText concatenates every answer in slot order.
func (r *CaseRecord) AnswerText() string {
	parts := make([]string, 0, len(r.Answers))
	for _, s := range r.Slots() {
		parts = append(parts, r.Answers[s])
	}
	return strings.Join(parts, " ")
}

// FollowUpReport summarises the two follow-up answers for the model.
func (r *CaseRecord) FollowUpReport() string {
	if r.PatientType != PatientFollowUp {
		return ""
	}
	return "General: " + r.Answers[SlotFollowUpGeneral] +
		". Keynote Check (" + r.KeynoteQuestion + "): " + r.Answers[SlotFollowUpKeynote]
}

// PatientRecord is a row of the persistent patient store.
type PatientRecord struct {
	RegistrationNumber string    `json:"registration_number"`
	Name               string    `json:"name"`
	Phone              string    `json:"phone"`
	LastRemedy         string    `json:"last_remedy"`
	VisitDate          time.Time `json:"visit_date"`
	Notes              string    `json:"notes"`
}

// PatientVisit is the payload of a store upsert.  LastRemedy holds either a
// remedy label or a status such as "Started".
type PatientVisit struct {
	RegistrationNumber string
	Name               string
	Phone              string
	LastRemedy         string
	VisitedAt          time.Time
	Notes              string
}
