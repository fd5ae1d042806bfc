package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"globule-intake/internal/db"
	"globule-intake/internal/llm"
	"globule-intake/internal/speech"
	"globule-intake/pkg"
)

var (
	// ErrUnexpectedInput is returned when the current step does not accept the
	// input kind at all.  The session is left untouched.
	ErrUnexpectedInput = errors.New("input not accepted in current step")
	// ErrInvalidInput is returned for a malformed payload of an accepted kind.
	ErrInvalidInput = errors.New("invalid input")
)

const (
	// KeynoteFallbackQuestion is asked when the keynote question could not be
	// generated.
	KeynoteFallbackQuestion = "क्या पुरानी तकलीफ अभी भी है? (Is the old complaint still present?)"

	// maxHops bounds the automatic transitions followed within one input.
	maxHops = 8
)

// PatientStore is the persistence the intake flow needs.
type PatientStore interface {
	Find(ctx context.Context, regNo string) (*pkg.PatientRecord, error)
	Upsert(ctx context.Context, v pkg.PatientVisit) error
}

var (
	_ PatientStore  = (*db.Repository)(nil)
	_ PatientStore  = (*db.MemoryStore)(nil)
	_ VisitNotifier = (*db.Notifier)(nil)
)

// VisitNotifier announces a prescribed visit to the doctor console.
type VisitNotifier interface {
	Notify(ctx context.Context, regNo string) error
}

// PhotoArchiver keeps a copy of a captured photo.
type PhotoArchiver interface {
	Archive(ctx context.Context, regNo string, p *pkg.Photo, at time.Time) (string, error)
}

// Intake drives one session at a time through the transition table and runs
// the side effects of every step it enters.
type Intake struct {
	Engine      *Engine
	LLM         llm.Client
	Store       PatientStore
	Recognizer  speech.Recognizer
	Synthesizer speech.Synthesizer
	// Notifier and Archive are optional.
	Notifier VisitNotifier
	Archive  PhotoArchiver
	Language string
	Log      zerolog.Logger
	Now      func() time.Time
}

// NewIntake wires the orchestrator with its collaborators.
func NewIntake(client llm.Client, store PatientStore, rec speech.Recognizer, syn speech.Synthesizer, log zerolog.Logger) *Intake {
	return &Intake{
		Engine:      NewEngine(),
		LLM:         client,
		Store:       store,
		Recognizer:  rec,
		Synthesizer: syn,
		Language:    "hi",
		Log:         log,
		Now:         time.Now,
	}
}

// RegistrationNumber derives the number for a new visit from the day, hour and
// minute of t.  Two visits started in the same minute get the same number.
func RegistrationNumber(t time.Time) string {
	return t.Format("021504")
}

// Begin renders the current step of a freshly created session.
func (in *Intake) Begin(ctx context.Context, s *pkg.Session) pkg.Reply {
	reply := pkg.Reply{SessionID: s.ID}
	in.render(ctx, s, &reply, true)
	return reply
}

// View renders the current step without side effects.
func (in *Intake) View(s *pkg.Session) pkg.Reply {
	reply := pkg.Reply{SessionID: s.ID}
	in.render(context.Background(), s, &reply, false)
	return reply
}

// Advance applies one input to the session: it records the input, follows
// every transition whose guard is now satisfied, runs the entry effects of the
// steps it passes through and renders the step it stops at.
func (in *Intake) Advance(ctx context.Context, s *pkg.Session, input pkg.Input) (pkg.Reply, error) {
	reply := pkg.Reply{SessionID: s.ID}
	before := s.State

	if input.Kind == pkg.InputReset {
		in.Log.Info().Str("session_id", s.ID).Str("reg_no", s.Record.RegistrationNumber).Msg("session reset")
		s.Record = pkg.NewCaseRecord()
		s.State = pkg.Triage{}
		s.UpdatedAt = in.now()
		in.render(ctx, s, &reply, true)
		return reply, nil
	}

	commit, err := in.apply(ctx, s, input, &reply)
	if err != nil {
		in.render(ctx, s, &reply, false)
		return reply, err
	}
	if commit {
		in.follow(ctx, s, &reply)
	}
	s.UpdatedAt = in.now()
	in.render(ctx, s, &reply, s.State != before)
	return reply, nil
}

// apply records the input on the case record.  commit reports whether the
// input asks the flow to move on.
func (in *Intake) apply(ctx context.Context, s *pkg.Session, input pkg.Input, reply *pkg.Reply) (commit bool, err error) {
	rec := s.Record
	if input.Kind == pkg.InputAdvance {
		return true, nil
	}

	switch st := s.State.(type) {
	case pkg.Triage:
		if input.Kind != pkg.InputSelectType {
			break
		}
		if !input.PatientType.Valid() {
			return false, fmt.Errorf("%w: unknown patient type %q", ErrInvalidInput, input.PatientType)
		}
		if err := rec.SetPatientType(input.PatientType); err != nil {
			return false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return true, nil

	case pkg.Registration:
		switch {
		case input.Kind == pkg.InputRegister && rec.PatientType != pkg.PatientFollowUp:
			return in.register(ctx, s, input, reply), nil
		case input.Kind == pkg.InputLookup && rec.PatientType == pkg.PatientFollowUp:
			return in.lookup(ctx, s, input, reply), nil
		}

	case pkg.Question:
		if text, ok := in.answerText(ctx, s, input, reply); ok {
			in.writeSlot(s, st.Slot, text, reply)
			return false, nil
		}

	case pkg.FollowUpIntake:
		if text, ok := in.answerText(ctx, s, input, reply); ok {
			slot := pkg.SlotFollowUpGeneral
			if rec.HasAnswer(slot) {
				slot = pkg.SlotFollowUpKeynote
			}
			in.writeSlot(s, slot, text, reply)
			return false, nil
		}

	case pkg.CaptureImage:
		switch input.Kind {
		case pkg.InputPhoto:
			if input.Photo == nil || len(input.Photo.Data) == 0 {
				return false, fmt.Errorf("%w: empty photo", ErrInvalidInput)
			}
			rec.Photo = input.Photo
			in.archive(ctx, s)
			return true, nil
		case pkg.InputSkipPhoto:
			rec.PhotoSkipped = true
			return true, nil
		}

	case pkg.Analyze:
		if text, ok := in.answerText(ctx, s, input, reply); ok {
			if rec.Diagnosis != nil && !rec.Diagnosis.Failed && rec.DiagnosticAnswer == "" {
				rec.DiagnosticAnswer = text
			} else {
				reply.Notice = "answer already recorded"
			}
			return false, nil
		}
	}

	// an empty or unrecognised answer is not an error, the step re-prompts
	if inputAccepted(s.State, input.Kind) {
		return false, nil
	}
	return false, fmt.Errorf("%w: %s during %s", ErrUnexpectedInput, input.Kind, s.State.Step())
}

func inputAccepted(st pkg.State, kind pkg.InputKind) bool {
	switch st.(type) {
	case pkg.Question, pkg.FollowUpIntake, pkg.Analyze:
		return kind == pkg.InputAnswer || kind == pkg.InputAudio
	}
	return false
}

// answerText extracts typed or spoken text.  ok is false when the input is not
// an answer or nothing usable was captured.
func (in *Intake) answerText(ctx context.Context, s *pkg.Session, input pkg.Input, reply *pkg.Reply) (string, bool) {
	var text string
	switch input.Kind {
	case pkg.InputAnswer:
		text = input.Text
	case pkg.InputAudio:
		if in.Recognizer == nil {
			return "", false
		}
		heard, err := in.Recognizer.Recognize(ctx, input.Audio, in.Language)
		if err != nil {
			in.Log.Warn().Err(err).Str("session_id", s.ID).Msg("speech recognition failed")
			return "", false
		}
		text = heard
	default:
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	reply.Transcript = text
	return text, true
}

func (in *Intake) writeSlot(s *pkg.Session, slot int, text string, reply *pkg.Reply) {
	err := s.Record.Answer(slot, text)
	switch {
	case err == nil:
	case errors.Is(err, pkg.ErrSlotAlreadyWritten):
		reply.Notice = "answer already recorded"
	default:
		in.Log.Warn().Err(err).Str("session_id", s.ID).Int("slot", slot).Msg("answer not recorded")
	}
}

func (in *Intake) register(ctx context.Context, s *pkg.Session, input pkg.Input, reply *pkg.Reply) bool {
	name := strings.TrimSpace(input.Name)
	phone := strings.TrimSpace(input.Phone)
	if name == "" || phone == "" {
		reply.Error = "Name and Mobile are required"
		return false
	}
	rec := s.Record
	rec.RegistrationNumber = RegistrationNumber(in.now())
	rec.Name = name
	rec.Phone = phone

	err := in.Store.Upsert(ctx, pkg.PatientVisit{
		RegistrationNumber: rec.RegistrationNumber,
		Name:               name,
		Phone:              phone,
		LastRemedy:         "Started",
		VisitedAt:          in.now(),
	})
	if err != nil {
		in.Log.Error().Err(err).Str("session_id", s.ID).Str("reg_no", rec.RegistrationNumber).Msg("failed to save registration")
		reply.Error = "Database Error: " + err.Error()
	}
	return true
}

func (in *Intake) lookup(ctx context.Context, s *pkg.Session, input pkg.Input, reply *pkg.Reply) bool {
	regNo := strings.TrimSpace(input.RegistrationNumber)
	p, err := in.Store.Find(ctx, regNo)
	if err != nil {
		if errors.Is(err, db.ErrPatientNotFound) {
			reply.Error = NotFoundMessage
		} else {
			in.Log.Error().Err(err).Str("session_id", s.ID).Str("reg_no", regNo).Msg("patient lookup failed")
			reply.Error = "Database Error: " + err.Error()
		}
		return false
	}
	rec := s.Record
	rec.RegistrationNumber = p.RegistrationNumber
	rec.Name = p.Name
	rec.Phone = p.Phone
	rec.LastRemedy = strings.TrimSpace(p.LastRemedy)
	if rec.LastRemedy == "" {
		rec.LastRemedy = "None"
	}
	reply.Notice = "Found: " + p.Name
	return true
}

func (in *Intake) archive(ctx context.Context, s *pkg.Session) {
	if in.Archive == nil {
		return
	}
	key, err := in.Archive.Archive(ctx, s.Record.RegistrationNumber, s.Record.Photo, in.now())
	if err != nil {
		in.Log.Warn().Err(err).Str("session_id", s.ID).Msg("photo archive failed")
		return
	}
	in.Log.Debug().Str("session_id", s.ID).Str("key", key).Msg("photo archived")
}

// follow takes every transition the engine allows, running entry effects as
// it goes.
func (in *Intake) follow(ctx context.Context, s *pkg.Session, reply *pkg.Reply) {
	for i := 0; i < maxHops; i++ {
		next, ok := in.Engine.Next(s.State, s.Record)
		if !ok {
			return
		}
		in.Log.Info().
			Str("session_id", s.ID).
			Str("reg_no", s.Record.RegistrationNumber).
			Stringer("from", s.State.Step()).
			Stringer("to", next.Step()).
			Msg("intake transition")
		s.State = next
		in.enter(ctx, s, reply)
	}
}

// enter runs the side effects of the step just entered.  Model results are
// kept on the record, so a step is never sent to the model twice.
func (in *Intake) enter(ctx context.Context, s *pkg.Session, reply *pkg.Reply) {
	rec := s.Record
	switch s.State.(type) {
	case pkg.FollowUpIntake:
		if rec.KeynoteQuestion != "" {
			return
		}
		q, err := in.LLM.Generate(ctx, KeynotePrompt(rec.LastRemedy), nil)
		q = strings.TrimSpace(q)
		if err != nil || q == "" {
			in.Log.Warn().Err(err).Str("session_id", s.ID).Msg("keynote question unavailable")
			q = KeynoteFallbackQuestion
		}
		rec.KeynoteQuestion = q

	case pkg.CaptureImage:
		cat := rec.ResolveImageCategory(Classify)
		s.State = pkg.CaptureImage{Category: cat}

	case pkg.Analyze:
		if rec.Diagnosis != nil {
			return
		}
		text, err := in.LLM.Generate(ctx, DiagnosticPrompt(rec, rec.Photo != nil), rec.Photo)
		if err != nil {
			in.Log.Error().Err(err).Str("session_id", s.ID).Msg("diagnostic request failed")
			rec.Diagnosis = &pkg.Diagnosis{Analysis: "Error: " + err.Error(), Failed: true}
			reply.Error = rec.Diagnosis.Analysis
			return
		}
		d := ParseDiagnosis(text)
		if d.Fallback {
			in.Log.Warn().Str("session_id", s.ID).Msg("unparsable diagnostic response, using fallback question")
		}
		rec.Diagnosis = &d

	case pkg.Prescribe:
		if rec.Prescription != nil {
			return
		}
		text, err := in.LLM.Generate(ctx, PrescriptionPrompt(rec), nil)
		if err != nil {
			in.Log.Error().Err(err).Str("session_id", s.ID).Msg("prescription request failed")
			rec.Prescription = &pkg.Prescription{Text: "Error: " + err.Error(), Failed: true}
			reply.Error = rec.Prescription.Text
			return
		}
		rec.Prescription = &pkg.Prescription{Text: text, Remedy: RemedyLabel(text)}
		in.persist(ctx, s, reply)
	}
}

func (in *Intake) persist(ctx context.Context, s *pkg.Session, reply *pkg.Reply) {
	rec := s.Record
	err := in.Store.Upsert(ctx, pkg.PatientVisit{
		RegistrationNumber: rec.RegistrationNumber,
		Name:               rec.Name,
		Phone:              rec.Phone,
		LastRemedy:         rec.Prescription.Remedy,
		VisitedAt:          in.now(),
		Notes:              Notes(rec.Prescription.Text),
	})
	if err != nil {
		in.Log.Error().Err(err).Str("session_id", s.ID).Str("reg_no", rec.RegistrationNumber).Msg("failed to save prescription")
		reply.Error = "Database Error: " + err.Error()
		return
	}
	if in.Notifier != nil {
		if err := in.Notifier.Notify(ctx, rec.RegistrationNumber); err != nil {
			in.Log.Warn().Err(err).Str("reg_no", rec.RegistrationNumber).Msg("visit notification failed")
		}
	}
}

// render fills the outbound signals for the current step.  speak asks for the
// spoken prompt as well; it is only set when the step changed.
func (in *Intake) render(ctx context.Context, s *pkg.Session, reply *pkg.Reply, speak bool) {
	rec := s.Record
	reply.Step = s.State.Step()
	var voice string

	switch st := s.State.(type) {
	case pkg.Triage:
		reply.Prompt = TriagePrompt
		voice = TriagePrompt
	case pkg.Registration:
		reply.Prompt = RegistrationPrompt
		if rec.PatientType == pkg.PatientFollowUp {
			reply.Prompt = LookupPrompt
		}
		voice = reply.Prompt
	case pkg.Question:
		reply.Slot = st.Slot
		reply.Prompt = QuestionText(st.Slot)
		voice = reply.Prompt
	case pkg.FollowUpIntake:
		q := GeneralUpdateQuestion
		if rec.HasAnswer(pkg.SlotFollowUpGeneral) {
			q = KeynoteQuestionPrompt(rec.KeynoteQuestion)
		}
		reply.Prompt = fmt.Sprintf("Welcome back %s. Last Medicine: %s\n%s", rec.Name, rec.LastRemedy, q)
		voice = q
	case pkg.CaptureImage:
		reply.ImageCategory = rec.ImageCategory
		reply.Prompt = PhotoPrompt(st.Category)
		voice = reply.Prompt
	case pkg.Analyze:
		if rec.Diagnosis != nil && !rec.Diagnosis.Failed {
			reply.Prompt = rec.Diagnosis.FollowUpQuestion
			reply.Result = rec.Diagnosis.Analysis
			voice = reply.Prompt
		} else {
			reply.Prompt = ThinkingPrompt
		}
	case pkg.Prescribe:
		reply.Prompt = ThinkingPrompt
	case pkg.Terminal:
		switch {
		case rec.Prescription != nil:
			reply.Result = rec.Prescription.Text
			if !rec.Prescription.Failed {
				reply.Prompt = "Prescription Generated!"
				voice = SpokenSummary(rec.Prescription.Text)
			}
		case rec.Diagnosis != nil:
			reply.Result = rec.Diagnosis.Analysis
		}
	}

	if speak && voice != "" && in.Synthesizer != nil {
		audio, err := in.Synthesizer.Synthesize(ctx, voice, in.Language)
		if err != nil {
			in.Log.Warn().Err(err).Str("session_id", s.ID).Msg("speech synthesis failed")
			return
		}
		reply.Audio = audio
	}
}

func (in *Intake) now() time.Time {
	if in.Now == nil {
		return time.Now()
	}
	return in.Now()
}
