package core

import "globule-intake/pkg"

// LastSlot returns the final scripted question slot for t.  Follow-up visits
// have no scripted questions and get 0.
func LastSlot(t pkg.PatientType) int {
	switch t {
	case pkg.PatientAcute:
		return 5
	case pkg.PatientNewChronic:
		return pkg.LastQuestionSlot
	}
	return 0
}

// transition inspects the record and returns the next state, or false when the
// exit guard of the current state is not met yet.
type transition func(cur pkg.State, rec *pkg.CaseRecord) (pkg.State, bool)

// Engine is the step transition table of the intake flow.  It never mutates
// the record.
type Engine struct {
	table map[pkg.Step]transition
}

// NewEngine builds the transition table.
func NewEngine() *Engine {
	return &Engine{table: map[pkg.Step]transition{
		pkg.StepTriage:         fromTriage,
		pkg.StepRegistration:   fromRegistration,
		pkg.StepQuestion:       fromQuestion,
		pkg.StepFollowUpIntake: fromFollowUpIntake,
		pkg.StepCaptureImage:   fromCaptureImage,
		pkg.StepAnalyze:        fromAnalyze,
		pkg.StepPrescribe:      fromPrescribe,
		// terminal has no automatic exit, only a reset
	}}
}

// Next computes the state that follows cur.  ok is false when the session must
// stay where it is.
func (e *Engine) Next(cur pkg.State, rec *pkg.CaseRecord) (next pkg.State, ok bool) {
	if cur == nil || rec == nil {
		return cur, false
	}
	t, found := e.table[cur.Step()]
	if !found {
		return cur, false
	}
	next, ok = t(cur, rec)
	if !ok {
		return cur, false
	}
	return next, true
}

func fromTriage(_ pkg.State, rec *pkg.CaseRecord) (pkg.State, bool) {
	if !rec.PatientType.Valid() {
		return nil, false
	}
	return pkg.Registration{}, true
}

func fromRegistration(_ pkg.State, rec *pkg.CaseRecord) (pkg.State, bool) {
	if rec.RegistrationNumber == "" {
		return nil, false
	}
	switch rec.PatientType {
	case pkg.PatientNewChronic, pkg.PatientAcute:
		if rec.Name == "" {
			return nil, false
		}
		return pkg.Question{Slot: pkg.FirstQuestionSlot}, true
	case pkg.PatientFollowUp:
		if rec.LastRemedy == "" {
			return nil, false
		}
		return pkg.FollowUpIntake{}, true
	}
	return nil, false
}

func fromQuestion(cur pkg.State, rec *pkg.CaseRecord) (pkg.State, bool) {
	q, ok := cur.(pkg.Question)
	last := LastSlot(rec.PatientType)
	if !ok || last == 0 || !rec.HasAnswer(q.Slot) {
		return nil, false
	}
	if q.Slot < last {
		return pkg.Question{Slot: q.Slot + 1}, true
	}
	return pkg.CaptureImage{}, true
}

func fromFollowUpIntake(_ pkg.State, rec *pkg.CaseRecord) (pkg.State, bool) {
	if rec.HasAnswer(pkg.SlotFollowUpGeneral) && rec.HasAnswer(pkg.SlotFollowUpKeynote) {
		return pkg.Analyze{}, true
	}
	return nil, false
}

func fromCaptureImage(_ pkg.State, rec *pkg.CaseRecord) (pkg.State, bool) {
	if rec.Photo == nil && !rec.PhotoSkipped {
		return nil, false
	}
	return pkg.Analyze{}, true
}

func fromAnalyze(_ pkg.State, rec *pkg.CaseRecord) (pkg.State, bool) {
	d := rec.Diagnosis
	switch {
	case d == nil:
		return nil, false
	case d.Failed:
		return pkg.Terminal{}, true
	case rec.PatientType == pkg.PatientFollowUp:
		return pkg.Prescribe{}, true
	case rec.DiagnosticAnswer != "":
		return pkg.Prescribe{}, true
	}
	return nil, false
}

func fromPrescribe(_ pkg.State, rec *pkg.CaseRecord) (pkg.State, bool) {
	if rec.Prescription == nil {
		return nil, false
	}
	return pkg.Terminal{}, true
}
