package core

import (
	"testing"

	"globule-intake/pkg"
)

func registered(t pkg.PatientType) *pkg.CaseRecord {
	rec := pkg.NewCaseRecord()
	rec.PatientType = t
	rec.RegistrationNumber = "011230"
	rec.Name = "Ravi"
	rec.Phone = "9990001111"
	return rec
}

func TestLastSlot(t *testing.T) {
	tests := []struct {
		in   pkg.PatientType
		want int
	}{
		{pkg.PatientAcute, 5},
		{pkg.PatientNewChronic, 8},
		{pkg.PatientFollowUp, 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := LastSlot(tt.in); got != tt.want {
			t.Errorf("LastSlot(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEngine_TriageNeedsPatientType(t *testing.T) {
	e := NewEngine()
	rec := pkg.NewCaseRecord()
	if _, ok := e.Next(pkg.Triage{}, rec); ok {
		t.Fatal("expected no transition without a patient type")
	}
	rec.PatientType = pkg.PatientAcute
	next, ok := e.Next(pkg.Triage{}, rec)
	if !ok || next.Step() != pkg.StepRegistration {
		t.Fatalf("expected registration, got %v (ok=%v)", next, ok)
	}
}

func TestEngine_RegistrationBranches(t *testing.T) {
	e := NewEngine()

	rec := pkg.NewCaseRecord()
	rec.PatientType = pkg.PatientNewChronic
	if _, ok := e.Next(pkg.Registration{}, rec); ok {
		t.Error("expected no transition before the form is submitted")
	}
	next, ok := e.Next(pkg.Registration{}, registered(pkg.PatientNewChronic))
	if !ok || next != (pkg.Question{Slot: 2}) {
		t.Errorf("expected question 2, got %v", next)
	}

	fu := registered(pkg.PatientFollowUp)
	if _, ok := e.Next(pkg.Registration{}, fu); ok {
		t.Error("expected follow-up to wait for the last remedy")
	}
	fu.LastRemedy = "Sulphur 30C"
	next, ok = e.Next(pkg.Registration{}, fu)
	if !ok || next.Step() != pkg.StepFollowUpIntake {
		t.Errorf("expected follow-up intake, got %v", next)
	}
}

func TestEngine_QuestionLoopVisitsEverySlotOnce(t *testing.T) {
	for _, pt := range []pkg.PatientType{pkg.PatientAcute, pkg.PatientNewChronic} {
		e := NewEngine()
		rec := registered(pt)
		var state pkg.State = pkg.Question{Slot: 2}
		var visited []int
		for state.Step() == pkg.StepQuestion {
			q := state.(pkg.Question)
			visited = append(visited, q.Slot)

			if _, ok := e.Next(state, rec); ok {
				t.Fatalf("%s: advanced out of slot %d without an answer", pt, q.Slot)
			}
			if err := rec.Answer(q.Slot, "answer"); err != nil {
				t.Fatalf("answer: %v", err)
			}
			next, ok := e.Next(state, rec)
			if !ok {
				t.Fatalf("%s: stuck at slot %d", pt, q.Slot)
			}
			state = next
		}
		if state.Step() != pkg.StepCaptureImage {
			t.Errorf("%s: expected capture image after the loop, got %s", pt, state.Step())
		}
		last := LastSlot(pt)
		if len(visited) != last-1 {
			t.Fatalf("%s: visited %v", pt, visited)
		}
		for i, slot := range visited {
			if slot != i+2 {
				t.Errorf("%s: visited %v, want 2..%d in order", pt, visited, last)
				break
			}
		}
	}
}

func TestEngine_QuestionRejectsFollowUp(t *testing.T) {
	rec := registered(pkg.PatientFollowUp)
	rec.Answers[2] = "forced"
	if _, ok := NewEngine().Next(pkg.Question{Slot: 2}, rec); ok {
		t.Error("follow-up sessions must not run the question loop")
	}
}

func TestEngine_FollowUpIntakeNeedsBothAnswers(t *testing.T) {
	e := NewEngine()
	rec := registered(pkg.PatientFollowUp)
	_ = rec.Answer(pkg.SlotFollowUpGeneral, "better")
	if _, ok := e.Next(pkg.FollowUpIntake{}, rec); ok {
		t.Fatal("expected to wait for the keynote answer")
	}
	_ = rec.Answer(pkg.SlotFollowUpKeynote, "no")
	next, ok := e.Next(pkg.FollowUpIntake{}, rec)
	if !ok || next.Step() != pkg.StepAnalyze {
		t.Errorf("expected analyze, got %v", next)
	}
}

func TestEngine_CaptureImage(t *testing.T) {
	e := NewEngine()
	rec := registered(pkg.PatientAcute)
	if _, ok := e.Next(pkg.CaptureImage{}, rec); ok {
		t.Fatal("expected to wait for a photo or a skip")
	}
	rec.PhotoSkipped = true
	if next, ok := e.Next(pkg.CaptureImage{}, rec); !ok || next.Step() != pkg.StepAnalyze {
		t.Errorf("expected analyze after skip, got %v", next)
	}

	rec = registered(pkg.PatientAcute)
	rec.Photo = &pkg.Photo{Data: []byte{0xff}}
	if next, ok := e.Next(pkg.CaptureImage{}, rec); !ok || next.Step() != pkg.StepAnalyze {
		t.Errorf("expected analyze after photo, got %v", next)
	}
}

func TestEngine_Analyze(t *testing.T) {
	e := NewEngine()

	tests := []struct {
		name   string
		pt     pkg.PatientType
		diag   *pkg.Diagnosis
		answer string
		want   pkg.Step
		ok     bool
	}{
		{"no result yet", pkg.PatientAcute, nil, "", pkg.StepAnalyze, false},
		{"waiting for differential answer", pkg.PatientAcute, &pkg.Diagnosis{FollowUpQuestion: "q"}, "", pkg.StepAnalyze, false},
		{"answered", pkg.PatientAcute, &pkg.Diagnosis{FollowUpQuestion: "q"}, "haan", pkg.StepPrescribe, true},
		{"fallback answered", pkg.PatientNewChronic, &pkg.Diagnosis{FollowUpQuestion: "q", Fallback: true}, "nahi", pkg.StepPrescribe, true},
		{"follow-up goes straight on", pkg.PatientFollowUp, &pkg.Diagnosis{Analysis: "a"}, "", pkg.StepPrescribe, true},
		{"failed call ends the visit", pkg.PatientAcute, &pkg.Diagnosis{Failed: true}, "", pkg.StepTerminal, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := registered(tt.pt)
			rec.Diagnosis = tt.diag
			rec.DiagnosticAnswer = tt.answer
			next, ok := e.Next(pkg.Analyze{}, rec)
			if ok != tt.ok || next.Step() != tt.want {
				t.Errorf("got %s (ok=%v), want %s (ok=%v)", next.Step(), ok, tt.want, tt.ok)
			}
		})
	}
}

func TestEngine_PrescribeAndTerminal(t *testing.T) {
	e := NewEngine()
	rec := registered(pkg.PatientAcute)
	if _, ok := e.Next(pkg.Prescribe{}, rec); ok {
		t.Fatal("expected to wait for the prescription")
	}
	rec.Prescription = &pkg.Prescription{Text: "Arnica 200"}
	if next, ok := e.Next(pkg.Prescribe{}, rec); !ok || next.Step() != pkg.StepTerminal {
		t.Errorf("expected terminal, got %v", next)
	}
	if _, ok := e.Next(pkg.Terminal{}, rec); ok {
		t.Error("terminal must only be left through a reset")
	}
}
