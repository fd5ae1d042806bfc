package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"globule-intake/pkg"
)

func TestMemoryStore_FindMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Find(context.Background(), "0112300")
	if !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("expected ErrPatientNotFound, got %v", err)
	}
}

func TestMemoryStore_UpsertTwiceKeepsOneRow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	first := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	second := first.AddDate(0, 0, 14)

	if err := s.Upsert(ctx, pkg.PatientVisit{
		RegistrationNumber: "011230", Name: "Ravi", Phone: "9990001111",
		LastRemedy: "Started", VisitedAt: first,
	}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.Upsert(ctx, pkg.PatientVisit{
		RegistrationNumber: "011230", Name: "Someone Else", Phone: "000",
		LastRemedy: "Sulphur 30C", VisitedAt: second, Notes: "repeat in 2 weeks",
	}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if s.Len() != 1 {
		t.Fatalf("expected 1 row, got %d", s.Len())
	}
	p, err := s.Find(ctx, "011230")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if p.LastRemedy != "Sulphur 30C" {
		t.Errorf("expected remedy to be updated, got %q", p.LastRemedy)
	}
	if !p.VisitDate.Equal(second) {
		t.Errorf("expected visit date %v, got %v", second, p.VisitDate)
	}
	if p.Notes != "repeat in 2 weeks" {
		t.Errorf("expected notes to be updated, got %q", p.Notes)
	}
	if p.Name != "Ravi" || p.Phone != "9990001111" {
		t.Errorf("expected identity columns untouched, got %q / %q", p.Name, p.Phone)
	}
}

func TestMemoryStore_DistinctNumbersGetDistinctRows(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, reg := range []string{"011230", "011231", "011230"} {
		if err := s.Upsert(ctx, pkg.PatientVisit{RegistrationNumber: reg, LastRemedy: "Started"}); err != nil {
			t.Fatalf("upsert %s: %v", reg, err)
		}
	}
	if s.Len() != 2 {
		t.Errorf("expected 2 rows, got %d", s.Len())
	}
}

func TestMemoryStore_FindTrimsInput(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Upsert(ctx, pkg.PatientVisit{RegistrationNumber: "150915", Name: "Asha", LastRemedy: "Pulsatilla 200"})
	p, err := s.Find(ctx, " 150915 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "Asha" {
		t.Errorf("expected Asha, got %q", p.Name)
	}
}
