package db

import (
	"context"
	"strings"
	"sync"

	"globule-intake/pkg"
)

// MemoryStore is an in-memory patient store for development and tests.  It
// keeps the same upsert semantics as the Postgres repository.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []pkg.PatientRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Find(_ context.Context, regNo string) (*pkg.PatientRecord, error) {
	regNo = strings.TrimSpace(regNo)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.rows {
		if m.rows[i].RegistrationNumber == regNo {
			p := m.rows[i]
			return &p, nil
		}
	}
	return nil, ErrPatientNotFound
}

func (m *MemoryStore) Upsert(_ context.Context, v pkg.PatientVisit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].RegistrationNumber == v.RegistrationNumber {
			m.rows[i].LastRemedy = v.LastRemedy
			m.rows[i].VisitDate = v.VisitedAt
			m.rows[i].Notes = v.Notes
			return nil
		}
	}
	m.rows = append(m.rows, pkg.PatientRecord{
		RegistrationNumber: v.RegistrationNumber,
		Name:               v.Name,
		Phone:              v.Phone,
		LastRemedy:         v.LastRemedy,
		VisitDate:          v.VisitedAt,
		Notes:              v.Notes,
	})
	return nil
}

// Len returns the number of rows.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}
