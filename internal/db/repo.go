package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"globule-intake/pkg"
)

// ErrPatientNotFound is returned by Find when no row matches.
var ErrPatientNotFound = errors.New("patient not found")

// Repository stores patients in Postgres.  The caller is responsible
// for managing the DB connection lifecycle.
type Repository struct {
	DB *sql.DB
}

// NewRepository constructs a new Repository from an existing sql.DB.
func NewRepository(db *sql.DB) *Repository { return &Repository{DB: db} }

// Find returns the row whose registration number matches exactly.
func (r *Repository) Find(ctx context.Context, regNo string) (*pkg.PatientRecord, error) {
	regNo = strings.TrimSpace(regNo)
	if regNo == "" {
		return nil, ErrPatientNotFound
	}
	var p pkg.PatientRecord
	err := r.DB.QueryRowContext(ctx,
		`SELECT reg_no, name, phone, last_remedy, visit_date, notes
         FROM patients
         WHERE reg_no = $1`,
		regNo,
	).Scan(&p.RegistrationNumber, &p.Name, &p.Phone, &p.LastRemedy, &p.VisitDate, &p.Notes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("find patient %s: %w", regNo, err)
	}
	return &p, nil
}

// Upsert updates the remedy, date and notes of an existing row, or inserts a
// new row when none matches.  Name and phone are only written on insert.
func (r *Repository) Upsert(ctx context.Context, v pkg.PatientVisit) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE patients
         SET last_remedy = $1, visit_date = $2, notes = $3
         WHERE reg_no = $4`,
		v.LastRemedy, v.VisitedAt, v.Notes, v.RegistrationNumber,
	)
	if err != nil {
		return fmt.Errorf("update patient %s: %w", v.RegistrationNumber, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		_, err := r.DB.ExecContext(ctx,
			`INSERT INTO patients (reg_no, name, phone, last_remedy, visit_date, notes)
             VALUES ($1, $2, $3, $4, $5, $6)`,
			v.RegistrationNumber, v.Name, v.Phone, v.LastRemedy, v.VisitedAt, v.Notes,
		)
		if err != nil {
			return fmt.Errorf("insert patient %s: %w", v.RegistrationNumber, err)
		}
	}
	return nil
}
