package scylla

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gocql/gocql"

	"securehealth/internal/models"
)

// PatientRepository stores patient records. Names arrive already
// envelope-encrypted; the repository never sees plaintext PII.
type PatientRepository interface {
	CreatePatient(ctx context.Context, patient *models.Patient) error
	GetPatientByID(ctx context.Context, patientID string) (*models.Patient, error)
	ListPatients(ctx context.Context) ([]*models.Patient, error)
	ListPatientsByWard(ctx context.Context, ward string) ([]*models.Patient, error)
}

type patientRepository struct {
	client *ScyllaClient
}

func NewPatientRepository(client *ScyllaClient) PatientRepository {
	return &patientRepository{client: client}
}

func (r *patientRepository) CreatePatient(ctx context.Context, patient *models.Patient) error {
	q := r.client.Prepared.CreatePatient.WithContext(ctx)
	if err := q.Bind(
		patient.PatientID, patient.PatientBucket, patient.NameEncrypted, patient.NameKeyID,
		patient.Age, patient.Ward, patient.AssignedDoctorID, patient.SchemeEligible,
		patient.RiskScore, patient.State, patient.CreatedAt,
	).Exec(); err != nil {
		return fmt.Errorf("failed to insert patient: %w", err)
	}
	return nil
}

func (r *patientRepository) GetPatientByID(ctx context.Context, patientID string) (*models.Patient, error) {
	var p models.Patient
	q := r.client.Prepared.GetPatientByID.WithContext(ctx)
	if err := q.Bind(patientID).Scan(
		&p.PatientID, &p.PatientBucket, &p.NameEncrypted, &p.NameKeyID,
		&p.Age, &p.Ward, &p.AssignedDoctorID, &p.SchemeEligible,
		&p.RiskScore, &p.State, &p.CreatedAt,
	); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return &p, nil
}

func (r *patientRepository) ListPatients(ctx context.Context) ([]*models.Patient, error) {
	iter := r.client.Prepared.ListPatients.WithContext(ctx).Iter()

	var patients []*models.Patient
	var p models.Patient
	for iter.Scan(
		&p.PatientID, &p.PatientBucket, &p.NameEncrypted, &p.NameKeyID,
		&p.Age, &p.Ward, &p.AssignedDoctorID, &p.SchemeEligible,
		&p.RiskScore, &p.State, &p.CreatedAt,
	) {
		cp := p
		patients = append(patients, &cp)
		p = models.Patient{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	return patients, nil
}

// ListPatientsByWard filters client-side after a full list; ward cardinality
// and patient counts are small enough that a dedicated index table is not
// worth its write amplification.
func (r *patientRepository) ListPatientsByWard(ctx context.Context, ward string) ([]*models.Patient, error) {
	all, err := r.ListPatients(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(ward)
	var out []*models.Patient
	for _, p := range all {
		if strings.Contains(strings.ToLower(p.Ward), needle) {
			out = append(out, p)
		}
	}
	return out, nil
}
