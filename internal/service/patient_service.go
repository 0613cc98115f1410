package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"securehealth/internal/bucketing"
	"securehealth/internal/encryption"
	"securehealth/internal/models"
	"securehealth/internal/repository/scylla"
	"securehealth/internal/util"
)

var ErrInvalidPatientInput = errors.New("invalid patient input")

const patientNamePurpose = "patient_name"

// CreatePatientInput is the plaintext shape accepted at admission.
type CreatePatientInput struct {
	Name             string  `json:"name"`
	Age              int     `json:"age"`
	Ward             string  `json:"ward"`
	AssignedDoctorID string  `json:"assigned_doctor_id"`
	SchemeEligible   string  `json:"scheme_eligible"`
	RiskScore        float64 `json:"risk_score"`
	State            string  `json:"state"`
}

// PatientView is a patient with the name decrypted for an authorized reader.
type PatientView struct {
	models.Patient
	Name string `json:"name"`
}

// PatientService envelope-encrypts the patient name before it reaches the
// repository and decrypts on the way out. The repository layer and every
// store below it only ever see ciphertext.
type PatientService struct {
	repo    scylla.PatientRepository
	crypto  *encryption.EncryptionManager
	buckets *bucketing.BucketingManager
	logger  *zap.Logger
}

func NewPatientService(
	repo scylla.PatientRepository,
	crypto *encryption.EncryptionManager,
	buckets *bucketing.BucketingManager,
	logger *zap.Logger,
) *PatientService {
	return &PatientService{
		repo:    repo,
		crypto:  crypto,
		buckets: buckets,
		logger:  logger,
	}
}

func (s *PatientService) CreatePatient(ctx context.Context, input CreatePatientInput) (*PatientView, error) {
	name := util.SanitizeInput(input.Name)
	if name == "" || input.Ward == "" {
		return nil, ErrInvalidPatientInput
	}

	envelope, err := s.crypto.EncryptField(ctx, name, patientNamePurpose)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt patient name: %w", err)
	}
	sealed, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize name envelope: %w", err)
	}

	patient := &models.Patient{
		PatientID:        s.buckets.NewID(),
		NameEncrypted:    sealed,
		NameKeyID:        envelope.KeyID,
		Age:              input.Age,
		Ward:             util.SanitizeInput(input.Ward),
		AssignedDoctorID: input.AssignedDoctorID,
		SchemeEligible:   util.SanitizeInput(input.SchemeEligible),
		RiskScore:        input.RiskScore,
		State:            util.SanitizeInput(input.State),
		CreatedAt:        time.Now().UTC(),
	}
	patient.PatientBucket = s.buckets.UserBucket(patient.PatientID)

	if err := s.repo.CreatePatient(ctx, patient); err != nil {
		return nil, err
	}

	return &PatientView{Patient: *patient, Name: name}, nil
}

func (s *PatientService) GetPatientByID(ctx context.Context, patientID string) (*PatientView, error) {
	patient, err := s.repo.GetPatientByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, patient), nil
}

func (s *PatientService) ListPatients(ctx context.Context) ([]*PatientView, error) {
	patients, err := s.repo.ListPatients(ctx)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, patients), nil
}

func (s *PatientService) ListPatientsByWard(ctx context.Context, ward string) ([]*PatientView, error) {
	patients, err := s.repo.ListPatientsByWard(ctx, ward)
	if err != nil {
		return nil, err
	}
	return s.views(ctx, patients), nil
}

// view decrypts the stored name; an undecryptable record is served redacted
// rather than failing the whole listing.
func (s *PatientService) view(ctx context.Context, patient *models.Patient) *PatientView {
	v := &PatientView{Patient: *patient, Name: "[unavailable]"}

	var envelope encryption.EncryptedData
	if err := json.Unmarshal(patient.NameEncrypted, &envelope); err != nil {
		s.logger.Warn("bad patient name envelope", util.String("patient_id", patient.PatientID))
		return v
	}
	name, err := s.crypto.DecryptField(ctx, &envelope, patientNamePurpose)
	if err != nil {
		s.logger.Warn("failed to decrypt patient name",
			util.String("patient_id", patient.PatientID),
			util.ErrorField(err),
		)
		return v
	}
	v.Name = name
	return v
}

func (s *PatientService) views(ctx context.Context, patients []*models.Patient) []*PatientView {
	out := make([]*PatientView, 0, len(patients))
	for _, p := range patients {
		out = append(out, s.view(ctx, p))
	}
	return out
}
