package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"securehealth/internal/service"
	"securehealth/internal/util"
)

// PatientHandler handles patient records. Names cross this boundary in
// plaintext and are encrypted by the service before storage.
type PatientHandler struct {
	patients *service.PatientService
	logger   *zap.Logger
}

func NewPatientHandler(patients *service.PatientService, logger *zap.Logger) *PatientHandler {
	return &PatientHandler{
		patients: patients,
		logger:   logger,
	}
}

func (h *PatientHandler) RegisterRoutes(router chi.Router) {
	router.Route("/patients", func(r chi.Router) {
		r.Post("/", h.CreatePatient)
		r.Get("/", h.ListPatients)
		r.Get("/{patientID}", h.GetPatientByID)
	})
}

func (h *PatientHandler) CreatePatient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req service.CreatePatientInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	patient, err := h.patients.CreatePatient(ctx, req)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to create patient")
		return
	}

	respondWithJSON(w, h.logger, http.StatusCreated, successResponse(patient, "Patient created successfully"))
	h.logger.Info("Patient created via HTTP",
		util.String("patient_id", patient.PatientID),
		util.String("ward", patient.Ward),
	)
}

// ListPatients lists all patients, or one ward's when ?ward= is present.
func (h *PatientHandler) ListPatients(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		patients []*service.PatientView
		err      error
	)
	if ward := r.URL.Query().Get("ward"); ward != "" {
		patients, err = h.patients.ListPatientsByWard(ctx, ward)
	} else {
		patients, err = h.patients.ListPatients(ctx)
	}
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to list patients")
		return
	}

	resp := successResponse(patients, "Patients retrieved successfully")
	resp.Meta = &Meta{Total: len(patients)}
	respondWithJSON(w, h.logger, http.StatusOK, resp)
}

func (h *PatientHandler) GetPatientByID(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	if patientID == "" {
		respondWithError(w, h.logger, http.StatusBadRequest,
			errors.New("patient ID is required"), "Patient ID is required")
		return
	}

	patient, err := h.patients.GetPatientByID(r.Context(), patientID)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to get patient")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(patient, "Patient retrieved successfully"))
}
