package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"securehealth/internal/models"
	"securehealth/internal/repository/scylla"
	"securehealth/internal/util"
)

var ErrUnknownActor = errors.New("unknown requesting user")

const (
	privacyAgentName = "privacy_query"

	assistantSystemPrompt = "You are a hospital data assistant. Answer only from the " +
		"aggregate statistics provided in the context. Never invent patient names " +
		"or identifiers; the context contains none."
)

// ActorLookup resolves the requesting user so the aggregator can scope the
// data to what that role is allowed to see.
type ActorLookup interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// IDSource mints audit row identifiers.
type IDSource interface {
	NewID() string
}

// QueryResult is the answer plus the scope that produced it.
type QueryResult struct {
	Answer       string `json:"answer"`
	Scope        string `json:"scope"`
	PatientCount int    `json:"patient_count"`
}

// PrivacyQueryAgent answers natural-language questions over patient data
// without ever handing the assistant a patient name. It aggregates the
// role-visible slice of patients into statistics, sends only those, and
// audits every invocation.
type PrivacyQueryAgent struct {
	actors    ActorLookup
	patients  scylla.PatientRepository
	commands  scylla.CommandRepository
	assistant Assistant
	ids       IDSource
	logger    *zap.Logger
}

func NewPrivacyQueryAgent(
	actors ActorLookup,
	patients scylla.PatientRepository,
	commands scylla.CommandRepository,
	assistant Assistant,
	ids IDSource,
	logger *zap.Logger,
) *PrivacyQueryAgent {
	return &PrivacyQueryAgent{
		actors:    actors,
		patients:  patients,
		commands:  commands,
		assistant: assistant,
		ids:       ids,
		logger:    logger,
	}
}

// Query scopes patients to the requester's role, builds the aggregate
// context, asks the assistant and writes the audit row.
func (a *PrivacyQueryAgent) Query(ctx context.Context, requesterID, question string) (*QueryResult, error) {
	actor, err := a.actors.GetUserByID(ctx, requesterID)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return nil, ErrUnknownActor
		}
		return nil, fmt.Errorf("failed to resolve requesting user: %w", err)
	}

	visible, scope, err := a.scopedPatients(ctx, actor)
	if err != nil {
		return nil, err
	}

	contextText := buildAggregateContext(visible, scope)
	answer := a.assistant.Ask(ctx, assistantSystemPrompt, contextText, question)

	a.audit(ctx, actor, question, scope, len(visible))

	return &QueryResult{
		Answer:       answer,
		Scope:        scope,
		PatientCount: len(visible),
	}, nil
}

// scopedPatients enforces the visibility rule: doctors see only their
// assigned patients, nurses only their own ward, admins everything.
func (a *PrivacyQueryAgent) scopedPatients(ctx context.Context, actor *models.User) ([]*models.Patient, string, error) {
	switch actor.Role {
	case models.RoleDoctor:
		all, err := a.patients.ListPatients(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("failed to list patients: %w", err)
		}
		var own []*models.Patient
		for _, p := range all {
			if p.AssignedDoctorID == actor.UserID {
				own = append(own, p)
			}
		}
		return own, fmt.Sprintf("patients assigned to doctor %s", actor.UserID), nil

	case models.RoleNurse:
		ward := actor.Department
		if ward == "" {
			return nil, "no ward on record", nil
		}
		inWard, err := a.patients.ListPatientsByWard(ctx, ward)
		if err != nil {
			return nil, "", fmt.Errorf("failed to list ward patients: %w", err)
		}
		return inWard, fmt.Sprintf("ward %s", ward), nil

	case models.RoleAdmin:
		all, err := a.patients.ListPatients(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("failed to list patients: %w", err)
		}
		return all, "all patients", nil

	default:
		return nil, fmt.Sprintf("role %q has no patient visibility", actor.Role), nil
	}
}

// buildAggregateContext reduces the visible slice to statistics. Identifiers
// and encrypted names never enter the text.
func buildAggregateContext(patients []*models.Patient, scope string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scope: %s\n", scope)
	fmt.Fprintf(&b, "Total patients visible: %d\n", len(patients))
	if len(patients) == 0 {
		return b.String()
	}

	var riskSum float64
	var lowRisk, medRisk, highRisk int
	var ageSum int
	schemes := map[string]int{}
	wards := map[string]int{}
	for _, p := range patients {
		riskSum += p.RiskScore
		switch {
		case p.RiskScore >= 0.7:
			highRisk++
		case p.RiskScore >= 0.4:
			medRisk++
		default:
			lowRisk++
		}
		ageSum += p.Age
		if p.SchemeEligible != "" {
			schemes[p.SchemeEligible]++
		}
		if p.Ward != "" {
			wards[p.Ward]++
		}
	}

	fmt.Fprintf(&b, "Average risk score: %.2f\n", riskSum/float64(len(patients)))
	fmt.Fprintf(&b, "Risk distribution: %d low, %d medium, %d high\n", lowRisk, medRisk, highRisk)
	fmt.Fprintf(&b, "Average age: %.1f\n", float64(ageSum)/float64(len(patients)))

	fmt.Fprintf(&b, "Scheme eligibility: %s\n", formatCounts(schemes))
	fmt.Fprintf(&b, "Ward distribution: %s\n", formatCounts(wards))

	return b.String()
}

func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, ", ")
}

func (a *PrivacyQueryAgent) audit(ctx context.Context, actor *models.User, question, scope string, visible int) {
	cmd := &models.AgentCommand{
		CommandID:     a.ids.NewID(),
		IssuedBy:      actor.UserID,
		Agent:         privacyAgentName,
		CommandText:   question,
		ResultSummary: fmt.Sprintf("answered over %s (%d patients)", scope, visible),
		CreatedAt:     time.Now().UTC(),
	}
	if err := a.commands.AppendCommand(ctx, cmd); err != nil {
		a.logger.Warn("failed to audit privacy query",
			util.String("issued_by", actor.UserID),
			util.ErrorField(err),
		)
	}
}
