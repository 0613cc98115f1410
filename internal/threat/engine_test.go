package threat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"securehealth/internal/config"
	"securehealth/internal/models"
	chrepo "securehealth/internal/repository/clickhouse"
)

// ---- fakes ----

type fakeDirectory struct {
	users    map[string]*models.User
	lockErr  error
	lockedID []string
}

func (f *fakeDirectory) ListUsers(ctx context.Context) ([]*models.User, error) {
	out := make([]*models.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeDirectory) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (f *fakeDirectory) SetUserLocked(ctx context.Context, userID string, locked bool) error {
	if f.lockErr != nil {
		return f.lockErr
	}
	f.lockedID = append(f.lockedID, userID)
	if u, ok := f.users[userID]; ok {
		u.IsLocked = locked
	}
	return nil
}

type writeback struct {
	userID string
	score  float64
}

type fakeEvents struct {
	events     []models.AccessEvent
	lastFilter chrepo.WindowFilter
	writebacks []writeback
}

func (f *fakeEvents) QueryWindow(ctx context.Context, from, to time.Time, filter chrepo.WindowFilter) ([]models.AccessEvent, error) {
	f.lastFilter = filter
	if filter.Exclusionary {
		return nil, nil
	}
	return f.events, nil
}

func (f *fakeEvents) WriteBackScores(ctx context.Context, userID string, from, to time.Time, score float64) error {
	f.writebacks = append(f.writebacks, writeback{userID: userID, score: score})
	return nil
}

type fakeWards struct {
	patients map[string][]*models.Patient
}

func (f *fakeWards) ListPatientsByWard(ctx context.Context, ward string) ([]*models.Patient, error) {
	return f.patients[ward], nil
}

type fakeAlerts struct {
	alerts []*models.Alert
	err    error
}

func (f *fakeAlerts) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, alert)
	return nil
}

type fakeCommands struct {
	commands []*models.AgentCommand
}

func (f *fakeCommands) AppendCommand(ctx context.Context, cmd *models.AgentCommand) error {
	f.commands = append(f.commands, cmd)
	return nil
}

type fakeBroadcast struct {
	events []models.AlertEvent
}

func (f *fakeBroadcast) Broadcast(event models.AlertEvent) {
	f.events = append(f.events, event)
}

type fakeIndexer struct {
	docs map[string]interface{}
}

func (f *fakeIndexer) IndexAlert(ctx context.Context, id string, doc interface{}) error {
	if f.docs == nil {
		f.docs = make(map[string]interface{})
	}
	f.docs[id] = doc
	return nil
}

type fakeScorer struct {
	available bool
	results   []models.AnomalyResult
}

func (f *fakeScorer) Available() bool { return f.available }

func (f *fakeScorer) Score(rows []models.FeatureRow) []models.AnomalyResult {
	if !f.available {
		return nil
	}
	return f.results
}

// ---- harness ----

type harness struct {
	dir       *fakeDirectory
	events    *fakeEvents
	wards     *fakeWards
	alerts    *fakeAlerts
	commands  *fakeCommands
	broadcast *fakeBroadcast
	indexer   *fakeIndexer
	scorer    *fakeScorer
	engine    *Engine
}

func testConfig() config.DetectionConfig {
	return config.DetectionConfig{
		ScoreMedium:    0.4,
		ScoreHigh:      0.7,
		ScoreCritical:  0.9,
		RapidAccessMin: 10,
		Lookback:       2 * time.Hour,
	}
}

func newHarness(users ...*models.User) *harness {
	h := &harness{
		dir:       &fakeDirectory{users: map[string]*models.User{}},
		events:    &fakeEvents{},
		wards:     &fakeWards{patients: map[string][]*models.Patient{}},
		alerts:    &fakeAlerts{},
		commands:  &fakeCommands{},
		broadcast: &fakeBroadcast{},
		indexer:   &fakeIndexer{},
		scorer:    &fakeScorer{available: true},
	}
	for _, u := range users {
		h.dir.users[u.UserID] = u
	}
	h.engine = NewEngine(h.dir, h.events, h.wards, h.alerts, h.commands,
		h.broadcast, h.indexer, h.scorer, testConfig(), zap.NewNop())
	return h
}

func viewEvents(userID string, n int) []models.AccessEvent {
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	events := make([]models.AccessEvent, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, models.AccessEvent{
			EventID:   "e",
			UserID:    userID,
			PatientID: "p1",
			Action:    models.ActionView,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}
	return events
}

func hit(userID string, score float64, accessCount int) models.AnomalyResult {
	return models.AnomalyResult{
		UserID:       userID,
		AnomalyScore: score,
		Features: models.FeatureRow{
			UserID:      userID,
			Bucket:      time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
			AccessCount: accessCount,
		},
	}
}

// ---- scan tests ----

func TestScanEmptyWindow(t *testing.T) {
	h := newHarness(&models.User{UserID: "u1", Name: "Asha", Role: models.RoleDoctor})

	summary, err := h.engine.Scan(context.Background(), ScanOptions{TriggeredBy: "admin"})
	require.NoError(t, err)

	assert.Equal(t, "no logs in scan window", summary.Summary)
	assert.Zero(t, summary.AlertsCreated)
	assert.Zero(t, summary.LogsScanned)

	// even an empty scan leaves exactly one audit row
	require.Len(t, h.commands.commands, 1)
	assert.Equal(t, "threat_hunter", h.commands.commands[0].Agent)
	assert.Equal(t, "admin", h.commands.commands[0].IssuedBy)
}

func TestScanWithoutModel(t *testing.T) {
	h := newHarness(&models.User{UserID: "u1", Name: "Asha", Role: models.RoleDoctor})
	h.scorer.available = false
	h.events.events = viewEvents("u1", 12)

	summary, err := h.engine.Scan(context.Background(), ScanOptions{TriggeredBy: "admin"})
	require.NoError(t, err)

	assert.Equal(t, 12, summary.LogsScanned)
	assert.Zero(t, summary.AlertsCreated)
	assert.Zero(t, summary.UsersLocked)
	assert.Equal(t, "scanned 12 logs; 0 alerts; 0 locked", summary.Summary)
	require.Len(t, h.commands.commands, 1)
	assert.Empty(t, h.broadcast.events)
}

func TestScanCriticalAutoLocks(t *testing.T) {
	nurse := &models.User{UserID: "n1", Name: "Beni", Role: models.RoleNurse}
	h := newHarness(nurse)
	h.events.events = viewEvents("n1", 5)
	h.scorer.results = []models.AnomalyResult{hit("n1", 0.95, 5)}

	summary, err := h.engine.Scan(context.Background(), ScanOptions{TriggeredBy: "admin"})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.AlertsCreated)
	assert.Equal(t, 1, summary.UsersLocked)
	assert.True(t, nurse.IsLocked)
	assert.Equal(t, []string{"n1"}, h.dir.lockedID)

	require.Len(t, h.alerts.alerts, 1)
	alert := h.alerts.alerts[0]
	assert.Equal(t, models.SeverityCritical, alert.Severity)
	assert.True(t, alert.AutoLocked)

	require.Len(t, h.broadcast.events, 1)
	assert.Equal(t, "new_alert", h.broadcast.events[0].Event)
	assert.True(t, h.broadcast.events[0].AutoLocked)
	assert.Equal(t, 0.95, h.broadcast.events[0].AnomalyScore)

	assert.Contains(t, h.indexer.docs, alert.AlertID)

	require.Len(t, h.events.writebacks, 1)
	assert.Equal(t, writeback{userID: "n1", score: 0.95}, h.events.writebacks[0])
}

func TestScanSeverityThresholds(t *testing.T) {
	h := newHarness(
		&models.User{UserID: "a", Role: models.RoleDoctor},
		&models.User{UserID: "b", Role: models.RoleDoctor},
		&models.User{UserID: "c", Role: models.RoleDoctor},
		&models.User{UserID: "d", Role: models.RoleDoctor},
		&models.User{UserID: "e", Role: models.RoleDoctor},
	)
	h.events.events = viewEvents("a", 1)
	h.scorer.results = []models.AnomalyResult{
		hit("a", 0.9, 1),     // critical, boundary inclusive
		hit("b", 0.8999, 1),  // high
		hit("c", 0.7, 1),     // high, boundary inclusive
		hit("d", 0.4, 1),     // medium, boundary inclusive
		hit("e", 0.39999, 1), // below floor, dropped
	}

	summary, err := h.engine.Scan(context.Background(), ScanOptions{})
	require.NoError(t, err)

	assert.Equal(t, 4, summary.AlertsCreated)
	require.Len(t, h.alerts.alerts, 4)
	severities := make(map[string]string)
	for _, a := range h.alerts.alerts {
		severities[a.UserID] = a.Severity
	}
	assert.Equal(t, models.SeverityCritical, severities["a"])
	assert.Equal(t, models.SeverityHigh, severities["b"])
	assert.Equal(t, models.SeverityHigh, severities["c"])
	assert.Equal(t, models.SeverityMedium, severities["d"])
	assert.NotContains(t, severities, "e")
}

func TestScanAlreadyLockedUserNotRelocked(t *testing.T) {
	h := newHarness(&models.User{UserID: "n1", Role: models.RoleNurse, IsLocked: true})
	h.events.events = viewEvents("n1", 3)
	h.scorer.results = []models.AnomalyResult{hit("n1", 0.95, 3)}

	summary, err := h.engine.Scan(context.Background(), ScanOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.AlertsCreated)
	assert.Zero(t, summary.UsersLocked)
	assert.Empty(t, h.dir.lockedID)
	require.Len(t, h.alerts.alerts, 1)
	assert.False(t, h.alerts.alerts[0].AutoLocked)
}

func TestScanRapidAccessAlertType(t *testing.T) {
	h := newHarness(
		&models.User{UserID: "fast", Role: models.RoleDoctor},
		&models.User{UserID: "slow", Role: models.RoleDoctor},
	)
	h.events.events = viewEvents("fast", 1)
	h.scorer.results = []models.AnomalyResult{
		hit("fast", 0.5, 11), // over the rapid-access threshold
		hit("slow", 0.5, 10), // at it, not over
	}

	_, err := h.engine.Scan(context.Background(), ScanOptions{})
	require.NoError(t, err)

	require.Len(t, h.alerts.alerts, 2)
	types := make(map[string]string)
	for _, a := range h.alerts.alerts {
		types[a.UserID] = a.AlertType
	}
	assert.Equal(t, models.AlertRapidAccess, types["fast"])
	assert.Equal(t, models.AlertAnomalyDetected, types["slow"])
}

func TestScanAlertSinkFailure(t *testing.T) {
	h := newHarness(&models.User{UserID: "u1", Role: models.RoleDoctor})
	h.events.events = viewEvents("u1", 2)
	h.scorer.results = []models.AnomalyResult{hit("u1", 0.5, 2)}
	h.alerts.err = errors.New("write timeout")

	summary, err := h.engine.Scan(context.Background(), ScanOptions{})
	require.NoError(t, err)

	assert.Zero(t, summary.AlertsCreated)
	assert.Equal(t, 1, summary.Failed)
	// no broadcast for an alert that never persisted
	assert.Empty(t, h.broadcast.events)
	assert.Contains(t, summary.Summary, "1 failed")
}

func TestScanWardFilterNoMatchIsExclusionary(t *testing.T) {
	h := newHarness(&models.User{UserID: "u1", Role: models.RoleDoctor})
	h.events.events = viewEvents("u1", 5)

	summary, err := h.engine.Scan(context.Background(), ScanOptions{Ward: "nonexistent"})
	require.NoError(t, err)

	assert.True(t, h.events.lastFilter.Exclusionary)
	assert.Equal(t, "no logs in scan window", summary.Summary)
}

func TestScanWardFilterResolvesPatients(t *testing.T) {
	h := newHarness(&models.User{UserID: "u1", Role: models.RoleDoctor})
	h.wards.patients["icu"] = []*models.Patient{{PatientID: "p1"}, {PatientID: "p2"}}
	h.events.events = viewEvents("u1", 1)

	_, err := h.engine.Scan(context.Background(), ScanOptions{Ward: "icu"})
	require.NoError(t, err)

	assert.Equal(t, []string{"p1", "p2"}, h.events.lastFilter.PatientIDs)
	assert.False(t, h.events.lastFilter.Exclusionary)
}

func TestScanUserNameFilter(t *testing.T) {
	h := newHarness(
		&models.User{UserID: "u1", Name: "Dr Asha Rao", Role: models.RoleDoctor},
		&models.User{UserID: "u2", Name: "Beni", Role: models.RoleNurse},
	)
	h.events.events = viewEvents("u1", 1)

	_, err := h.engine.Scan(context.Background(), ScanOptions{UserName: "asha"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, h.events.lastFilter.UserIDs)

	_, err = h.engine.Scan(context.Background(), ScanOptions{UserName: "nobody"})
	require.NoError(t, err)
	assert.True(t, h.events.lastFilter.Exclusionary)
}

// ---- manual lock tests ----

func TestLockUserApplied(t *testing.T) {
	user := &models.User{UserID: "u1", Name: "Asha", Role: models.RoleDoctor}
	h := newHarness(user)

	result, err := h.engine.LockUser(context.Background(), "u1", "admin-7")
	require.NoError(t, err)

	assert.Equal(t, LockApplied, result.Status)
	assert.True(t, user.IsLocked)
	assert.NotEmpty(t, result.AlertID)

	require.Len(t, h.alerts.alerts, 1)
	alert := h.alerts.alerts[0]
	assert.Equal(t, models.AlertManualLock, alert.AlertType)
	assert.Equal(t, models.SeverityHigh, alert.Severity)
	assert.Contains(t, alert.Details, "admin-7")

	require.Len(t, h.commands.commands, 1)
	assert.Equal(t, "lock user u1", h.commands.commands[0].CommandText)

	require.Len(t, h.broadcast.events, 1)
	assert.Equal(t, "user_locked", h.broadcast.events[0].Event)
}

func TestLockUserNotFoundIsOutcome(t *testing.T) {
	h := newHarness()

	result, err := h.engine.LockUser(context.Background(), "ghost", "admin")
	require.NoError(t, err)

	assert.Equal(t, LockNotFound, result.Status)
	assert.Empty(t, h.alerts.alerts)
	assert.Empty(t, h.commands.commands)
}

func TestLockUserIdempotent(t *testing.T) {
	user := &models.User{UserID: "u1", Role: models.RoleDoctor}
	h := newHarness(user)

	first, err := h.engine.LockUser(context.Background(), "u1", "admin")
	require.NoError(t, err)
	assert.Equal(t, LockApplied, first.Status)

	second, err := h.engine.LockUser(context.Background(), "u1", "admin")
	require.NoError(t, err)
	assert.Equal(t, LockAlreadyLocked, second.Status)

	// no duplicate alert, audit row or broadcast for the no-op
	assert.Len(t, h.alerts.alerts, 1)
	assert.Len(t, h.commands.commands, 1)
	assert.Len(t, h.broadcast.events, 1)
}
