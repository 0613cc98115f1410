package scylla

import (
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"securehealth/internal/config"
	"securehealth/internal/util"
)

// PreparedStatements holds the statements used by the repositories.
type PreparedStatements struct {
	CreateUser       *gocql.Query
	GetUserByID      *gocql.Query
	ListUsers        *gocql.Query
	SetUserLocked    *gocql.Query
	DeleteUser       *gocql.Query
	CreatePatient    *gocql.Query
	GetPatientByID   *gocql.Query
	ListPatients     *gocql.Query
	CreateAlert      *gocql.Query
	CreateAlertByDay *gocql.Query
	GetAlertByID     *gocql.Query
	ListAlertsByDay  *gocql.Query
	ResolveAlert     *gocql.Query
	CreateCommand    *gocql.Query
	ListCommandsByDay *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.Mutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateUser = s.Session.Query(`
        INSERT INTO users (
            user_id, user_bucket, name, email, password_hash, role,
            department, is_locked, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetUserByID = s.Session.Query(`
        SELECT user_id, user_bucket, name, email, password_hash, role,
               department, is_locked, created_at, updated_at
        FROM users WHERE user_id = ?`)

	prepared.ListUsers = s.Session.Query(`
        SELECT user_id, user_bucket, name, email, password_hash, role,
               department, is_locked, created_at, updated_at
        FROM users`)

	prepared.SetUserLocked = s.Session.Query(`
        UPDATE users SET is_locked = ?, updated_at = ? WHERE user_id = ?`)

	prepared.DeleteUser = s.Session.Query(`
        DELETE FROM users WHERE user_id = ?`)

	prepared.CreatePatient = s.Session.Query(`
        INSERT INTO patients (
            patient_id, patient_bucket, name_encrypted, name_key_id, age, ward,
            assigned_doctor_id, scheme_eligible, risk_score, state, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetPatientByID = s.Session.Query(`
        SELECT patient_id, patient_bucket, name_encrypted, name_key_id, age, ward,
               assigned_doctor_id, scheme_eligible, risk_score, state, created_at
        FROM patients WHERE patient_id = ?`)

	prepared.ListPatients = s.Session.Query(`
        SELECT patient_id, patient_bucket, name_encrypted, name_key_id, age, ward,
               assigned_doctor_id, scheme_eligible, risk_score, state, created_at
        FROM patients`)

	prepared.CreateAlert = s.Session.Query(`
        INSERT INTO alerts (
            alert_id, user_id, alert_type, severity, details,
            resolved, auto_locked, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.CreateAlertByDay = s.Session.Query(`
        INSERT INTO alerts_by_day (
            day, created_at, alert_id, user_id, alert_type, severity, auto_locked
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetAlertByID = s.Session.Query(`
        SELECT alert_id, user_id, alert_type, severity, details,
               resolved, auto_locked, created_at
        FROM alerts WHERE alert_id = ?`)

	prepared.ListAlertsByDay = s.Session.Query(`
        SELECT alert_id FROM alerts_by_day WHERE day = ?`)

	prepared.ResolveAlert = s.Session.Query(`
        UPDATE alerts SET resolved = true WHERE alert_id = ?`)

	prepared.CreateCommand = s.Session.Query(`
        INSERT INTO agent_commands (
            day, created_at, command_id, issued_by, agent, command_text, result_summary
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`)

	prepared.ListCommandsByDay = s.Session.Query(`
        SELECT day, created_at, command_id, issued_by, agent, command_text, result_summary
        FROM agent_commands WHERE day = ?`)

	s.Prepared = prepared
	s.isPrepared = true
	return nil
}

// DayKey is the partition key format for day-bucketed tables.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (s *ScyllaClient) HealthCheck() error {
	return s.Session.Query(`SELECT release_version FROM system.local`).Exec()
}

func (s *ScyllaClient) Close() {
	if s.Session != nil && !s.Session.Closed() {
		s.Session.Close()
		util.Info("ScyllaDB session closed")
	}
}
