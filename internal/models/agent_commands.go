package models

import "time"

// AgentCommand is the append-only audit record written for every scan, lock
// and assistant query invocation.
type AgentCommand struct {
	CommandID     string    `db:"command_id" json:"command_id"`
	IssuedBy      string    `db:"issued_by" json:"issued_by"`
	Agent         string    `db:"agent" json:"agent"`
	CommandText   string    `db:"command_text" json:"command_text"`
	ResultSummary string    `db:"result_summary" json:"result_summary"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
