package scylla

import (
	"context"
	"fmt"

	"securehealth/internal/models"
)

// CommandRepository is the append-only audit trail of agent invocations.
type CommandRepository interface {
	AppendCommand(ctx context.Context, cmd *models.AgentCommand) error
	ListCommandsByDay(ctx context.Context, day string) ([]*models.AgentCommand, error)
}

type commandRepository struct {
	client *ScyllaClient
}

func NewCommandRepository(client *ScyllaClient) CommandRepository {
	return &commandRepository{client: client}
}

func (r *commandRepository) AppendCommand(ctx context.Context, cmd *models.AgentCommand) error {
	day := DayKey(cmd.CreatedAt)
	q := r.client.Prepared.CreateCommand.WithContext(ctx)
	if err := q.Bind(
		day, cmd.CreatedAt, cmd.CommandID, cmd.IssuedBy,
		cmd.Agent, cmd.CommandText, cmd.ResultSummary,
	).Exec(); err != nil {
		return fmt.Errorf("failed to append agent command: %w", err)
	}
	return nil
}

func (r *commandRepository) ListCommandsByDay(ctx context.Context, day string) ([]*models.AgentCommand, error) {
	iter := r.client.Prepared.ListCommandsByDay.WithContext(ctx).Bind(day).Iter()

	var commands []*models.AgentCommand
	var c models.AgentCommand
	var dayCol string
	for iter.Scan(&dayCol, &c.CreatedAt, &c.CommandID, &c.IssuedBy, &c.Agent, &c.CommandText, &c.ResultSummary) {
		cc := c
		commands = append(commands, &cc)
		c = models.AgentCommand{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list agent commands: %w", err)
	}
	return commands, nil
}
