package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/autoact/autoact/model/action"
	"github.com/autoact/autoact/service/dao"
	daoexecution "github.com/autoact/autoact/service/dao/execution"
)

// ExecutionStore is the SQLite implementation of the execution record
// store. The idx_executions_success partial unique index turns a double
// SUCCESS insert into dao.ErrConflict so callers replay instead.
type ExecutionStore struct {
	db *sql.DB
}

var _ daoexecution.Store = (*ExecutionStore)(nil)

const executionColumns = `id, decision_id, proposal_id, action_type, organization_id,
	correlation_id, executed_by, status, result, error_code, error_message,
	duration_ms, job_id, created_at`

func (s *ExecutionStore) Insert(ctx context.Context, record *action.Execution) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.ID == "" {
		return dao.ErrInvalidID
	}
	result, err := encodeJSON(record.Result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO executions (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.DecisionID, record.ProposalID, record.ActionType,
		record.OrganizationID, record.CorrelationID, record.ExecutedBy,
		string(record.Status), result, record.ErrorCode, record.ErrorMessage,
		record.DurationMs, record.JobID, record.CreatedAt)
	return translateErr(err)
}

func (s *ExecutionStore) Load(ctx context.Context, id string) (*action.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	record, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, dao.ErrNotFound)
	}
	return record, err
}

func (s *ExecutionStore) FindSuccess(ctx context.Context, decisionID string) (*action.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions
		WHERE decision_id = ? AND status = 'SUCCESS' LIMIT 1`, decisionID)
	record, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return record, err
}

func (s *ExecutionStore) ListByDecision(ctx context.Context, decisionID string) ([]*action.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+executionColumns+` FROM executions
		WHERE decision_id = ? ORDER BY rowid`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var records []*action.Execution
	for rows.Next() {
		record, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanExecution(row rowScanner) (*action.Execution, error) {
	var (
		record action.Execution
		status string
		result sql.NullString
	)
	err := row.Scan(&record.ID, &record.DecisionID, &record.ProposalID,
		&record.ActionType, &record.OrganizationID, &record.CorrelationID,
		&record.ExecutedBy, &status, &result, &record.ErrorCode,
		&record.ErrorMessage, &record.DurationMs, &record.JobID, &record.CreatedAt)
	if err != nil {
		return nil, err
	}
	record.Status = action.ExecutionStatus(status)
	if err := decodeJSON(result, &record.Result); err != nil {
		return nil, err
	}
	return &record, nil
}
