package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/autoact/autoact/model/graph"
	"github.com/autoact/autoact/model/playbook"
	"github.com/autoact/autoact/service/dao"
	daorun "github.com/autoact/autoact/service/dao/run"
)

// RunStore is the SQLite implementation of the playbook run store. Saves
// are upserts; the run engine owns the state machine and the store only
// persists what it is handed.
type RunStore struct {
	db *sql.DB
}

var _ daorun.Store = (*RunStore)(nil)

const runColumns = `id, template_id, organization_id, correlation_id, initiated_by,
	status, context_snapshot, started_at, completed_at`

func (s *RunStore) SaveRun(ctx context.Context, record *playbook.Run) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.ID == "" {
		return dao.ErrInvalidID
	}
	snapshot, err := encodeJSON(record.ContextSnapshot)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO playbook_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			context_snapshot = excluded.context_snapshot,
			completed_at = excluded.completed_at`,
		record.ID, record.TemplateID, record.OrganizationID, record.CorrelationID,
		record.InitiatedBy, string(record.Status), snapshot, record.StartedAt,
		nullableTime(record.CompletedAt))
	return translateErr(err)
}

func (s *RunStore) LoadRun(ctx context.Context, id string) (*playbook.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM playbook_runs WHERE id = ?`, id)
	record, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, dao.ErrNotFound)
	}
	return record, err
}

func (s *RunStore) ListRuns(ctx context.Context, parameters ...*dao.Parameter) ([]*playbook.Run, error) {
	query := `SELECT ` + runColumns + ` FROM playbook_runs`
	where, args := runFilter(parameters)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY started_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []*playbook.Run
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

const stepColumns = `id, run_id, template_step_id, step_order, step_type, status,
	decision_id, execution_id, resolved_payload, outputs, selected_next_step_id,
	next_step_id, evaluation_trace, rules, is_optional, updated_at`

func (s *RunStore) SaveStep(ctx context.Context, record *playbook.RunStep) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.ID == "" {
		return dao.ErrInvalidID
	}
	payload, err := encodeJSON(record.ResolvedPayload)
	if err != nil {
		return err
	}
	outputs, err := encodeJSON(record.Outputs)
	if err != nil {
		return err
	}
	trace, err := encodeJSON(record.EvaluationTrace)
	if err != nil {
		return err
	}
	rules, err := encodeJSON(record.Rules)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO playbook_run_steps (`+stepColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			decision_id = excluded.decision_id,
			execution_id = excluded.execution_id,
			resolved_payload = excluded.resolved_payload,
			outputs = excluded.outputs,
			selected_next_step_id = excluded.selected_next_step_id,
			evaluation_trace = excluded.evaluation_trace,
			updated_at = excluded.updated_at`,
		record.ID, record.RunID, record.TemplateStepID, record.Order,
		string(record.Type), string(record.Status), record.DecisionID,
		record.ExecutionID, payload, outputs, record.SelectedNextStepID,
		record.NextStepID, trace, rules, record.Optional, record.UpdatedAt)
	return translateErr(err)
}

func (s *RunStore) LoadStep(ctx context.Context, id string) (*playbook.RunStep, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM playbook_run_steps WHERE id = ?`, id)
	record, err := scanStep(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run step %s: %w", id, dao.ErrNotFound)
	}
	return record, err
}

func (s *RunStore) ListSteps(ctx context.Context, runID string) ([]*playbook.RunStep, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stepColumns+` FROM playbook_run_steps
		WHERE run_id = ? ORDER BY step_order`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run steps: %w", err)
	}
	defer rows.Close()

	var records []*playbook.RunStep
	for rows.Next() {
		record, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func runFilter(parameters []*dao.Parameter) (string, []interface{}) {
	columns := map[string]string{
		"Status":         "status",
		"OrganizationID": "organization_id",
		"TemplateID":     "template_id",
	}
	var clauses []string
	var args []interface{}
	for _, parameter := range parameters {
		column, ok := columns[parameter.Name]
		if !ok {
			return "1 = 0", nil
		}
		switch value := parameter.Value.(type) {
		case string:
			clauses = append(clauses, column+" = ?")
			args = append(args, value)
		case []string:
			if len(value) == 0 {
				return "1 = 0", nil
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(value)), ", ")
			clauses = append(clauses, column+" IN ("+placeholders+")")
			for _, member := range value {
				args = append(args, member)
			}
		}
	}
	return strings.Join(clauses, " AND "), args
}

func scanRun(row rowScanner) (*playbook.Run, error) {
	var (
		record    playbook.Run
		status    string
		snapshot  sql.NullString
		completed sql.NullTime
	)
	err := row.Scan(&record.ID, &record.TemplateID, &record.OrganizationID,
		&record.CorrelationID, &record.InitiatedBy, &status, &snapshot,
		&record.StartedAt, &completed)
	if err != nil {
		return nil, err
	}
	record.Status = playbook.RunStatus(status)
	record.CompletedAt = timePtr(completed)
	if err := decodeJSON(snapshot, &record.ContextSnapshot); err != nil {
		return nil, err
	}
	return &record, nil
}

func scanStep(row rowScanner) (*playbook.RunStep, error) {
	var (
		record   playbook.RunStep
		stepType string
		status   string
		payload  sql.NullString
		outputs  sql.NullString
		trace    sql.NullString
		rules    sql.NullString
	)
	err := row.Scan(&record.ID, &record.RunID, &record.TemplateStepID,
		&record.Order, &stepType, &status, &record.DecisionID,
		&record.ExecutionID, &payload, &outputs, &record.SelectedNextStepID,
		&record.NextStepID, &trace, &rules, &record.Optional, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}
	record.Type = graph.NodeType(stepType)
	record.Status = playbook.StepStatus(status)
	if err := decodeJSON(payload, &record.ResolvedPayload); err != nil {
		return nil, err
	}
	if err := decodeJSON(outputs, &record.Outputs); err != nil {
		return nil, err
	}
	if err := decodeJSON(trace, &record.EvaluationTrace); err != nil {
		return nil, err
	}
	if err := decodeJSON(rules, &record.Rules); err != nil {
		return nil, err
	}
	return &record, nil
}
