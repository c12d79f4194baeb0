package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	modeljob "github.com/autoact/autoact/model/job"
	"github.com/autoact/autoact/service/dao"
	daojob "github.com/autoact/autoact/service/dao/job"
)

// JobStore is the SQLite implementation of the async job ledger store.
// Claim is one conditional UPDATE; the RowsAffected count is the
// winner-takes-all verdict, no read precedes the write.
type JobStore struct {
	db *sql.DB
}

var _ daojob.Store = (*JobStore)(nil)

const jobColumns = `id, type, organization_id, correlation_id, entity_id, status, priority,
	attempts, max_attempts, last_error_code, last_error_message, created_by,
	created_at, started_at, finished_at`

func (s *JobStore) Insert(ctx context.Context, record *modeljob.Job) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.ID == "" {
		return dao.ErrInvalidID
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO async_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, string(record.Type), record.OrganizationID, record.CorrelationID,
		record.EntityID, string(record.Status), string(record.Priority),
		record.Attempts, record.MaxAttempts, record.LastErrorCode,
		record.LastErrorMessage, record.CreatedBy, record.CreatedAt,
		nullableTime(record.StartedAt), nullableTime(record.FinishedAt))
	return translateErr(err)
}

func (s *JobStore) Load(ctx context.Context, id string) (*modeljob.Job, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM async_jobs WHERE id = ?`, id)
	record, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, dao.ErrNotFound)
	}
	return record, err
}

func (s *JobStore) FindActive(ctx context.Context, jobType modeljob.Type, entityID string) (*modeljob.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM async_jobs
		WHERE type = ? AND entity_id = ? AND status IN ('QUEUED', 'RUNNING') LIMIT 1`,
		string(jobType), entityID)
	record, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return record, err
}

func (s *JobStore) Claim(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, dao.ErrInvalidID
	}
	result, err := s.db.ExecContext(ctx, `UPDATE async_jobs
		SET status = 'RUNNING', started_at = ?, attempts = attempts + 1
		WHERE id = ? AND status = 'QUEUED'`, time.Now(), id)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim outcome: %w", err)
	}
	if affected == 1 {
		return true, nil
	}
	// lost the race, or the id does not exist at all
	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM async_jobs WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check job existence: %w", err)
	}
	if exists == 0 {
		return false, fmt.Errorf("job %s: %w", id, dao.ErrNotFound)
	}
	return false, nil
}

func (s *JobStore) Update(ctx context.Context, record *modeljob.Job) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	result, err := s.db.ExecContext(ctx, `UPDATE async_jobs SET
		status = ?, priority = ?, attempts = ?, max_attempts = ?,
		last_error_code = ?, last_error_message = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		string(record.Status), string(record.Priority), record.Attempts,
		record.MaxAttempts, record.LastErrorCode, record.LastErrorMessage,
		nullableTime(record.StartedAt), nullableTime(record.FinishedAt), record.ID)
	if err != nil {
		return translateErr(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("job %s: %w", record.ID, dao.ErrNotFound)
	}
	return nil
}

func (s *JobStore) List(ctx context.Context, parameters ...*dao.Parameter) ([]*modeljob.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM async_jobs`
	where, args := jobFilter(parameters)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var records []*modeljob.Job
	for rows.Next() {
		record, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// jobFilter translates dao parameters into a WHERE clause. Unknown names
// produce an always-false predicate so filters fail closed, matching the
// in-memory store.
func jobFilter(parameters []*dao.Parameter) (string, []interface{}) {
	columns := map[string]string{
		"Status":         "status",
		"Type":           "type",
		"OrganizationID": "organization_id",
		"EntityID":       "entity_id",
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

func scanJob(row rowScanner) (*modeljob.Job, error) {
	var (
		record            modeljob.Job
		jobType           string
		status            string
		priority          string
		started, finished sql.NullTime
	)
	err := row.Scan(&record.ID, &jobType, &record.OrganizationID,
		&record.CorrelationID, &record.EntityID, &status, &priority,
		&record.Attempts, &record.MaxAttempts, &record.LastErrorCode,
		&record.LastErrorMessage, &record.CreatedBy, &record.CreatedAt,
		&started, &finished)
	if err != nil {
		return nil, err
	}
	record.Type = modeljob.Type(jobType)
	record.Status = modeljob.Status(status)
	record.Priority = modeljob.Priority(priority)
	record.StartedAt = timePtr(started)
	record.FinishedAt = timePtr(finished)
	return &record, nil
}
