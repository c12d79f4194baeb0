package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/autoact/autoact/model/action"
	"github.com/autoact/autoact/service/dao"
	daodecision "github.com/autoact/autoact/service/dao/decision"
)

// DecisionStore is the SQLite implementation of the decision ledger store.
// The idx_decisions_active_approval partial unique index rejects a second
// active approval for one proposal at insert time.
type DecisionStore struct {
	db *sql.DB
}

var _ daodecision.Store = (*DecisionStore)(nil)

const decisionColumns = `id, proposal_id, organization_id, correlation_id, action_type, scope,
	decision, decided_by, reason, proposal_snapshot, modified_payload, policy_rule_id, created_at`

func (s *DecisionStore) Insert(ctx context.Context, record *action.Decision) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.ID == "" {
		return dao.ErrInvalidID
	}
	snapshot, err := encodeJSON(record.ProposalSnapshot)
	if err != nil {
		return err
	}
	if !snapshot.Valid {
		return fmt.Errorf("decision %s has no proposal snapshot", record.ID)
	}
	modified, err := encodeJSON(record.ModifiedPayload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO decisions (`+decisionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.ProposalID, record.OrganizationID, record.CorrelationID,
		record.ActionType, record.Scope, string(record.Decision), record.DecidedBy,
		record.Reason, snapshot.String, modified, record.PolicyRuleID, record.CreatedAt)
	return translateErr(err)
}

func (s *DecisionStore) Load(ctx context.Context, id string) (*action.Decision, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE id = ?`, id)
	record, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decision %s: %w", id, dao.ErrNotFound)
	}
	return record, err
}

func (s *DecisionStore) FindActive(ctx context.Context, proposalID string) (*action.Decision, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+decisionColumns+` FROM decisions
		WHERE proposal_id = ? AND decision IN ('APPROVED', 'MODIFIED') LIMIT 1`, proposalID)
	record, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return record, err
}

func (s *DecisionStore) ListByProposal(ctx context.Context, proposalID string) ([]*action.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+decisionColumns+` FROM decisions
		WHERE proposal_id = ? ORDER BY rowid`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	var records []*action.Decision
	for rows.Next() {
		record, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *DecisionStore) CountByDeciderSince(ctx context.Context, orgID, deciderID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decisions
		WHERE organization_id = ? AND decided_by = ? AND created_at >= ?`,
		orgID, deciderID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count decisions: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDecision(row rowScanner) (*action.Decision, error) {
	var (
		record   action.Decision
		kind     string
		snapshot sql.NullString
		modified sql.NullString
	)
	err := row.Scan(&record.ID, &record.ProposalID, &record.OrganizationID,
		&record.CorrelationID, &record.ActionType, &record.Scope, &kind,
		&record.DecidedBy, &record.Reason, &snapshot, &modified,
		&record.PolicyRuleID, &record.CreatedAt)
	if err != nil {
		return nil, err
	}
	record.Decision = action.DecisionKind(kind)
	if err := decodeJSON(snapshot, &record.ProposalSnapshot); err != nil {
		return nil, err
	}
	if err := decodeJSON(modified, &record.ModifiedPayload); err != nil {
		return nil, err
	}
	return &record, nil
}
