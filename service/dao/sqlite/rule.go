package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/autoact/autoact/model/action"
	"github.com/autoact/autoact/policy"
	"github.com/autoact/autoact/service/dao"
	daorule "github.com/autoact/autoact/service/dao/rule"
)

// RuleStore is the SQLite implementation of the policy rule store. First
// saves allocate a monotonic seq inside an immediate transaction so
// same-timestamp rules keep a total order.
type RuleStore struct {
	db *sql.DB
}

var _ daorule.Store = (*RuleStore)(nil)

const ruleColumns = `id, organization_id, action_type, scope, max_risk_level, conditions,
	auto_decision, auto_decision_reason, enabled, seq, created_at`

func (s *RuleStore) Save(ctx context.Context, record *policy.Rule) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.ID == "" {
		return dao.ErrInvalidID
	}
	conditions, err := encodeJSON(record.Conditions)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if record.Seq == 0 {
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM policy_rules`).Scan(&record.Seq); err != nil {
			return fmt.Errorf("failed to allocate rule seq: %w", err)
		}
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO policy_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			organization_id = excluded.organization_id,
			action_type = excluded.action_type,
			scope = excluded.scope,
			max_risk_level = excluded.max_risk_level,
			conditions = excluded.conditions,
			auto_decision = excluded.auto_decision,
			auto_decision_reason = excluded.auto_decision_reason,
			enabled = excluded.enabled`,
		record.ID, record.OrganizationID, record.ActionType, record.Scope,
		string(record.MaxRiskLevel), conditions, string(record.AutoDecision),
		record.AutoDecisionReason, record.Enabled, record.Seq, record.CreatedAt)
	if err != nil {
		return translateErr(err)
	}
	return tx.Commit()
}

func (s *RuleStore) Load(ctx context.Context, id string) (*policy.Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM policy_rules WHERE id = ?`, id)
	record, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, dao.ErrNotFound)
	}
	return record, err
}

func (s *RuleStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM policy_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("rule %s: %w", id, dao.ErrNotFound)
	}
	return nil
}

func (s *RuleStore) ListByOrg(ctx context.Context, orgID string) ([]*policy.Rule, error) {
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM policy_rules
		WHERE organization_id = ? ORDER BY created_at, seq`, orgID)
}

func (s *RuleStore) ListEnabled(ctx context.Context, orgID, actionType, scope string) ([]*policy.Rule, error) {
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM policy_rules
		WHERE organization_id = ? AND action_type = ? AND scope = ? AND enabled = 1
		ORDER BY created_at, seq`, orgID, actionType, scope)
}

func (s *RuleStore) queryRules(ctx context.Context, query string, args ...interface{}) ([]*policy.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var records []*policy.Rule
	for rows.Next() {
		record, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanRule(row rowScanner) (*policy.Rule, error) {
	var (
		record       policy.Rule
		maxRisk      string
		conditions   sql.NullString
		autoDecision string
	)
	err := row.Scan(&record.ID, &record.OrganizationID, &record.ActionType,
		&record.Scope, &maxRisk, &conditions, &autoDecision,
		&record.AutoDecisionReason, &record.Enabled, &record.Seq, &record.CreatedAt)
	if err != nil {
		return nil, err
	}
	record.MaxRiskLevel = action.RiskLevel(maxRisk)
	record.AutoDecision = action.DecisionKind(autoDecision)
	if err := decodeJSON(conditions, &record.Conditions); err != nil {
		return nil, err
	}
	return &record, nil
}
