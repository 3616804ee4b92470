package postgres

/*
Файл approval_repo.go содержит хранилище заявок Human-in-the-loop («человек в контуре»).
Условные апдейты по status = 'pending' исключают Double Decision на уровне БД.
*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/erpai-decision-prototype/internal/domain"
)

const approvalColumns = `id, conversation_id, agent_role, action, severity, status, requested_by,
	approved_by, approved_at, rejected_by, rejected_at, rejection_reason,
	expiry_at, created_at, updated_at`

// CreateApproval регистрирует pending-заявку, приостановившую диалог.
func (r *Repo) Create(ctx context.Context, a *domain.Approval) error {
	query := `INSERT INTO approvals (id, conversation_id, agent_role, action, severity, status, requested_by, expiry_at, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, query,
		a.ID, a.ConversationID, a.AgentRole, a.Action, a.Severity, a.Status,
		a.RequestedBy, a.ExpiryAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to create approval: %w", err)
	}
	return nil
}

// Get читает заявку со всеми полями резолюции.
func (r *Repo) Get(ctx context.Context, id string) (*domain.Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE id = $1`

	a, err := scanApproval(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: approval %q", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("postgres: failed to get approval: %w", err)
	}
	return a, nil
}

// Update атомарно фиксирует терминальный статус заявки.
// Условие WHERE status = 'pending' предотвращает Double Decision:
// если строк не затронуто, решение уже было принято ранее.
func (r *Repo) Update(ctx context.Context, a *domain.Approval) error {
	query := `
		UPDATE approvals
		SET status = $1,
		    approved_by = $2,
		    approved_at = $3,
		    rejected_by = $4,
		    rejected_at = $5,
		    rejection_reason = $6,
		    updated_at = $7
		WHERE id = $8 AND status = 'pending'`

	tag, err := r.pool.Exec(ctx, query,
		a.Status, a.ApprovedBy, a.ApprovedAt, a.RejectedBy, a.RejectedAt,
		a.RejectionReason, a.UpdatedAt, a.ID)
	if err != nil {
		return fmt.Errorf("postgres: failed to update approval: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: approval %q", domain.ErrAlreadyResolved, a.ID)
	}
	return nil
}

// List — очередь заявок с фильтрами (Decision Queue).
func (r *Repo) List(ctx context.Context, status domain.ApprovalStatus, agentRole string, limit, offset int) ([]*domain.Approval, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals`

	var args []interface{}
	var conds []string
	if status != "" {
		args = append(args, status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if agentRole != "" {
		args = append(args, agentRole)
		conds = append(conds, fmt.Sprintf("agent_role = $%d", len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query approvals: %w", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.Approval, 0)
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan approval: %w", err)
		}
		results = append(results, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// ExpireOlderThan переводит просроченные pending-заявки в expired одним
// запросом и возвращает их через RETURNING, без предварительного SELECT.
func (r *Repo) ExpireOlderThan(ctx context.Context, now time.Time) ([]*domain.Approval, error) {
	query := `
		UPDATE approvals
		SET status = 'expired', updated_at = $1
		WHERE status = 'pending' AND expiry_at < $1
		RETURNING ` + approvalColumns

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to expire approvals: %w", err)
	}
	defer rows.Close()

	expired := make([]*domain.Approval, 0)
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan expired approval: %w", err)
		}
		expired = append(expired, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return expired, nil
}

func scanApproval(row pgx.Row) (*domain.Approval, error) {
	var a domain.Approval
	err := row.Scan(
		&a.ID, &a.ConversationID, &a.AgentRole, &a.Action, &a.Severity,
		&a.Status, &a.RequestedBy,
		&a.ApprovedBy, &a.ApprovedAt, &a.RejectedBy, &a.RejectedAt, &a.RejectionReason,
		&a.ExpiryAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
