package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

type accountRepository struct {
	s *Store
}

func (r *accountRepository) Create(ctx context.Context, account domain.Account) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	_, err := r.s.conn(ctx).ExecContext(ctx, `
		INSERT INTO accounts (id, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
	`, account.ID, account.Balance, account.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAccountAlreadyExists
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *accountRepository) Get(ctx context.Context, id string) (domain.Account, error) {
	return r.get(ctx, id, "")
}

func (r *accountRepository) GetForUpdate(ctx context.Context, id string) (domain.Account, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *accountRepository) get(ctx context.Context, id, lock string) (domain.Account, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var account domain.Account
	err := r.s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, balance, created_at, updated_at
		FROM accounts
		WHERE id = $1`+lock, id).Scan(&account.ID, &account.Balance, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Account{}, domain.ErrAccountNotFound
		}
		return domain.Account{}, fmt.Errorf("select account: %w", err)
	}
	return account, nil
}

// ApplyDelta меняет баланс одним UPDATE, не допуская отрицательного значения.
func (r *accountRepository) ApplyDelta(ctx context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var balance decimal.Decimal
	err := r.s.conn(ctx).QueryRowContext(ctx, `
		UPDATE accounts
		SET balance = balance + $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND balance + $2 >= 0
		RETURNING balance
	`, id, delta).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("apply balance delta: %w", err)
	}

	current, getErr := r.get(ctx, id, "")
	if getErr != nil {
		return decimal.Zero, getErr
	}
	return current.Balance, domain.ErrInsufficientBalance
}

type topUpRepository struct {
	s *Store
}

func (r *topUpRepository) Create(ctx context.Context, topUp domain.TopUp) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if topUp.CreatedAt.IsZero() {
		topUp.CreatedAt = time.Now().UTC()
	}
	_, err := r.s.conn(ctx).ExecContext(ctx, `
		INSERT INTO top_ups (id, account_id, amount, created_at)
		VALUES ($1, $2, $3, $4)
	`, topUp.ID, topUp.AccountID, topUp.Amount, topUp.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert top-up: %w", err)
	}
	return nil
}

func (r *topUpRepository) AppendLog(ctx context.Context, entry domain.TopUpLog) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := r.s.conn(ctx).ExecContext(ctx, `
		INSERT INTO top_up_logs (id, top_up_id, message, created_at)
		VALUES ($1, $2, $3, $4)
	`, entry.ID, entry.TopUpID, entry.Message, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert top-up log: %w", err)
	}
	return nil
}

func (r *topUpRepository) ListByAccount(ctx context.Context, accountID string) ([]domain.TopUp, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rows, err := r.s.conn(ctx).QueryContext(ctx, `
		SELECT id, account_id, amount, created_at
		FROM top_ups
		WHERE account_id = $1
		ORDER BY created_at, id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list top-ups: %w", err)
	}
	defer rows.Close()

	var result []domain.TopUp
	for rows.Next() {
		var t domain.TopUp
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Amount, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan top-up: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top-ups: %w", err)
	}
	return result, nil
}

func (r *topUpRepository) ListLogs(ctx context.Context, topUpID string) ([]domain.TopUpLog, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rows, err := r.s.conn(ctx).QueryContext(ctx, `
		SELECT id, top_up_id, message, created_at
		FROM top_up_logs
		WHERE top_up_id = $1
		ORDER BY created_at, id
	`, topUpID)
	if err != nil {
		return nil, fmt.Errorf("list top-up logs: %w", err)
	}
	defer rows.Close()

	var result []domain.TopUpLog
	for rows.Next() {
		var l domain.TopUpLog
		if err := rows.Scan(&l.ID, &l.TopUpID, &l.Message, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan top-up log: %w", err)
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top-up logs: %w", err)
	}
	return result, nil
}

var (
	_ domain.AccountRepository = (*accountRepository)(nil)
	_ domain.TopUpRepository   = (*topUpRepository)(nil)
)
