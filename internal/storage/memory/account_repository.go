package memory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

type accountRepository struct {
	s *Store
}

func (r *accountRepository) Create(ctx context.Context, account domain.Account) error {
	defer r.s.lock(ctx)()

	if _, exists := r.s.st.accounts[account.ID]; exists {
		return domain.ErrAccountAlreadyExists
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = account.CreatedAt
	r.s.st.accounts[account.ID] = account
	return nil
}

func (r *accountRepository) Get(ctx context.Context, id string) (domain.Account, error) {
	defer r.s.lock(ctx)()

	account, ok := r.s.st.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return account, nil
}

// GetForUpdate — в памяти транзакция и так эксклюзивна.
func (r *accountRepository) GetForUpdate(ctx context.Context, id string) (domain.Account, error) {
	return r.Get(ctx, id)
}

func (r *accountRepository) ApplyDelta(ctx context.Context, id string, delta decimal.Decimal) (decimal.Decimal, error) {
	defer r.s.lock(ctx)()

	account, ok := r.s.st.accounts[id]
	if !ok {
		return decimal.Zero, domain.ErrAccountNotFound
	}
	next := account.Balance.Add(delta)
	if next.IsNegative() {
		return account.Balance, domain.ErrInsufficientBalance
	}
	account.Balance = next
	account.UpdatedAt = time.Now().UTC()
	r.s.st.accounts[id] = account
	return next, nil
}

type topUpRepository struct {
	s *Store
}

func (r *topUpRepository) Create(ctx context.Context, topUp domain.TopUp) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.st.accounts[topUp.AccountID]; !ok {
		return domain.ErrAccountNotFound
	}
	if topUp.CreatedAt.IsZero() {
		topUp.CreatedAt = time.Now().UTC()
	}
	r.s.st.topUps = append(r.s.st.topUps, topUp)
	return nil
}

func (r *topUpRepository) AppendLog(ctx context.Context, entry domain.TopUpLog) error {
	defer r.s.lock(ctx)()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.s.st.topUpLogs = append(r.s.st.topUpLogs, entry)
	return nil
}

func (r *topUpRepository) ListByAccount(ctx context.Context, accountID string) ([]domain.TopUp, error) {
	defer r.s.lock(ctx)()

	var result []domain.TopUp
	for _, t := range r.s.st.topUps {
		if t.AccountID == accountID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (r *topUpRepository) ListLogs(ctx context.Context, topUpID string) ([]domain.TopUpLog, error) {
	defer r.s.lock(ctx)()

	var result []domain.TopUpLog
	for _, l := range r.s.st.topUpLogs {
		if l.TopUpID == topUpID {
			result = append(result, l)
		}
	}
	return result, nil
}

var (
	_ domain.AccountRepository = (*accountRepository)(nil)
	_ domain.TopUpRepository   = (*topUpRepository)(nil)
)
