package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	"github.com/vladislavdragonenkov/commerce/internal/metrics"
)

// TopUpResult — итог пополнения.
type TopUpResult struct {
	TopUpID   string          `json:"top_up_id"`
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Balance   decimal.Decimal `json:"balance"`
}

// Service управляет кошельками. Баланс меняется только одной атомарной дельтой на событие.
type Service struct {
	tx       domain.Transactor
	accounts domain.AccountRepository
	topUps   domain.TopUpRepository
	outbox   domain.OutboxRepository
	logger   *log.Entry
	metrics  *metrics.CommerceMetrics
	now      func() time.Time
}

// NewService создаёт сервис кошельков.
func NewService(repos domain.Repositories, logger *log.Entry, m *metrics.CommerceMetrics) *Service {
	if logger == nil {
		logger = log.WithField("component", "wallet")
	}
	return &Service{
		tx:       repos.Tx,
		accounts: repos.Accounts,
		topUps:   repos.TopUps,
		outbox:   repos.Outbox,
		logger:   logger,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OpenAccount создаёт пустой кошелёк. Открыть счёт может его владелец или оператор.
func (s *Service) OpenAccount(ctx context.Context, actor domain.Actor, accountID string) (account domain.Account, err error) {
	done := s.metrics.StartOperation("wallet.open_account")
	defer func() { done(err) }()

	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return domain.Account{}, domain.ErrAccountIDRequired
	}
	if err := actor.Authorize(accountID); err != nil {
		return domain.Account{}, err
	}

	now := s.now()
	account = domain.Account{ID: accountID, Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}
	if err := s.accounts.Create(ctx, account); err != nil {
		return domain.Account{}, err
	}

	s.logger.WithField("account_id", accountID).Info("account opened")
	return account, nil
}

// TopUp зачисляет amount на счёт. TopUp, TopUpLog и изменение баланса пишутся одной транзакцией.
func (s *Service) TopUp(ctx context.Context, actor domain.Actor, accountID string, amount decimal.Decimal) (result TopUpResult, err error) {
	done := s.metrics.StartOperation("wallet.top_up")
	defer func() { done(err) }()

	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return TopUpResult{}, domain.ErrAccountIDRequired
	}
	if !amount.IsPositive() {
		return TopUpResult{}, domain.ErrAmountInvalid
	}
	if err := actor.Authorize(accountID); err != nil {
		return TopUpResult{}, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		now := s.now()
		topUp := domain.TopUp{
			ID:        uuid.NewString(),
			AccountID: accountID,
			Amount:    amount,
			CreatedAt: now,
		}

		balance, err := s.accounts.ApplyDelta(ctx, accountID, amount)
		if err != nil {
			return err
		}
		if err := s.topUps.Create(ctx, topUp); err != nil {
			return err
		}
		if err := s.topUps.AppendLog(ctx, domain.TopUpLog{
			ID:        uuid.NewString(),
			TopUpID:   topUp.ID,
			Message:   fmt.Sprintf("Top-up of %s for account %s", amount.String(), accountID),
			CreatedAt: now,
		}); err != nil {
			return err
		}

		result = TopUpResult{TopUpID: topUp.ID, AccountID: accountID, Amount: amount, Balance: balance}
		return s.enqueue(ctx, accountID, result)
	})
	if err != nil {
		return TopUpResult{}, err
	}

	s.logger.WithFields(log.Fields{
		"account_id": accountID,
		"top_up_id":  result.TopUpID,
		"amount":     amount.String(),
	}).Info("wallet topped up")
	return result, nil
}

// Balance возвращает состояние счёта владельцу или оператору.
func (s *Service) Balance(ctx context.Context, actor domain.Actor, accountID string) (domain.Account, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return domain.Account{}, domain.ErrAccountIDRequired
	}
	if err := actor.Authorize(accountID); err != nil {
		return domain.Account{}, err
	}
	return s.accounts.Get(ctx, accountID)
}

// TopUps возвращает историю пополнений счёта.
func (s *Service) TopUps(ctx context.Context, actor domain.Actor, accountID string) ([]domain.TopUp, error) {
	if _, err := s.Balance(ctx, actor, accountID); err != nil {
		return nil, err
	}
	return s.topUps.ListByAccount(ctx, strings.TrimSpace(accountID))
}

func (s *Service) enqueue(ctx context.Context, accountID string, result TopUpResult) error {
	if s.outbox == nil {
		return nil
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", domain.EventWalletToppedUp, err)
	}
	if _, err := s.outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateAccount,
		AggregateID:   accountID,
		EventType:     domain.EventWalletToppedUp,
		Payload:       payload,
	}); err != nil {
		return err
	}
	s.metrics.RecordOutboxEvent()
	return nil
}
