package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
	"github.com/vladislavdragonenkov/commerce/internal/service/idempotency"
	"github.com/vladislavdragonenkov/commerce/internal/storage/memory"
)

var owner = domain.Actor{ID: "acc-1"}

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	svc := NewService(store.Repositories(), nil, nil)
	if _, err := svc.OpenAccount(context.Background(), owner, "acc-1"); err != nil {
		t.Fatalf("open account: %v", err)
	}
	return svc, store
}

func TestOpenAccount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.OpenAccount(ctx, owner, "acc-1"); !errors.Is(err, domain.ErrAccountAlreadyExists) {
		t.Fatalf("expected ErrAccountAlreadyExists, got %v", err)
	}
	if _, err := svc.OpenAccount(ctx, owner, "acc-2"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	account, err := svc.OpenAccount(ctx, domain.Actor{ID: "op", Operator: true}, "acc-2")
	if err != nil {
		t.Fatalf("operator open account: %v", err)
	}
	if !account.Balance.IsZero() {
		t.Fatalf("new account must be empty, got %s", account.Balance)
	}
}

func TestTopUp(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res, err := svc.TopUp(ctx, owner, "acc-1", decimal.RequireFromString("25.50"))
	if err != nil {
		t.Fatalf("top up: %v", err)
	}
	if !res.Balance.Equal(decimal.RequireFromString("25.50")) || res.TopUpID == "" {
		t.Fatalf("unexpected result %+v", res)
	}

	topUps, err := svc.TopUps(ctx, owner, "acc-1")
	if err != nil {
		t.Fatalf("list top ups: %v", err)
	}
	if len(topUps) != 1 {
		t.Fatalf("expected 1 top up, got %d", len(topUps))
	}
	logs, err := store.Repositories().TopUps.ListLogs(ctx, res.TopUpID)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Message != "Top-up of 25.5 for account acc-1" {
		t.Fatalf("unexpected logs %+v", logs)
	}

	events := store.OutboxMessages()
	if len(events) != 1 || events[0].EventType != domain.EventWalletToppedUp {
		t.Fatalf("expected wallet.topped_up event, got %+v", events)
	}
}

func TestTopUpErrors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		actor   domain.Actor
		account string
		amount  decimal.Decimal
		want    error
	}{
		{name: "zero amount", actor: owner, account: "acc-1", amount: decimal.Zero, want: domain.ErrAmountInvalid},
		{name: "negative amount", actor: owner, account: "acc-1", amount: decimal.NewFromInt(-5), want: domain.ErrAmountInvalid},
		{name: "missing account id", actor: owner, account: "", amount: decimal.NewFromInt(1), want: domain.ErrAccountIDRequired},
		{name: "foreign account", actor: domain.Actor{ID: "acc-2"}, account: "acc-1", amount: decimal.NewFromInt(1), want: domain.ErrForbidden},
		{name: "anonymous", actor: domain.Actor{}, account: "acc-1", amount: decimal.NewFromInt(1), want: domain.ErrActorRequired},
		{name: "no account", actor: domain.Actor{ID: "op", Operator: true}, account: "acc-404", amount: decimal.NewFromInt(1), want: domain.ErrAccountNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.TopUp(ctx, tc.actor, tc.account, tc.amount); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	account, err := svc.Balance(ctx, owner, "acc-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !account.Balance.IsZero() {
		t.Fatalf("failed top ups must not change balance, got %s", account.Balance)
	}
}

func TestConcurrentTopUpsWithDistinctKeys(t *testing.T) {
	svc, store := newTestService(t)
	guard := idempotency.NewGuard(memory.NewIdempotencyRepository())
	ctx := context.Background()

	var wg sync.WaitGroup
	statuses := make([]int, 2)
	for i, key := range []string{"key-a", "key-b"} {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			resp, err := guard.Execute(ctx, idempotency.Request{Method: "POST", Path: "/wallet/topups", Key: key, Body: []byte(`{"amount":"10"}`)},
				func(ctx context.Context) (idempotency.Response, error) {
					res, err := svc.TopUp(ctx, owner, "acc-1", decimal.NewFromInt(10))
					if err != nil {
						return idempotency.Response{}, err
					}
					body, _ := json.Marshal(res)
					return idempotency.Response{Status: http.StatusOK, Body: body}, nil
				})
			if err != nil {
				t.Errorf("top up %s: %v", key, err)
				return
			}
			statuses[i] = resp.Status
		}(i, key)
	}
	wg.Wait()

	for i, status := range statuses {
		if status != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, status)
		}
	}

	topUps, _ := store.Repositories().TopUps.ListByAccount(ctx, "acc-1")
	if len(topUps) != 2 {
		t.Fatalf("expected 2 top ups, got %d", len(topUps))
	}
	logs := 0
	for _, topUp := range topUps {
		entries, _ := store.Repositories().TopUps.ListLogs(ctx, topUp.ID)
		logs += len(entries)
	}
	if logs != 2 {
		t.Fatalf("expected 2 logs, got %d", logs)
	}

	account, _ := svc.Balance(ctx, owner, "acc-1")
	if !account.Balance.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected balance 20, got %s", account.Balance)
	}
}

func TestReplayedTopUpAppliesOnce(t *testing.T) {
	svc, store := newTestService(t)
	guard := idempotency.NewGuard(memory.NewIdempotencyRepository())
	ctx := context.Background()

	var first []byte
	for i := 0; i < 3; i++ {
		resp, err := guard.Execute(ctx, idempotency.Request{Method: "POST", Path: "/wallet/topups", Key: "same", Body: []byte(`{"amount":"10"}`)},
			func(ctx context.Context) (idempotency.Response, error) {
				res, err := svc.TopUp(ctx, owner, "acc-1", decimal.NewFromInt(10))
				if err != nil {
					return idempotency.Response{}, err
				}
				body, _ := json.Marshal(res)
				return idempotency.Response{Status: http.StatusOK, Body: body}, nil
			})
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if i == 0 {
			first = resp.Body
			continue
		}
		if string(resp.Body) != string(first) || !resp.Replayed {
			t.Fatalf("attempt %d must replay the first response", i)
		}
	}

	topUps, _ := store.Repositories().TopUps.ListByAccount(ctx, "acc-1")
	if len(topUps) != 1 {
		t.Fatalf("expected 1 top up, got %d", len(topUps))
	}
	account, _ := svc.Balance(ctx, owner, "acc-1")
	if !account.Balance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected balance 10, got %s", account.Balance)
	}
}
