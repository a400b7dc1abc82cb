package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/fmoyana/stakeboard/internal/settle"
)

func newTestService() (*Service, settle.Repository) {
	repo := settle.NewMemoryRepository()
	svc := NewService(repo, NewSimulatedGateway(), Limits{DepositMin: 5, DepositMax: 1000, WithdrawMin: 10})
	return svc, repo
}

func TestDepositFlow(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	txn, err := svc.Deposit(ctx, "u1", "0771234567", 50)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if txn.Status != settle.TxPending {
		t.Fatalf("status = %s, want pending", txn.Status)
	}
	if bal, _ := svc.Balance(ctx, "u1"); bal != 0 {
		t.Fatalf("balance moved before verification: %v", bal)
	}

	done, err := svc.VerifyDeposit(ctx, txn.Reference)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if done.Status != settle.TxCompleted || done.BalanceAfter != 50 {
		t.Fatalf("verified tx = %+v", done)
	}
	if bal, _ := svc.Balance(ctx, "u1"); bal != 50 {
		t.Fatalf("balance = %v, want 50", bal)
	}

	// re-verification is a no-op on the balance
	if _, err := svc.VerifyDeposit(ctx, txn.Reference); err != nil {
		t.Fatalf("re-verify: %v", err)
	}
	if bal, _ := svc.Balance(ctx, "u1"); bal != 50 {
		t.Fatalf("balance double-applied: %v", bal)
	}

	acct, _ := repo.Account(ctx, "u1")
	txs, _ := repo.TransactionsByUser(ctx, "u1", 0)
	if len(txs) != 1 || acct.Balance != 50 {
		t.Fatalf("ledger entries = %d, balance = %v", len(txs), acct.Balance)
	}
}

func TestDepositBounds(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, "u1", "077", 4.99); !errors.Is(err, ErrDepositTooSmall) {
		t.Fatalf("small deposit err = %v", err)
	}
	if _, err := svc.Deposit(ctx, "u1", "077", 1000.01); !errors.Is(err, ErrDepositTooLarge) {
		t.Fatalf("large deposit err = %v", err)
	}
	if _, err := svc.Deposit(ctx, "u1", "077", 5); err != nil {
		t.Fatalf("minimum deposit rejected: %v", err)
	}
}

func TestWithdrawFlow(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	dep, _ := svc.Deposit(ctx, "u1", "077", 100)
	if _, err := svc.VerifyDeposit(ctx, dep.Reference); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if _, err := svc.Withdraw(ctx, "u1", "077", 9.99); !errors.Is(err, ErrWithdrawTooSmall) {
		t.Fatalf("small withdraw err = %v", err)
	}
	if _, err := svc.Withdraw(ctx, "u1", "077", 500); !errors.Is(err, settle.ErrInsufficientFunds) {
		t.Fatalf("overdraft err = %v", err)
	}

	txn, err := svc.Withdraw(ctx, "u1", "077", 40)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if txn.Amount != -40 || txn.BalanceAfter != 60 {
		t.Fatalf("withdraw tx = %+v", txn)
	}
	if bal, _ := svc.Balance(ctx, "u1"); bal != 60 {
		t.Fatalf("balance = %v, want 60", bal)
	}

	txs, _ := repo.TransactionsByUser(ctx, "u1", 0)
	if len(txs) != 2 {
		t.Fatalf("ledger entries = %d, want deposit + withdrawal", len(txs))
	}
}

type rejectingGateway struct{ *SimulatedGateway }

func (rejectingGateway) InitiateWithdrawal(ctx context.Context, amount float64, phoneNumber, reference string) (*GatewayResult, error) {
	return &GatewayResult{OK: false, Reference: reference, Status: "failed", Message: "provider down"}, nil
}

func TestWithdrawReversedOnGatewayFailure(t *testing.T) {
	repo := settle.NewMemoryRepository()
	svc := NewService(repo, rejectingGateway{NewSimulatedGateway()}, Limits{DepositMin: 5, DepositMax: 1000, WithdrawMin: 10})
	ctx := context.Background()

	if _, err := repo.ApplyEntry(ctx, settle.LedgerEntry{
		UserID: "u1", Kind: settle.TxDeposit, Amount: 100, Reference: settle.NewReference("SEED"),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := svc.Withdraw(ctx, "u1", "077", 40); err == nil {
		t.Fatalf("expected gateway rejection")
	}
	if bal, _ := svc.Balance(ctx, "u1"); bal != 100 {
		t.Fatalf("balance = %v, want 100 after reversal", bal)
	}
	txs, _ := repo.TransactionsByUser(ctx, "u1", 0)
	if len(txs) != 3 {
		t.Fatalf("ledger entries = %d, want seed + withdrawal + reversal", len(txs))
	}
}

func TestBalanceForUnknownUser(t *testing.T) {
	svc, _ := newTestService()
	bal, err := svc.Balance(context.Background(), "nobody")
	if err != nil || bal != 0 {
		t.Fatalf("balance = %v, %v", bal, err)
	}
}
