package wallet

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fmoyana/stakeboard/internal/obslog"
	"github.com/fmoyana/stakeboard/internal/settle"
)

// Limits bound deposit and withdrawal amounts.
type Limits struct {
	DepositMin  float64
	DepositMax  float64
	WithdrawMin float64
}

var (
	ErrDepositTooSmall  = errors.New("deposit below minimum")
	ErrDepositTooLarge  = errors.New("deposit above maximum")
	ErrWithdrawTooSmall = errors.New("withdrawal below minimum")
)

// Service runs the deposit and withdrawal flows against the gateway and the
// ledger. Deposits move balance only after gateway verification; withdrawals
// deduct before the gateway call so the ledger never promises money twice.
type Service struct {
	repo    settle.Repository
	gateway Gateway
	limits  Limits
}

func NewService(repo settle.Repository, gateway Gateway, limits Limits) *Service {
	return &Service{repo: repo, gateway: gateway, limits: limits}
}

// Deposit opens a pending ledger entry and asks the provider to collect the
// amount. The balance is untouched until VerifyDeposit confirms.
func (s *Service) Deposit(ctx context.Context, userID, phoneNumber string, amount float64) (*settle.Transaction, error) {
	if amount < s.limits.DepositMin {
		return nil, ErrDepositTooSmall
	}
	if s.limits.DepositMax > 0 && amount > s.limits.DepositMax {
		return nil, ErrDepositTooLarge
	}

	txn := &settle.Transaction{
		UserID:      userID,
		Kind:        settle.TxDeposit,
		Amount:      amount,
		Reference:   settle.NewReference("DP"),
		Description: fmt.Sprintf("Deposit via mobile money to %s", phoneNumber),
	}
	if err := s.repo.CreatePending(ctx, txn); err != nil {
		return nil, err
	}

	res, err := s.gateway.InitiateDeposit(ctx, amount, phoneNumber, txn.Reference)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, fmt.Errorf("gateway rejected deposit: %s", res.Message)
	}
	obslog.L().Info("wallet_deposit_initiated",
		zap.String("user_id", userID),
		zap.String("reference", txn.Reference),
		zap.Float64("amount", amount),
	)
	return txn, nil
}

// VerifyDeposit asks the provider about a pending deposit and, once the
// provider reports completion, applies the amount to the balance. Safe to
// call repeatedly for the same reference.
func (s *Service) VerifyDeposit(ctx context.Context, reference string) (*settle.Transaction, error) {
	txn, err := s.repo.TransactionByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if txn.Status == settle.TxCompleted {
		return txn, nil
	}

	res, err := s.gateway.VerifyDeposit(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !res.OK || res.Status != "completed" {
		obslog.L().Info("wallet_deposit_unconfirmed",
			zap.String("reference", reference),
			zap.String("status", res.Status),
		)
		return txn, nil
	}

	done, err := s.repo.CompleteDeposit(ctx, reference)
	if err != nil {
		return nil, err
	}
	obslog.L().Info("wallet_deposit_completed",
		zap.String("user_id", done.UserID),
		zap.String("reference", reference),
		zap.Float64("balance", done.BalanceAfter),
	)
	return done, nil
}

// Withdraw deducts the amount from the balance and hands the payout to the
// provider. An uncovered balance fails before any ledger write.
func (s *Service) Withdraw(ctx context.Context, userID, phoneNumber string, amount float64) (*settle.Transaction, error) {
	if amount < s.limits.WithdrawMin {
		return nil, ErrWithdrawTooSmall
	}

	reference := settle.NewReference("WD")
	txn, err := s.repo.ApplyEntry(ctx, settle.LedgerEntry{
		UserID:      userID,
		Kind:        settle.TxWithdrawal,
		Amount:      -amount,
		Reference:   reference,
		Description: fmt.Sprintf("Withdrawal via mobile money to %s", phoneNumber),
	})
	if err != nil {
		return nil, err
	}

	res, err := s.gateway.InitiateWithdrawal(ctx, amount, phoneNumber, reference)
	if err != nil || !res.OK {
		// payout failed after deduction: compensate with a new entry,
		// history stays append-only
		if _, rerr := s.repo.ApplyEntry(ctx, settle.LedgerEntry{
			UserID:      userID,
			Kind:        settle.TxRefund,
			Amount:      amount,
			Reference:   settle.NewReference("RV"),
			Description: "Withdrawal reversal - gateway failure",
		}); rerr != nil {
			obslog.L().Error("wallet_withdraw_reversal_error",
				zap.String("reference", reference), zap.Error(rerr))
		}
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("gateway rejected withdrawal: %s", res.Message)
	}

	obslog.L().Info("wallet_withdraw_initiated",
		zap.String("user_id", userID),
		zap.String("reference", reference),
		zap.Float64("amount", amount),
	)
	return txn, nil
}

func (s *Service) Balance(ctx context.Context, userID string) (float64, error) {
	acct, err := s.repo.Account(ctx, userID)
	if errors.Is(err, settle.ErrNoAccount) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

func (s *Service) History(ctx context.Context, userID string, limit int) ([]*settle.Transaction, error) {
	return s.repo.TransactionsByUser(ctx, userID, limit)
}
