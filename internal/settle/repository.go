package settle

import (
	"context"
	"errors"
)

var (
	ErrAlreadySettled    = errors.New("session already settled")
	ErrNoAccount         = errors.New("account not found")
	ErrNoTransaction     = errors.New("transaction not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrDuplicateRef      = errors.New("duplicate ledger reference")
)

// Repository owns accounts, the match table and the transaction ledger.
// Every method that writes a ledger entry also applies the paired balance
// mutation inside the same transaction boundary; callers never update
// balances directly.
type Repository interface {
	Account(ctx context.Context, userID string) (*UserAccount, error)
	UpsertAccount(ctx context.Context, acct *UserAccount) error

	// ApplySettlement applies a whole plan atomically. A plan whose match
	// session code was settled before returns ErrAlreadySettled with no
	// ledger effects. Plans without a match (free games) apply stats only.
	ApplySettlement(ctx context.Context, plan *Plan) error

	// CreatePending records a ledger entry that does not yet move balance
	// (deposits awaiting gateway confirmation).
	CreatePending(ctx context.Context, tx *Transaction) error

	// CompleteDeposit finalizes a pending deposit by reference, applying its
	// amount to the balance. Completing an already-completed deposit is a
	// no-op returning the stored entry.
	CompleteDeposit(ctx context.Context, reference string) (*Transaction, error)

	// ApplyEntry creates a completed ledger entry and mutates the balance in
	// one unit. Entries that would drive the balance negative fail with
	// ErrInsufficientFunds.
	ApplyEntry(ctx context.Context, entry LedgerEntry) (*Transaction, error)

	TransactionByReference(ctx context.Context, reference string) (*Transaction, error)
	TransactionsByUser(ctx context.Context, userID string, limit int) ([]*Transaction, error)
	MatchBySession(ctx context.Context, sessionCode string) (*Match, error)
}
