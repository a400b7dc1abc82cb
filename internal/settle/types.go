package settle

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TxKind labels a ledger entry.
type TxKind string

const (
	TxDeposit    TxKind = "deposit"
	TxWithdrawal TxKind = "withdrawal"
	TxWin        TxKind = "win"
	TxLoss       TxKind = "loss"
	TxRefund     TxKind = "refund"
	TxBonus      TxKind = "bonus"
)

// TxStatus tracks a ledger entry lifecycle.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
	TxCancelled TxStatus = "cancelled"
)

// Transaction is one append-only ledger entry. Amount is signed; the invariant
// BalanceAfter == BalanceBefore + Amount holds at the instant of completion.
// History is never edited; corrections are new entries.
type Transaction struct {
	ID            int64     `json:"id"`
	UserID        string    `json:"user_id"`
	Kind          TxKind    `json:"kind"`
	Amount        float64   `json:"amount"`
	BalanceBefore float64   `json:"balance_before"`
	BalanceAfter  float64   `json:"balance_after"`
	Reference     string    `json:"reference"`
	Status        TxStatus  `json:"status"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	ProcessedAt   time.Time `json:"processed_at,omitzero"`
}

// MatchPlayer is one seat's share of a settled match.
type MatchPlayer struct {
	UserID       string  `json:"user_id"`
	PlayerNumber int     `json:"player_number"`
	Stake        float64 `json:"stake"`
	Result       string  `json:"result"` // win | loss | draw
	Earnings     float64 `json:"earnings"`
}

// Match is the settlement record, created exactly once per bet-bearing
// session. SessionCode is unique; the conflict on it is the idempotency guard.
type Match struct {
	ID          int64         `json:"id"`
	SessionCode string        `json:"session_code"`
	GameType    string        `json:"game_type"`
	Players     []MatchPlayer `json:"players"`
	BetAmount   float64       `json:"bet_amount"`
	TotalPot    float64       `json:"total_pot"`
	Commission  float64       `json:"commission"`
	WinnerID    string        `json:"winner_id,omitempty"`
	Result      string        `json:"result"`
	Status      string        `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

// GameStats is a per-game-type win/loss/draw tally.
type GameStats struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Draws  int `json:"draws"`
}

// UserAccount is the balance-owning user record. Balance is mutated only as
// the paired side effect of a ledger entry.
type UserAccount struct {
	ID          string               `json:"id"`
	DisplayName string               `json:"display_name"`
	Balance     float64              `json:"balance"`
	TotalWins   int                  `json:"total_wins"`
	TotalLosses int                  `json:"total_losses"`
	Level       int                  `json:"level"`
	Experience  int                  `json:"experience"`
	Stats       map[string]GameStats `json:"stats"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// LedgerEntry is a planned ledger mutation; the repository fills in balances
// when it applies the plan.
type LedgerEntry struct {
	UserID      string
	Kind        TxKind
	Amount      float64
	Reference   string
	Description string
}

// StatDelta records how one player's aggregate stats change.
type StatDelta struct {
	UserID   string
	GameType string
	Outcome  string // win | loss | draw
}

// Plan is a fully computed settlement: match record, ledger entries and stat
// deltas. Repositories apply a plan atomically or not at all.
type Plan struct {
	Match   *Match
	Entries []LedgerEntry
	Stats   []StatDelta
}

// NewReference mints a globally unique ledger reference.
func NewReference(prefix string) string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("%s%d%s", strings.ToUpper(prefix), time.Now().UnixMilli(), raw[:8])
}
