package settle

import (
	"context"
	"fmt"

	"github.com/fmoyana/stakeboard/internal/obslog"
	"go.uber.org/zap"
)

// Seat describes one seated, bound player of a concluded session.
type Seat struct {
	UserID string
	Number int
}

// Outcome is the settlement input for one concluded session. Seats must hold
// only seated players with bound users, in join order.
type Outcome struct {
	SessionCode string
	GameType    string
	BetAmount   float64
	Result      string // player1 | player2 | draw
	Seats       []Seat
}

// Engine turns concluded sessions into ledger plans and applies them through
// the repository. Safe to re-invoke for the same session: the repository's
// match uniqueness turns a retry into ErrAlreadySettled.
type Engine struct {
	repo Repository
	rate float64
}

func NewEngine(repo Repository, commissionRate float64) *Engine {
	return &Engine{repo: repo, rate: commissionRate}
}

const (
	expWin  = 100
	expDraw = 50
	expLoss = 10
)

// Settle computes and applies the full settlement for one outcome. Stats are
// updated for every seat regardless of the stake; ledger entries and the
// match record exist only for bet-bearing sessions.
func (e *Engine) Settle(ctx context.Context, o Outcome) (*Plan, error) {
	plan, err := e.Build(o)
	if err != nil {
		return nil, err
	}
	if err := e.repo.ApplySettlement(ctx, plan); err != nil {
		if err == ErrAlreadySettled {
			obslog.L().Warn("settle_duplicate", zap.String("session_code", o.SessionCode))
		}
		return nil, err
	}
	obslog.L().Info("settle_done",
		zap.String("session_code", o.SessionCode),
		zap.String("game_type", o.GameType),
		zap.String("result", o.Result),
		zap.Float64("bet", o.BetAmount),
		zap.Int("entries", len(plan.Entries)),
	)
	return plan, nil
}

// Build computes the plan without touching storage.
func (e *Engine) Build(o Outcome) (*Plan, error) {
	if len(o.Seats) == 0 {
		return nil, fmt.Errorf("settle %s: no seated players", o.SessionCode)
	}

	var winner *Seat
	switch o.Result {
	case "draw":
	case "player1", "player2":
		for i := range o.Seats {
			if fmt.Sprintf("player%d", o.Seats[i].Number) == o.Result {
				winner = &o.Seats[i]
				break
			}
		}
		if winner == nil {
			return nil, fmt.Errorf("settle %s: result %s has no seated winner", o.SessionCode, o.Result)
		}
	default:
		return nil, fmt.Errorf("settle %s: unexpected result %q", o.SessionCode, o.Result)
	}

	plan := &Plan{}
	for _, s := range o.Seats {
		outcome := "loss"
		switch {
		case o.Result == "draw":
			outcome = "draw"
		case winner != nil && s.UserID == winner.UserID:
			outcome = "win"
		}
		plan.Stats = append(plan.Stats, StatDelta{UserID: s.UserID, GameType: o.GameType, Outcome: outcome})
	}

	if o.BetAmount <= 0 {
		return plan, nil
	}

	totalPot := o.BetAmount * float64(len(o.Seats))
	match := &Match{
		SessionCode: o.SessionCode,
		GameType:    o.GameType,
		BetAmount:   o.BetAmount,
		TotalPot:    totalPot,
		Result:      o.Result,
		Status:      "completed",
	}

	if o.Result == "draw" {
		for _, s := range o.Seats {
			plan.Entries = append(plan.Entries, LedgerEntry{
				UserID:      s.UserID,
				Kind:        TxRefund,
				Amount:      o.BetAmount,
				Reference:   NewReference("RF"),
				Description: fmt.Sprintf("Draw - %s bet refunded", o.GameType),
			})
			match.Players = append(match.Players, MatchPlayer{
				UserID: s.UserID, PlayerNumber: s.Number, Stake: o.BetAmount,
				Result: "draw", Earnings: o.BetAmount,
			})
		}
	} else {
		commission := totalPot * e.rate
		winnings := totalPot - commission
		match.Commission = commission
		match.WinnerID = winner.UserID

		for _, s := range o.Seats {
			if s.UserID == winner.UserID {
				plan.Entries = append(plan.Entries, LedgerEntry{
					UserID:      s.UserID,
					Kind:        TxWin,
					Amount:      winnings,
					Reference:   NewReference("WN"),
					Description: fmt.Sprintf("Won %s match", o.GameType),
				})
				match.Players = append(match.Players, MatchPlayer{
					UserID: s.UserID, PlayerNumber: s.Number, Stake: o.BetAmount,
					Result: "win", Earnings: winnings,
				})
				continue
			}
			plan.Entries = append(plan.Entries, LedgerEntry{
				UserID:      s.UserID,
				Kind:        TxLoss,
				Amount:      -o.BetAmount,
				Reference:   NewReference("LS"),
				Description: fmt.Sprintf("Lost %s match", o.GameType),
			})
			match.Players = append(match.Players, MatchPlayer{
				UserID: s.UserID, PlayerNumber: s.Number, Stake: o.BetAmount,
				Result: "loss", Earnings: -o.BetAmount,
			})
		}
	}

	plan.Match = match
	return plan, nil
}

// applyStats folds one stat delta into an account, including experience and
// the leveling loop: one large award can cross several thresholds.
func applyStats(acct *UserAccount, d StatDelta) {
	if acct.Stats == nil {
		acct.Stats = make(map[string]GameStats)
	}
	gs := acct.Stats[d.GameType]
	switch d.Outcome {
	case "win":
		gs.Wins++
		acct.TotalWins++
		acct.Experience += expWin
	case "draw":
		gs.Draws++
		acct.Experience += expDraw
	default:
		gs.Losses++
		acct.TotalLosses++
		acct.Experience += expLoss
	}
	acct.Stats[d.GameType] = gs

	if acct.Level < 1 {
		acct.Level = 1
	}
	for acct.Experience >= acct.Level*1000 {
		acct.Experience -= acct.Level * 1000
		acct.Level++
	}
}
