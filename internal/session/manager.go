package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fmoyana/stakeboard/internal/board"
	"github.com/fmoyana/stakeboard/internal/obslog"
	"github.com/fmoyana/stakeboard/internal/settle"
)

const maxPlayers = 2

// Manager runs every session transition as one load-validate-mutate-persist
// unit. The WATCH on the session key guarantees at most one in-flight
// transition per code; the loser of a race gets ErrConflict.
type Manager struct {
	rdb     *redis.Client
	store   *Store
	settler *settle.Engine
	repo    settle.Repository

	betMin float64
	betMax float64
}

func NewManager(rdb *redis.Client, settler *settle.Engine, repo settle.Repository, betMin, betMax float64) *Manager {
	return &Manager{rdb: rdb, store: NewStore(rdb), settler: settler, repo: repo, betMin: betMin, betMax: betMax}
}

func (m *Manager) Store() *Store { return m.store }

// Create allocates a fresh session with the creator seated as player 1.
func (m *Manager) Create(ctx context.Context, userID, userName, endpointID string, gameType string, bet float64, private bool) (*Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidArgs
	}
	gt, err := board.ParseGameType(gameType)
	if err != nil {
		return nil, ErrUnknownGameType
	}
	if err := m.checkBet(ctx, userID, bet); err != nil {
		return nil, err
	}

	for i := 0; i < 5; i++ {
		code, err := codeGen()
		if err != nil {
			return nil, err
		}
		ok, err := m.store.ClaimCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		sess := &Session{
			Code:       code,
			GameType:   gt,
			CreatedBy:  userID,
			MaxPlayers: maxPlayers,
			BetAmount:  bet,
			Private:    private,
			Status:     StatusWaiting,
			CreatedAt:  time.Now(),
			Players: []Player{{
				UserID: userID, Name: userName, EndpointID: endpointID,
				Number: 1, Connected: endpointID != "",
			}},
		}
		if err := m.store.Save(ctx, sess); err != nil {
			return nil, err
		}
		if err := m.store.IndexUser(ctx, userID, code); err != nil {
			return nil, err
		}
		if !private {
			_ = m.store.AddOpen(ctx, code)
		}
		obslog.L().Info("session_create",
			zap.String("code", code),
			zap.String("game_type", string(gt)),
			zap.String("user_id", userID),
			zap.Float64("bet", bet),
		)
		return sess, nil
	}
	return nil, fmt.Errorf("failed to allocate session code")
}

// Join seats a new identity, or rebinds the transport endpoint of an already
// seated one. Rejoin is idempotent: the roster never grows for a known
// identity, and rebinding works in any non-terminal state.
func (m *Manager) Join(ctx context.Context, code, userID, userName, endpointID string) (*Session, *Player, error) {
	if strings.TrimSpace(code) == "" || strings.TrimSpace(userID) == "" {
		return nil, nil, ErrInvalidArgs
	}
	var joined *Player
	sess, err := m.transition(ctx, code, func(sess *Session) error {
		if p := sess.Seat(userID); p != nil {
			if sess.Terminal() {
				return ErrNotWaiting
			}
			p.EndpointID = endpointID
			p.Connected = endpointID != ""
			if userName != "" {
				p.Name = userName
			}
			joined = p
			return nil
		}
		if sess.Status != StatusWaiting {
			return ErrNotWaiting
		}
		if len(sess.Players) >= sess.MaxPlayers {
			return ErrFull
		}
		if err := m.checkBet(ctx, userID, sess.BetAmount); err != nil {
			return err
		}
		sess.Players = append(sess.Players, Player{
			UserID: userID, Name: userName, EndpointID: endpointID,
			Number: len(sess.Players) + 1, Connected: endpointID != "",
		})
		joined = &sess.Players[len(sess.Players)-1]
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	_ = m.store.IndexUser(ctx, userID, sess.Code)
	obslog.L().Info("session_join",
		zap.String("code", sess.Code),
		zap.String("user_id", userID),
		zap.Int("player_number", joined.Number),
	)
	// re-resolve the seat on the returned copy
	return sess, sess.Seat(userID), nil
}

// Ready marks a seat ready. When every seat is taken and ready the board is
// initialized and the session turns active, exactly once.
func (m *Manager) Ready(ctx context.Context, code, userID string) (*Session, bool, error) {
	started := false
	sess, err := m.transition(ctx, code, func(sess *Session) error {
		if sess.Status != StatusWaiting {
			return ErrNotWaiting
		}
		p := sess.Seat(userID)
		if p == nil {
			return ErrNotSeated
		}
		p.Ready = true

		if len(sess.Players) < sess.MaxPlayers {
			return nil
		}
		for i := range sess.Players {
			if !sess.Players[i].Ready {
				return nil
			}
		}
		eng, err := board.EngineFor(sess.GameType)
		if err != nil {
			return err
		}
		sess.Board = eng.Initialize()
		sess.Status = StatusActive
		sess.Turn = 1
		sess.StartedAt = time.Now()
		started = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if started {
		_ = m.store.RemoveOpen(ctx, sess.Code)
		obslog.L().Info("session_start",
			zap.String("code", sess.Code),
			zap.String("game_type", string(sess.GameType)),
		)
	}
	return sess, started, nil
}

// Move validates and applies one move for the seat bound to userID. An
// illegal move leaves the board untouched and does not pass the turn.
func (m *Manager) Move(ctx context.Context, code, userID string, mv board.Move) (*Session, error) {
	sess, err := m.transition(ctx, code, func(sess *Session) error {
		if sess.Status != StatusActive {
			return ErrNotActive
		}
		p := sess.Seat(userID)
		if p == nil {
			return ErrNotSeated
		}
		if sess.Turn != p.Number {
			return ErrNotYourTurn
		}
		eng, err := board.EngineFor(sess.GameType)
		if err != nil {
			return err
		}
		if !eng.ValidateMove(sess.Board, mv, p.Number) {
			return ErrIllegalMove
		}
		sess.Board = eng.ApplyMove(sess.Board, mv, p.Number)
		sess.Moves = append(sess.Moves, MoveRecord{Number: p.Number, Move: mv, At: time.Now()})

		if res := eng.DetectEnd(sess.Board); res != board.Ongoing {
			m.conclude(sess, res)
			return nil
		}
		sess.Turn = otherNumber(p.Number)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if sess.Status == StatusCompleted {
		m.settleSession(ctx, sess)
	}
	return sess, nil
}

// Resign ends an active session in favor of the opponent. With no bound
// opponent the session concludes as a draw.
func (m *Manager) Resign(ctx context.Context, code, userID string) (*Session, error) {
	sess, err := m.transition(ctx, code, func(sess *Session) error {
		if sess.Status != StatusActive {
			return ErrNotActive
		}
		p := sess.Seat(userID)
		if p == nil {
			return ErrNotSeated
		}
		res := board.Draw
		for i := range sess.Players {
			if sess.Players[i].UserID != userID && sess.Players[i].UserID != "" {
				if sess.Players[i].Number == 1 {
					res = board.Player1Win
				} else {
					res = board.Player2Win
				}
				break
			}
		}
		m.conclude(sess, res)
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("session_resign", zap.String("code", sess.Code), zap.String("user_id", userID))
	m.settleSession(ctx, sess)
	return sess, nil
}

// Cancel aborts a session that has not started. Cancelling an active session
// is rejected; resign is the only early exit once play began.
func (m *Manager) Cancel(ctx context.Context, code, userID string) (*Session, error) {
	sess, err := m.transition(ctx, code, func(sess *Session) error {
		if sess.Status != StatusWaiting {
			return ErrNotWaiting
		}
		if sess.Seat(userID) == nil {
			return ErrNotSeated
		}
		sess.Status = StatusCancelled
		sess.EndedAt = time.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	_ = m.store.RemoveOpen(ctx, sess.Code)
	obslog.L().Info("session_cancel", zap.String("code", sess.Code), zap.String("user_id", userID))
	return sess, nil
}

// Disconnect unbinds a transport endpoint. Active games survive; the seat
// stays and the player may rejoin by code.
func (m *Manager) Disconnect(ctx context.Context, code, endpointID string) (*Session, *Player, error) {
	var dropped *Player
	sess, err := m.transition(ctx, code, func(sess *Session) error {
		for i := range sess.Players {
			if sess.Players[i].EndpointID == endpointID {
				sess.Players[i].EndpointID = ""
				sess.Players[i].Connected = false
				dropped = &sess.Players[i]
				return nil
			}
		}
		return ErrNotSeated
	})
	if err != nil {
		return nil, nil, err
	}
	return sess, sess.Seat(dropped.UserID), nil
}

func (m *Manager) Get(ctx context.Context, code string) (*Session, error) {
	sess, err := m.store.Load(ctx, code)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	// A completed session whose settlement failed transiently is retried on
	// load; the repository's match guard keeps the retry single-shot.
	if sess.Status == StatusCompleted && !sess.Settled {
		m.settleSession(ctx, sess)
	}
	return sess, nil
}

func (m *Manager) ListOpen(ctx context.Context) ([]*Session, error) {
	return m.store.ListOpen(ctx)
}

// transition wraps one session mutation in WATCH + TxPipeline. fn mutates the
// decoded session in place; a TxFailedErr surfaces as ErrConflict.
func (m *Manager) transition(ctx context.Context, code string, fn func(*Session) error) (*Session, error) {
	key := m.store.keySession(code)
	var out *Session
	err := m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		sess, err := decodeSession(raw)
		if err != nil {
			return err
		}
		if sess == nil {
			return ErrNotFound
		}
		if err := fn(sess); err != nil {
			return err
		}
		buf, err := json.Marshal(sess)
		if err != nil {
			return err
		}
		pipe := tx.TxPipeline()
		pipe.Set(ctx, key, buf, ttlSession)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		out = sess
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) conclude(sess *Session, res board.Result) {
	sess.Status = StatusCompleted
	sess.Result = res
	sess.EndedAt = time.Now()
	switch res {
	case board.Player1Win, board.Player2Win:
		want := 1
		if res == board.Player2Win {
			want = 2
		}
		for i := range sess.Players {
			if sess.Players[i].Number == want {
				sess.WinnerID = sess.Players[i].UserID
			}
		}
	}
}

// settleSession pays out a concluded session and stamps the settled marker.
// The match uniqueness in the repository makes a re-run harmless.
func (m *Manager) settleSession(ctx context.Context, sess *Session) {
	if m.settler == nil || sess.Settled || sess.Status != StatusCompleted {
		return
	}
	out := settle.Outcome{
		SessionCode: sess.Code,
		GameType:    string(sess.GameType),
		BetAmount:   sess.BetAmount,
		Result:      string(sess.Result),
	}
	for _, p := range sess.Players {
		if p.UserID == "" {
			continue
		}
		out.Seats = append(out.Seats, settle.Seat{UserID: p.UserID, Number: p.Number})
	}
	plan, err := m.settler.Settle(ctx, out)
	if err != nil && !errors.Is(err, settle.ErrAlreadySettled) {
		obslog.L().Error("session_settle_error", zap.String("code", sess.Code), zap.Error(err))
		return
	}

	var payout float64
	if plan != nil {
		for _, e := range plan.Entries {
			if e.Kind == settle.TxWin {
				payout = e.Amount
			}
		}
	} else if m.repo != nil {
		// already settled but never marked: recover the payout from the match
		if match, merr := m.repo.MatchBySession(ctx, sess.Code); merr == nil && match != nil && match.WinnerID != "" {
			payout = match.TotalPot - match.Commission
		}
	}

	marked, err := m.transition(ctx, sess.Code, func(cur *Session) error {
		cur.Settled = true
		if payout > 0 {
			cur.Payout = payout
		}
		return nil
	})
	if err != nil {
		obslog.L().Warn("session_settle_mark_error", zap.String("code", sess.Code), zap.Error(err))
		return
	}
	sess.Settled = marked.Settled
	sess.Payout = marked.Payout
}

// checkBet validates the stake range and, for bet-bearing sessions, that the
// identity's balance covers it.
func (m *Manager) checkBet(ctx context.Context, userID string, bet float64) error {
	if bet == 0 {
		return nil
	}
	if bet < 0 || bet < m.betMin || (m.betMax > 0 && bet > m.betMax) {
		return ErrBetOutOfRange
	}
	if m.repo == nil {
		return nil
	}
	acct, err := m.repo.Account(ctx, userID)
	if errors.Is(err, settle.ErrNoAccount) {
		return ErrInsufficientFunds
	}
	if err != nil {
		return err
	}
	if acct.Balance < bet {
		return ErrInsufficientFunds
	}
	return nil
}

func otherNumber(n int) int {
	if n == 1 {
		return 2
	}
	return 1
}
