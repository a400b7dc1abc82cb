package session

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/fmoyana/stakeboard/internal/board"
	"github.com/fmoyana/stakeboard/internal/settle"
)

func newTestManager(t *testing.T) (*Manager, settle.Repository, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := settle.NewMemoryRepository()
	settler := settle.NewEngine(repo, 0.05)
	mgr := NewManager(rdb, settler, repo, 1, 1000)
	return mgr, repo, func() { mr.Close() }
}

func seed(t *testing.T, repo settle.Repository, userID string, amount float64) {
	t.Helper()
	_, err := repo.ApplyEntry(context.Background(), settle.LedgerEntry{
		UserID: userID, Kind: settle.TxDeposit, Amount: amount, Reference: settle.NewReference("SEED"),
	})
	if err != nil {
		t.Fatalf("seed %s: %v", userID, err)
	}
}

func startedSession(t *testing.T, m *Manager, repo settle.Repository, gameType string, bet float64) *Session {
	t.Helper()
	ctx := context.Background()
	if bet > 0 {
		seed(t, repo, "u1", 100)
		seed(t, repo, "u2", 100)
	}
	sess, err := m.Create(ctx, "u1", "Alice", "ep1", gameType, bet, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, _, err := m.Join(ctx, sess.Code, "u2", "Bob", "ep2"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, _, err := m.Ready(ctx, sess.Code, "u1"); err != nil {
		t.Fatalf("Ready u1: %v", err)
	}
	sess, started, err := m.Ready(ctx, sess.Code, "u2")
	if err != nil {
		t.Fatalf("Ready u2: %v", err)
	}
	if !started || sess.Status != StatusActive {
		t.Fatalf("expected active session, got %s", sess.Status)
	}
	return sess
}

func TestCreateNormalizesAndSeats(t *testing.T) {
	m, _, cleanup := newTestManager(t)
	defer cleanup()
	ctx := context.Background()

	sess, err := m.Create(ctx, "u1", "Alice", "ep1", "tictactoe", 0, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(sess.Code) != 6 || sess.Code != strings.ToUpper(sess.Code) {
		t.Fatalf("code = %q, want 6 upper chars", sess.Code)
	}
	if len(sess.Players) != 1 || sess.Players[0].Number != 1 {
		t.Fatalf("creator not seated as player 1: %+v", sess.Players)
	}

	// lookup is case-insensitive
	got, err := m.Get(ctx, strings.ToLower(sess.Code))
	if err != nil {
		t.Fatalf("Get lowercase: %v", err)
	}
	if got.Code != sess.Code {
		t.Fatalf("code mismatch: %q vs %q", got.Code, sess.Code)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	m, repo, cleanup := newTestManager(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := m.Create(ctx, "u1", "A", "ep1", "backgammon", 0, false); !errors.Is(err, ErrUnknownGameType) {
		t.Fatalf("unknown game err = %v", err)
	}
	seed(t, repo, "u1", 5000)
	if _, err := m.Create(ctx, "u1", "A", "ep1", "checkers", 5000, false); !errors.Is(err, ErrBetOutOfRange) {
		t.Fatalf("bet too high err = %v", err)
	}
	if _, err := m.Create(ctx, "u2", "B", "ep2", "checkers", 50, false); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("uncovered bet err = %v", err)
	}
}

func TestJoinIdempotentForSeatedIdentity(t *testing.T) {
	m, _, cleanup := newTestManager(t)
	defer cleanup()
	ctx := context.Background()

	sess, err := m.Create(ctx, "u1", "Alice", "ep1", "checkers", 0, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sess, p, err := m.Join(ctx, sess.Code, "u1", "Alice", "ep9")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if len(sess.Players) != 1 {
		t.Fatalf("roster grew on rejoin: %d", len(sess.Players))
	}
	if p.EndpointID != "ep9" || p.Number != 1 {
		t.Fatalf("rejoin did not rebind endpoint: %+v", p)
	}
}

func TestThirdJoinRejected(t *testing.T) {
	m, _, cleanup := newTestManager(t)
	defer cleanup()
	ctx := context.Background()

	sess, _ := m.Create(ctx, "u1", "A", "ep1", "tictactoe", 0, false)
	if _, _, err := m.Join(ctx, sess.Code, "u2", "B", "ep2"); err != nil {
		t.Fatalf("second join: %v", err)
	}
	if _, _, err := m.Join(ctx, sess.Code, "u3", "C", "ep3"); !errors.Is(err, ErrFull) {
		t.Fatalf("third join err = %v, want ErrFull", err)
	}
}

func TestReadyStartsExactlyOnce(t *testing.T) {
	m, repo, cleanup := newTestManager(t)
	defer cleanup()
	ctx := context.Background()

	sess := startedSession(t, m, repo, "checkers", 0)
	if sess.Board == nil || sess.Board.Checkers == nil {
		t.Fatalf("board not initialized")
	}
	if sess.Turn != 1 {
		t.Fatalf("turn = %d, want 1", sess.Turn)
	}
	if sess.StartedAt.IsZero() {
		t.Fatalf("StartedAt not stamped")
	}

	// readiness after start is a state conflict, not a re-initialization
	if _, _, err := m.Ready(ctx, sess.Code, "u1"); !errors.Is(err, ErrNotWaiting) {
		t.Fatalf("ready after start err = %v", err)
	}
}

func TestMoveTurnOrderAndLegality(t *testing.T) {
	m, repo, cleanup := newTestManager(t)
	defer cleanup()
	ctx := context.Background()

	sess := startedSession(t, m, repo, "tictactoe", 0)

	if _, err := m.Move(ctx, sess.Code, "u2", board.Move{To: board.Coord{Row: 0, Col: 0}}); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("out-of-turn err = %v", err)
	}
	sess2, err := m.Move(ctx, sess.Code, "u1", board.Move{To: board.Coord{Row: 0, Col: 0}})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if sess2.Turn != 2 || len(sess2.Moves) != 1 {
		t.Fatalf("turn/moves after move = %d/%d", sess2.Turn, len(sess2.Moves))
	}

	// occupied cell: rejected, board unchanged, turn stays with u2
	if _, err := m.Move(ctx, sess.Code, "u2", board.Move{To: board.Coord{Row: 0, Col: 0}}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("occupied cell err = %v", err)
	}
	cur, _ := m.Get(ctx, sess.Code)
	if cur.Turn != 2 || len(cur.Moves) != 1 {
		t.Fatalf("illegal move mutated session: turn=%d moves=%d", cur.Turn, len(cur.Moves))
	}

	if _, err := m.Move(ctx, sess.Code, "ghost", board.Move{To: board.Coord{Row: 1, Col: 1}}); !errors.Is(err, ErrNotSeated) {
		t.Fatalf("unseated mover err = %v", err)
	}
}

func TestWinTriggersSettlement(t *testing.T) {
	m, repo, cleanup := newTestManager(t)
	defer cleanup()
	ctx := context.Background()

	sess := startedSession(t, m, repo, "tictactoe", 10)

	// u1 takes the top row while u2 fills the middle
	moves := []struct {
		user string
		to   board.Coord
	}{
		{"u1", board.Coord{Row: 0, Col: 0}},
		{"u2", board.Coord{Row: 1, Col: 0}},
		{"u1", board.Coord{Row: 0, Col: 1}},
		{"u2", board.Coord{Row: 1, Col: 1}},
		{"u1", board.Coord{Row: 0, Col: 2}},
	}
	var last *Session
	for _, mv := range moves {
		var err error
		last, err = m.Move(ctx, sess.Code, mv.user, board.Move{To: mv.to})
		if err != nil {
			t.Fatalf("move %s %v: %v", mv.user, mv.to, err)
		}
	}
	if last.Status != StatusCompleted || last.Result != board.Player1Win || last.WinnerID != "u1" {
		t.Fatalf("end state = %s/%s/%s", last.Status, last.Result, last.WinnerID)
	}
	if !last.Settled {
		t.Fatalf("session not settled")
	}

	alice, _ := repo.Account(ctx, "u1")
	bob, _ := repo.Account(ctx, "u2")
	if math.Abs(alice.Balance-119.0) > 1e-9 {
		t.Fatalf("winner balance = %v, want 119.0", alice.Balance)
	}
	if bob.Balance != 90 {
		t.Fatalf("loser balance = %v, want 90", bob.Balance)
	}

	match, err := repo.MatchBySession(ctx, sess.Code)
	if err != nil || match == nil {
		t.Fatalf("match record missing: %v", err)
	}
	if match.WinnerID != "u1" || math.Abs(match.Commission-1.0) > 1e-9 {
		t.Fatalf("match = %+v", match)
	}

	// a completed session admits no further moves
	if _, err := m.Move(ctx, sess.Code, "u2", board.Move{To: board.Coord{Row: 2, Col: 2}}); !errors.Is(err, ErrNotActive) {
		t.Fatalf("move after end err = %v", err)
	}
}

func TestResignAwardsOpponent(t *testing.T) {
	m, repo, cleanup := newTestManager(t)
	defer cleanup()
	ctx := context.Background()

	sess := startedSession(t, m, repo, "checkers", 10)
	got, err := m.Resign(ctx, sess.Code, "u1")
	if err != nil {
		t.Fatalf("resign: %v", err)
	}
	if got.Status != StatusCompleted || got.Result != board.Player2Win || got.WinnerID != "u2" {
		t.Fatalf("resign end state = %s/%s/%s", got.Status, got.Result, got.WinnerID)
	}
	bob, _ := repo.Account(ctx, "u2")
	if math.Abs(bob.Balance-119.0) > 1e-9 {
		t.Fatalf("opponent balance = %v, want 119.0", bob.Balance)
	}
}

func TestCancelOnlyWhileWaiting(t *testing.T) {
	m, repo, cleanup := newTestManager(t)
	defer cleanup()
	ctx := context.Background()

	sess, _ := m.Create(ctx, "u1", "A", "ep1", "chess", 0, false)
	got, err := m.Cancel(ctx, sess.Code, "u1")
	if err != nil {
		t.Fatalf("cancel waiting: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("status = %s", got.Status)
	}
	if _, err := repo.Account(ctx, "u1"); !errors.Is(err, settle.ErrNoAccount) {
		t.Fatalf("cancel produced ledger effects: %v", err)
	}

	active := startedSession(t, m, repo, "chess", 0)
	if _, err := m.Cancel(ctx, active.Code, "u1"); !errors.Is(err, ErrNotWaiting) {
		t.Fatalf("cancel active err = %v", err)
	}
}

// haltingRepo fails settlement application a fixed number of times before
// delegating, standing in for a storage outage at completion time.
type haltingRepo struct {
	settle.Repository
	outages int
}

func (r *haltingRepo) ApplySettlement(ctx context.Context, plan *settle.Plan) error {
	if r.outages > 0 {
		r.outages--
		return errors.New("settlement storage offline")
	}
	return r.Repository.ApplySettlement(ctx, plan)
}

func TestSettlementRetriedOnLoadAfterOutage(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := &haltingRepo{Repository: settle.NewMemoryRepository(), outages: 1}
	m := NewManager(rdb, settle.NewEngine(repo, 0.05), repo, 1, 1000)
	ctx := context.Background()

	sess := startedSession(t, m, repo, "tictactoe", 10)
	moves := []struct {
		user string
		to   board.Coord
	}{
		{"u1", board.Coord{Row: 0, Col: 0}},
		{"u2", board.Coord{Row: 1, Col: 0}},
		{"u1", board.Coord{Row: 0, Col: 1}},
		{"u2", board.Coord{Row: 1, Col: 1}},
		{"u1", board.Coord{Row: 0, Col: 2}},
	}
	var last *Session
	for _, mv := range moves {
		if last, err = m.Move(ctx, sess.Code, mv.user, board.Move{To: mv.to}); err != nil {
			t.Fatalf("move %s: %v", mv.user, err)
		}
	}
	if last.Status != StatusCompleted || last.Settled {
		t.Fatalf("after outage: status=%s settled=%v, want completed/unsettled", last.Status, last.Settled)
	}
	alice, _ := repo.Account(ctx, "u1")
	if alice.Balance != 100 {
		t.Fatalf("outage still paid out: %v", alice.Balance)
	}

	// loading the stranded session re-runs settlement as a unit
	got, err := m.Get(ctx, sess.Code)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Settled {
		t.Fatalf("load did not retry settlement")
	}
	if math.Abs(got.Payout-19.0) > 1e-9 {
		t.Fatalf("payout = %v, want 19.0", got.Payout)
	}
	alice, _ = repo.Account(ctx, "u1")
	bob, _ := repo.Account(ctx, "u2")
	if math.Abs(alice.Balance-119.0) > 1e-9 || bob.Balance != 90 {
		t.Fatalf("balances after retry = %v/%v, want 119/90", alice.Balance, bob.Balance)
	}

	// settled exactly once: a further load is a no-op
	if again, err := m.Get(ctx, sess.Code); err != nil || !again.Settled {
		t.Fatalf("reload: %v settled=%v", err, again.Settled)
	}
	alice, _ = repo.Account(ctx, "u1")
	if math.Abs(alice.Balance-119.0) > 1e-9 {
		t.Fatalf("reload double-paid: %v", alice.Balance)
	}
}

func TestRacingWriterGetsConflict(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := settle.NewMemoryRepository()
	m := NewManager(rdb, settle.NewEngine(repo, 0.05), repo, 1, 1000)
	ctx := context.Background()

	sess := startedSession(t, m, repo, "tictactoe", 0)
	key := m.store.keySession(sess.Code)

	// a second writer lands on the key between the watched read and the commit
	_, err = m.transition(ctx, sess.Code, func(s *Session) error {
		raw, gerr := mr.Get(key)
		if gerr != nil {
			t.Fatalf("interleaved get: %v", gerr)
		}
		if serr := mr.Set(key, raw); serr != nil {
			t.Fatalf("interleaved set: %v", serr)
		}
		s.Turn = otherNumber(s.Turn)
		return nil
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("racing transition err = %v, want ErrConflict", err)
	}

	// the losing transition left no trace
	cur, err := m.Get(ctx, sess.Code)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cur.Turn != 1 || len(cur.Moves) != 0 {
		t.Fatalf("losing transition mutated session: turn=%d moves=%d", cur.Turn, len(cur.Moves))
	}
}

func TestDisconnectKeepsActiveSession(t *testing.T) {
	m, repo, cleanup := newTestManager(t)
	defer cleanup()
	ctx := context.Background()

	sess := startedSession(t, m, repo, "checkers", 0)
	got, p, err := m.Disconnect(ctx, sess.Code, "ep2")
	if err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if got.Status != StatusActive {
		t.Fatalf("disconnect cancelled the game: %s", got.Status)
	}
	if p.Connected || p.EndpointID != "" {
		t.Fatalf("seat still bound: %+v", p)
	}

	// rejoin by code rebinds the seat
	got, p, err = m.Join(ctx, sess.Code, "u2", "Bob", "ep7")
	if err != nil {
		t.Fatalf("rejoin active: %v", err)
	}
	if !p.Connected || p.EndpointID != "ep7" || p.Number != 2 {
		t.Fatalf("rejoin rebind failed: %+v", p)
	}
	if len(got.Players) != 2 {
		t.Fatalf("roster changed on rejoin: %d", len(got.Players))
	}
}
