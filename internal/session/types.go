package session

import (
	"time"

	"github.com/fmoyana/stakeboard/internal/board"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Player is one seat in a session. EndpointID tracks the transport connection
// currently bound to the seat; rejoining rebinds it without reseating.
type Player struct {
	UserID     string `json:"user_id"`
	Name       string `json:"name,omitempty"`
	EndpointID string `json:"endpoint_id,omitempty"`
	Number     int    `json:"number"`
	Ready      bool   `json:"ready"`
	Connected  bool   `json:"connected"`
}

// MoveRecord is one applied move in the session's append-only move log.
type MoveRecord struct {
	Number int        `json:"number"` // player number that moved
	Move   board.Move `json:"move"`
	At     time.Time  `json:"at"`
}

// Session is stored as JSON in Redis under gs:<code>.
type Session struct {
	Code       string         `json:"code"`
	GameType   board.GameType `json:"game_type"`
	CreatedBy  string         `json:"created_by"`
	Players    []Player       `json:"players"`
	MaxPlayers int            `json:"max_players"`
	BetAmount  float64        `json:"bet_amount"`
	Private    bool           `json:"private"`

	Status   Status       `json:"status"`
	Board    *board.Board `json:"board,omitempty"`
	Moves    []MoveRecord `json:"moves,omitempty"`
	Turn     int          `json:"turn,omitempty"` // player number to move
	Result   board.Result `json:"result,omitempty"`
	WinnerID string       `json:"winner_id,omitempty"`
	Settled  bool         `json:"settled,omitempty"`
	Payout   float64      `json:"payout,omitempty"` // winner's settled winnings

	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
}

// Seat returns the seated player for userID, or nil.
func (s *Session) Seat(userID string) *Player {
	for i := range s.Players {
		if s.Players[i].UserID == userID {
			return &s.Players[i]
		}
	}
	return nil
}

// Terminal reports whether the session reached a final state.
func (s *Session) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusCancelled
}

// Errors
var (
	ErrInvalidArgs       = errf("invalid arguments")
	ErrUnknownGameType   = errf("unknown game type")
	ErrBetOutOfRange     = errf("bet amount out of range")
	ErrNotFound          = errf("session not found or expired")
	ErrFull              = errf("session already has two players")
	ErrNotWaiting        = errf("session is not accepting this action anymore")
	ErrNotActive         = errf("session is not active")
	ErrNotSeated         = errf("identity is not seated in this session")
	ErrNotYourTurn       = errf("not your turn")
	ErrIllegalMove       = errf("illegal move")
	ErrConflict          = errf("session changed concurrently, retry")
	ErrInsufficientFunds = errf("balance does not cover the bet")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
