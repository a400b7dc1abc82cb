package board

import "fmt"

// GameType selects which engine interprets a session's board.
type GameType string

const (
	Checkers  GameType = "checkers"
	Chess     GameType = "chess"
	TicTacToe GameType = "tictactoe"
)

// ParseGameType validates a client-supplied game type.
func ParseGameType(s string) (GameType, error) {
	switch GameType(s) {
	case Checkers, Chess, TicTacToe:
		return GameType(s), nil
	}
	return "", fmt.Errorf("unknown game type %q", s)
}

// Result of end detection. PlayerN refer to seat numbers, not colors.
type Result string

const (
	Ongoing    Result = "ongoing"
	Player1Win Result = "player1"
	Player2Win Result = "player2"
	Draw       Result = "draw"
)

// Coord addresses a cell; row 0 is the top of the board as player 2 sees it.
type Coord struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Move is one candidate or recorded move. TicTacToe uses To only. Piece is a
// client-supplied label kept for the audit log; engines never trust it.
type Move struct {
	From  Coord  `json:"from"`
	To    Coord  `json:"to"`
	Piece string `json:"piece,omitempty"`
}

// Board is a tagged variant; exactly one of the game fields is set, matching
// Game. It marshals as the session's persisted board state.
type Board struct {
	Game      GameType       `json:"game"`
	Checkers  *CheckersBoard `json:"checkers,omitempty"`
	Chess     *ChessBoard    `json:"chess,omitempty"`
	TicTacToe *TTTBoard      `json:"tictactoe,omitempty"`
}

// Engine is the per-game capability set. Implementations are pure: ApplyMove
// returns a fresh board and never mutates its input.
type Engine interface {
	Initialize() *Board
	ValidateMove(b *Board, mv Move, mover int) bool
	ApplyMove(b *Board, mv Move, mover int) *Board
	DetectEnd(b *Board) Result
}

// EngineFor dispatches on game type.
func EngineFor(gt GameType) (Engine, error) {
	switch gt {
	case Checkers:
		return checkersEngine{}, nil
	case Chess:
		return chessEngine{}, nil
	case TicTacToe:
		return tttEngine{}, nil
	}
	return nil, fmt.Errorf("unknown game type %q", gt)
}
