package board

import (
	"fmt"

	nchess "github.com/corentings/chess/v2"
)

// ChessPiece mirrors one occupied square for presentation.
type ChessPiece struct {
	Player int    `json:"player"`
	Type   string `json:"type"`
}

// ChessBoard keeps a display grid plus the UCI move log. Rules, legality and
// termination come from the chess library by replaying MovesUCI from the
// start position; the grid is derived state and never consulted for legality.
type ChessBoard struct {
	Grid     [8][8]*ChessPiece `json:"grid"`
	MovesUCI []string          `json:"moves_uci"`
}

type chessEngine struct{}

func (chessEngine) Initialize() *Board {
	cb := &ChessBoard{MovesUCI: []string{}}
	cb.Grid = gridFrom(nchess.NewGame())
	return &Board{Game: Chess, Chess: cb}
}

// ValidateMove replays the move log and asks the library whether the coordinate
// pair decodes to a legal move for the side on turn. Seat 1 plays white.
func (chessEngine) ValidateMove(b *Board, mv Move, mover int) bool {
	if b == nil || b.Chess == nil {
		return false
	}
	if !inBounds8(mv.From) || !inBounds8(mv.To) {
		return false
	}
	game := replay(b.Chess.MovesUCI)
	if game == nil {
		return false
	}
	if sideFor(game.Position().Turn()) != mover {
		return false
	}
	_, err := decodeUCI(game, uciFor(mv))
	return err == nil
}

func (chessEngine) ApplyMove(b *Board, mv Move, mover int) *Board {
	game := replay(b.Chess.MovesUCI)
	if game == nil {
		return b
	}
	uci, err := decodeUCI(game, uciFor(mv))
	if err != nil {
		return b
	}
	if err := game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
		return b
	}

	next := &ChessBoard{MovesUCI: append(append([]string{}, b.Chess.MovesUCI...), uci)}
	next.Grid = gridFrom(game)
	return &Board{Game: Chess, Chess: next}
}

func (chessEngine) DetectEnd(b *Board) Result {
	if b == nil || b.Chess == nil {
		return Ongoing
	}
	game := replay(b.Chess.MovesUCI)
	if game == nil {
		return Ongoing
	}
	switch game.Outcome() {
	case nchess.WhiteWon:
		return Player1Win
	case nchess.BlackWon:
		return Player2Win
	case nchess.Draw:
		return Draw
	}
	return Ongoing
}

// replay rebuilds the game from the start position; the stored grid is never
// fed back in, so a corrupted grid cannot fabricate legality.
func replay(moves []string) *nchess.Game {
	game := nchess.NewGame()
	for _, mv := range moves {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil
		}
	}
	return game
}

// decodeUCI resolves a coordinate pair against the current position, retrying
// with a queen suffix so pawn pushes to the last rank auto-promote.
func decodeUCI(game *nchess.Game, uci string) (string, error) {
	pos := game.Position()
	notation := nchess.UCINotation{}
	if _, err := notation.Decode(pos, uci); err == nil {
		return uci, nil
	}
	promoted := uci + "q"
	if _, err := notation.Decode(pos, promoted); err == nil {
		return promoted, nil
	}
	return "", fmt.Errorf("illegal move %s", uci)
}

func uciFor(mv Move) string {
	return squareName(mv.From) + squareName(mv.To)
}

// squareName maps grid coordinates to algebraic squares; row 0 is rank 8.
func squareName(c Coord) string {
	return fmt.Sprintf("%c%d", 'a'+c.Col, 8-c.Row)
}

func gridFrom(game *nchess.Game) [8][8]*ChessPiece {
	var grid [8][8]*ChessPiece
	pb := game.Position().Board()
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			sq := nchess.Square((7-row)*8 + col)
			p := pb.Piece(sq)
			if p == nchess.NoPiece {
				continue
			}
			grid[row][col] = &ChessPiece{Player: sideFor(p.Color()), Type: typeName(p.Type())}
		}
	}
	return grid
}

func sideFor(c nchess.Color) int {
	if c == nchess.White {
		return 1
	}
	return 2
}

func typeName(t nchess.PieceType) string {
	switch t {
	case nchess.King:
		return "king"
	case nchess.Queen:
		return "queen"
	case nchess.Rook:
		return "rook"
	case nchess.Bishop:
		return "bishop"
	case nchess.Knight:
		return "knight"
	case nchess.Pawn:
		return "pawn"
	}
	return ""
}
