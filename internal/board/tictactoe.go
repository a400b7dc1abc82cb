package board

// TTTBoard is a 3x3 grid of marks; empty cells hold "".
type TTTBoard struct {
	Grid [3][3]string `json:"grid"`
}

const (
	markX = "X"
	markO = "O"
)

// MarkFor maps a seat number to its mark.
func MarkFor(player int) string {
	if player == 1 {
		return markX
	}

	return markO
}

type tttEngine struct{}

func (tttEngine) Initialize() *Board {
	return &Board{Game: TicTacToe, TicTacToe: &TTTBoard{}}
}

// ValidateMove checks only the destination; tic-tac-toe moves have no origin.
func (tttEngine) ValidateMove(b *Board, mv Move, mover int) bool {
	if b == nil || b.TicTacToe == nil {
		return false
	}
	if mv.To.Row < 0 || mv.To.Row > 2 || mv.To.Col < 0 || mv.To.Col > 2 {
		return false
	}
	return b.TicTacToe.Grid[mv.To.Row][mv.To.Col] == ""
}

func (tttEngine) ApplyMove(b *Board, mv Move, mover int) *Board {
	next := &TTTBoard{Grid: b.TicTacToe.Grid}
	next.Grid[mv.To.Row][mv.To.Col] = MarkFor(mover)
	return &Board{Game: TicTacToe, TicTacToe: next}
}

// DetectEnd scans the 3 rows, 3 columns and 2 diagonals; a full board with no
// winning line is a draw.
func (tttEngine) DetectEnd(b *Board) Result {
	if b == nil || b.TicTacToe == nil {
		return Ongoing
	}
	g := b.TicTacToe.Grid

	lines := [8][3]Coord{
		{{0, 0}, {0, 1}, {0, 2}},
		{{1, 0}, {1, 1}, {1, 2}},
		{{2, 0}, {2, 1}, {2, 2}},
		{{0, 0}, {1, 0}, {2, 0}},
		{{0, 1}, {1, 1}, {2, 1}},
		{{0, 2}, {1, 2}, {2, 2}},
		{{0, 0}, {1, 1}, {2, 2}},
		{{0, 2}, {1, 1}, {2, 0}},
	}
	for _, ln := range lines {
		a := g[ln[0].Row][ln[0].Col]
		if a != "" && a == g[ln[1].Row][ln[1].Col] && a == g[ln[2].Row][ln[2].Col] {
			if a == markX {
				return Player1Win
			}
			return Player2Win
		}
	}

	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			if g[row][col] == "" {
				return Ongoing
			}
		}
	}
	return Draw
}
