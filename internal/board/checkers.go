package board

// CheckersPiece occupies a dark square. King promotion is not modeled; the
// flag is carried so stored boards stay forward compatible.
type CheckersPiece struct {
	Player int  `json:"player"`
	King   bool `json:"king"`
}

// CheckersBoard is an 8x8 grid; nil cells are empty.
type CheckersBoard struct {
	Grid [8][8]*CheckersPiece `json:"grid"`
}

type checkersEngine struct{}

// Initialize places side 2 on dark squares of rows 0-2 and side 1 on rows 5-7.
func (checkersEngine) Initialize() *Board {
	cb := &CheckersBoard{}
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			if (row+col)%2 == 0 {
				continue
			}
			switch {
			case row < 3:
				cb.Grid[row][col] = &CheckersPiece{Player: 2}
			case row > 4:
				cb.Grid[row][col] = &CheckersPiece{Player: 1}
			}
		}
	}
	return &Board{Game: Checkers, Checkers: cb}
}

// ValidateMove accepts diagonal single steps in the mover's forward direction
// (any direction for kings) and two-step jumps over an opposing piece. Side 1
// advances toward row 0, side 2 toward row 7.
func (checkersEngine) ValidateMove(b *Board, mv Move, mover int) bool {
	if b == nil || b.Checkers == nil {
		return false
	}
	if !inBounds8(mv.From) || !inBounds8(mv.To) {
		return false
	}
	piece := b.Checkers.Grid[mv.From.Row][mv.From.Col]
	if piece == nil || piece.Player != mover {
		return false
	}
	if b.Checkers.Grid[mv.To.Row][mv.To.Col] != nil {
		return false
	}

	rowDiff := mv.To.Row - mv.From.Row
	colDiff := abs(mv.To.Col - mv.From.Col)
	if abs(rowDiff) != colDiff {
		return false
	}
	if !piece.King {
		if (mover == 1 && rowDiff >= 0) || (mover == 2 && rowDiff <= 0) {
			return false
		}
	}

	switch abs(rowDiff) {
	case 1:
		return true
	case 2:
		jumped := b.Checkers.Grid[mv.From.Row+rowDiff/2][mv.From.Col+(mv.To.Col-mv.From.Col)/2]
		return jumped != nil && jumped.Player != mover
	}
	return false
}

func (checkersEngine) ApplyMove(b *Board, mv Move, mover int) *Board {
	next := &CheckersBoard{Grid: b.Checkers.Grid}
	piece := *next.Grid[mv.From.Row][mv.From.Col]
	next.Grid[mv.From.Row][mv.From.Col] = nil
	next.Grid[mv.To.Row][mv.To.Col] = &piece

	if abs(mv.To.Row-mv.From.Row) == 2 {
		next.Grid[mv.From.Row+(mv.To.Row-mv.From.Row)/2][mv.From.Col+(mv.To.Col-mv.From.Col)/2] = nil
	}
	return &Board{Game: Checkers, Checkers: next}
}

// DetectEnd declares a winner once the opposing side has no pieces left.
func (checkersEngine) DetectEnd(b *Board) Result {
	if b == nil || b.Checkers == nil {
		return Ongoing
	}
	var count1, count2 int
	for row := 0; row < 8; row++ {
		for col := 0; col < 8; col++ {
			if p := b.Checkers.Grid[row][col]; p != nil {
				if p.Player == 1 {
					count1++
				} else {
					count2++
				}
			}
		}
	}
	switch {
	case count1 == 0:
		return Player2Win
	case count2 == 0:
		return Player1Win
	}
	return Ongoing
}

func inBounds8(c Coord) bool {
	return c.Row >= 0 && c.Row < 8 && c.Col >= 0 && c.Col < 8
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
