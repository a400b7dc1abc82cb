package board

import "testing"

func TestChessInitialLayout(t *testing.T) {
	eng, _ := EngineFor(Chess)
	b := eng.Initialize()

	backRank := []string{"rook", "knight", "bishop", "queen", "king", "bishop", "knight", "rook"}
	for col := 0; col < 8; col++ {
		if p := b.Chess.Grid[0][col]; p == nil || p.Player != 2 || p.Type != backRank[col] {
			t.Fatalf("row 0 col %d: want side-2 %s, got %+v", col, backRank[col], p)
		}
		if p := b.Chess.Grid[7][col]; p == nil || p.Player != 1 || p.Type != backRank[col] {
			t.Fatalf("row 7 col %d: want side-1 %s, got %+v", col, backRank[col], p)
		}
		if p := b.Chess.Grid[1][col]; p == nil || p.Player != 2 || p.Type != "pawn" {
			t.Fatalf("row 1 col %d: want side-2 pawn, got %+v", col, p)
		}
		if p := b.Chess.Grid[6][col]; p == nil || p.Player != 1 || p.Type != "pawn" {
			t.Fatalf("row 6 col %d: want side-1 pawn, got %+v", col, p)
		}
	}
	for row := 2; row < 6; row++ {
		for col := 0; col < 8; col++ {
			if b.Chess.Grid[row][col] != nil {
				t.Fatalf("row %d col %d should be empty", row, col)
			}
		}
	}
}

func TestChessMoveLegality(t *testing.T) {
	eng, _ := EngineFor(Chess)
	b := eng.Initialize()

	e2e4 := Move{From: Coord{6, 4}, To: Coord{4, 4}}
	if !eng.ValidateMove(b, e2e4, 1) {
		t.Fatalf("e2e4 should be legal for seat 1")
	}
	if eng.ValidateMove(b, e2e4, 2) {
		t.Fatalf("seat 2 moving on white's turn should be rejected")
	}
	// Knight jumping like a rook.
	if eng.ValidateMove(b, Move{From: Coord{7, 1}, To: Coord{5, 1}}, 1) {
		t.Fatalf("illegal knight move accepted")
	}

	b = eng.ApplyMove(b, e2e4, 1)
	if len(b.Chess.MovesUCI) != 1 || b.Chess.MovesUCI[0] != "e2e4" {
		t.Fatalf("move log: %v", b.Chess.MovesUCI)
	}
	if b.Chess.Grid[6][4] != nil || b.Chess.Grid[4][4] == nil {
		t.Fatalf("grid not updated after e2e4")
	}
	if eng.DetectEnd(b) != Ongoing {
		t.Fatalf("game should be ongoing after one move")
	}
}

func TestChessFoolsMate(t *testing.T) {
	eng, _ := EngineFor(Chess)
	b := eng.Initialize()

	seq := []struct {
		mv    Move
		mover int
	}{
		{Move{From: Coord{6, 5}, To: Coord{5, 5}}, 1}, // f3
		{Move{From: Coord{1, 4}, To: Coord{3, 4}}, 2}, // e5
		{Move{From: Coord{6, 6}, To: Coord{4, 6}}, 1}, // g4
		{Move{From: Coord{0, 3}, To: Coord{4, 7}}, 2}, // Qh4#
	}
	for i, s := range seq {
		if !eng.ValidateMove(b, s.mv, s.mover) {
			t.Fatalf("move %d rejected", i)
		}
		b = eng.ApplyMove(b, s.mv, s.mover)
	}
	if got := eng.DetectEnd(b); got != Player2Win {
		t.Fatalf("fool's mate: got %s want %s", got, Player2Win)
	}
}
