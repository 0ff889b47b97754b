// Package quarto implements the Quarto rules: the 16-piece set, the 4x4
// board, win detection, and the select/place turn state machine. Everything
// here is pure; transitions return a new state and never mutate their input.
package quarto

// Piece attribute values. Each piece has one value per attribute.
type (
	Color  string
	Height string
	Shape  string
	Top    string
)

const (
	Light Color = "light"
	Dark  Color = "dark"

	Tall  Height = "tall"
	Short Height = "short"

	Square Shape = "square"
	Round  Shape = "round"

	Hollow Top = "hollow"
	Solid  Top = "solid"
)

// Attributes is the four-way classification of a piece. A line of four
// placed pieces wins when they agree on at least one attribute.
type Attributes struct {
	Color  Color  `json:"color"`
	Height Height `json:"height"`
	Shape  Shape  `json:"shape"`
	Top    Top    `json:"top"`
}

// Piece is one of the 16 game tokens. ID is stable for the whole game and
// is what equality and removal key on.
type Piece struct {
	ID         int        `json:"id"`
	Attributes Attributes `json:"attributes"`
}

// Board is the 4x4 grid. nil means the cell is empty.
type Board [4][4]*Piece

// Phase says which action the current player must perform next.
type Phase string

const (
	PhaseSelect Phase = "selectPiece"
	PhasePlace  Phase = "placePiece"
)

// GameState is a complete snapshot of a game between two turns. Winner is
// nil while the game is ongoing, 0 for a draw, 1 or 2 for the winning
// player.
type GameState struct {
	Board           Board   `json:"board"`
	AvailablePieces []Piece `json:"availablePieces"`
	SelectedPiece   *Piece  `json:"selectedPiece"`
	CurrentPlayer   int     `json:"currentPlayer"`
	Winner          *int    `json:"winner"`
	GamePhase       Phase   `json:"gamePhase"`
}

// AllPieces returns the full piece set, IDs 0-15, ordered by
// color x height x shape x top.
func AllPieces() []Piece {
	pieces := make([]Piece, 0, 16)
	id := 0
	for _, c := range []Color{Light, Dark} {
		for _, h := range []Height{Tall, Short} {
			for _, s := range []Shape{Square, Round} {
				for _, t := range []Top{Hollow, Solid} {
					pieces = append(pieces, Piece{
						ID:         id,
						Attributes: Attributes{Color: c, Height: h, Shape: s, Top: t},
					})
					id++
				}
			}
		}
	}
	return pieces
}

// NewGameState returns the starting position: empty board, all pieces
// available, player 1 to select.
func NewGameState() GameState {
	return GameState{
		AvailablePieces: AllPieces(),
		CurrentPlayer:   1,
		GamePhase:       PhaseSelect,
	}
}

// SelectPiece hands a piece to the opponent for placement. The selecting
// player flips CurrentPlayer; the piece stays in AvailablePieces until it is
// actually placed. Returns the input state and false when the move is
// illegal.
func SelectPiece(s GameState, pieceID int) (GameState, bool) {
	if s.GamePhase != PhaseSelect || s.Winner != nil {
		return s, false
	}
	var selected *Piece
	for i := range s.AvailablePieces {
		if s.AvailablePieces[i].ID == pieceID {
			p := s.AvailablePieces[i]
			selected = &p
			break
		}
	}
	if selected == nil {
		return s, false
	}

	next := s
	next.SelectedPiece = selected
	next.CurrentPlayer = otherPlayer(s.CurrentPlayer)
	next.GamePhase = PhasePlace
	return next, true
}

// PlacePiece puts the selected piece on the board. A win freezes
// CurrentPlayer and GamePhase, crediting the player who placed; exhausting
// the piece set without a win is a draw (Winner 0). Returns the input state
// and false when the move is illegal.
func PlacePiece(s GameState, row, col int) (GameState, bool) {
	if s.GamePhase != PhasePlace || s.SelectedPiece == nil || s.Winner != nil {
		return s, false
	}
	if row < 0 || row > 3 || col < 0 || col > 3 {
		return s, false
	}
	if s.Board[row][col] != nil {
		return s, false
	}

	placed := *s.SelectedPiece
	next := s
	next.Board[row][col] = &placed
	next.SelectedPiece = nil

	remaining := make([]Piece, 0, len(s.AvailablePieces))
	for _, p := range s.AvailablePieces {
		if p.ID != placed.ID {
			remaining = append(remaining, p)
		}
	}
	next.AvailablePieces = remaining

	if CheckWinner(next.Board) {
		winner := s.CurrentPlayer
		next.Winner = &winner
		return next, true
	}
	if len(remaining) == 0 {
		draw := 0
		next.Winner = &draw
		return next, true
	}
	next.GamePhase = PhaseSelect
	return next, true
}

// winLines enumerates the 10 lines as (row, col) cells: 4 rows, 4 columns,
// 2 diagonals.
var winLines = [10][4][2]int{
	{{0, 0}, {0, 1}, {0, 2}, {0, 3}},
	{{1, 0}, {1, 1}, {1, 2}, {1, 3}},
	{{2, 0}, {2, 1}, {2, 2}, {2, 3}},
	{{3, 0}, {3, 1}, {3, 2}, {3, 3}},
	{{0, 0}, {1, 0}, {2, 0}, {3, 0}},
	{{0, 1}, {1, 1}, {2, 1}, {3, 1}},
	{{0, 2}, {1, 2}, {2, 2}, {3, 2}},
	{{0, 3}, {1, 3}, {2, 3}, {3, 3}},
	{{0, 0}, {1, 1}, {2, 2}, {3, 3}},
	{{0, 3}, {1, 2}, {2, 1}, {3, 0}},
}

// CheckWinner reports whether any full line of four pieces shares at least
// one attribute value.
func CheckWinner(b Board) bool {
	won := false
	for _, line := range winLines {
		var cells [4]*Piece
		for i, rc := range line {
			cells[i] = b[rc[0]][rc[1]]
		}
		if sharesAttribute(cells) {
			won = true
		}
	}
	return won
}

func sharesAttribute(cells [4]*Piece) bool {
	for _, p := range cells {
		if p == nil {
			return false
		}
	}
	first := cells[0].Attributes
	sameColor, sameHeight, sameShape, sameTop := true, true, true, true
	for _, p := range cells[1:] {
		a := p.Attributes
		sameColor = sameColor && a.Color == first.Color
		sameHeight = sameHeight && a.Height == first.Height
		sameShape = sameShape && a.Shape == first.Shape
		sameTop = sameTop && a.Top == first.Top
	}
	return sameColor || sameHeight || sameShape || sameTop
}

func otherPlayer(p int) int {
	if p == 1 {
		return 2
	}
	return 1
}
