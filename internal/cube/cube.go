package cube

import (
	"fmt"
	"strings"
)

// Face identifies one side of the cube.
type Face int

const (
	U Face = iota
	R
	F
	D
	L
	B
)

const faceLetters = "URFDLB"

// Faces lists every face in storage order.
var Faces = [6]Face{U, R, F, D, L, B}

func (f Face) String() string {
	if f < U || f > B {
		return "?"
	}
	return string(faceLetters[f])
}

// Axis groups opposite faces: U/D, R/L, F/B.
func (f Face) Axis() int { return int(f) % 3 }

// Colors holds the solved colour of each face, indexed by Face.
var Colors = [6]byte{'W', 'R', 'G', 'Y', 'O', 'B'}

// Modifier is the turn amount applied to a face.
type Modifier int

const (
	Clockwise Modifier = iota
	Prime
	Double
)

func (m Modifier) suffix() string {
	switch m {
	case Prime:
		return "'"
	case Double:
		return "2"
	default:
		return ""
	}
}

// quarterTurns is the number of clockwise quarter turns the modifier stands for.
func (m Modifier) quarterTurns() int {
	switch m {
	case Prime:
		return 3
	case Double:
		return 2
	default:
		return 1
	}
}

// Move is a single face turn.
type Move struct {
	Face     Face
	Modifier Modifier
}

func (m Move) String() string { return m.Face.String() + m.Modifier.suffix() }

// Inverse returns the move that undoes m.
func (m Move) Inverse() Move {
	switch m.Modifier {
	case Clockwise:
		return Move{Face: m.Face, Modifier: Prime}
	case Prime:
		return Move{Face: m.Face, Modifier: Clockwise}
	default:
		return m
	}
}

// TokenError reports a scramble token that is not of the form [URFDLB](2|')?.
type TokenError struct {
	Index int
	Token string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("invalid scramble token %q at position %d", e.Token, e.Index)
}

// ParseMove parses a single token such as "R", "U'" or "F2".
func ParseMove(tok string) (Move, bool) {
	if len(tok) < 1 || len(tok) > 2 {
		return Move{}, false
	}
	idx := strings.IndexByte(faceLetters, tok[0])
	if idx < 0 {
		return Move{}, false
	}
	mv := Move{Face: Face(idx), Modifier: Clockwise}
	if len(tok) == 2 {
		switch tok[1] {
		case '\'':
			mv.Modifier = Prime
		case '2':
			mv.Modifier = Double
		default:
			return Move{}, false
		}
	}
	return mv, true
}

// ParseScramble strictly parses a whitespace separated scramble.
// The first malformed token is reported as a *TokenError.
func ParseScramble(scramble string) ([]Move, error) {
	fields := strings.Fields(scramble)
	moves := make([]Move, 0, len(fields))
	for i, tok := range fields {
		mv, ok := ParseMove(tok)
		if !ok {
			return nil, &TokenError{Index: i, Token: tok}
		}
		moves = append(moves, mv)
	}
	return moves, nil
}

// FormatScramble joins moves with single spaces.
func FormatScramble(moves []Move) string {
	parts := make([]string, len(moves))
	for i, mv := range moves {
		parts[i] = mv.String()
	}
	return strings.Join(parts, " ")
}

// InvertScramble returns the scramble that undoes the given one.
// Malformed tokens are dropped.
func InvertScramble(scramble string) string {
	fields := strings.Fields(scramble)
	out := make([]Move, 0, len(fields))
	for i := len(fields) - 1; i >= 0; i-- {
		if mv, ok := ParseMove(fields[i]); ok {
			out = append(out, mv.Inverse())
		}
	}
	return FormatScramble(out)
}
