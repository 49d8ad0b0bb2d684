package cube

import (
	"strings"
)

// State is a full sticker layout. Each face is stored row-major as seen from
// outside the cube; index 4 is the centre.
type State struct {
	faces [6][9]byte
}

type sticker struct {
	face Face
	idx  int
}

// faceTurn maps destination index to source index for a clockwise face turn.
var faceTurn = [9]int{6, 3, 0, 7, 4, 1, 8, 5, 2}

// ring lists, for each face, the four three-sticker strips on the neighbouring
// faces. A clockwise turn moves strip k onto strip k+1 (mod 4), element-wise.
var ring = [6][4][3]sticker{
	U: {
		{{F, 0}, {F, 1}, {F, 2}},
		{{L, 0}, {L, 1}, {L, 2}},
		{{B, 0}, {B, 1}, {B, 2}},
		{{R, 0}, {R, 1}, {R, 2}},
	},
	R: {
		{{F, 2}, {F, 5}, {F, 8}},
		{{U, 2}, {U, 5}, {U, 8}},
		{{B, 6}, {B, 3}, {B, 0}},
		{{D, 2}, {D, 5}, {D, 8}},
	},
	F: {
		{{U, 6}, {U, 7}, {U, 8}},
		{{R, 0}, {R, 3}, {R, 6}},
		{{D, 2}, {D, 1}, {D, 0}},
		{{L, 8}, {L, 5}, {L, 2}},
	},
	D: {
		{{F, 6}, {F, 7}, {F, 8}},
		{{R, 6}, {R, 7}, {R, 8}},
		{{B, 6}, {B, 7}, {B, 8}},
		{{L, 6}, {L, 7}, {L, 8}},
	},
	L: {
		{{U, 0}, {U, 3}, {U, 6}},
		{{F, 0}, {F, 3}, {F, 6}},
		{{D, 0}, {D, 3}, {D, 6}},
		{{B, 8}, {B, 5}, {B, 2}},
	},
	B: {
		{{U, 2}, {U, 1}, {U, 0}},
		{{L, 0}, {L, 3}, {L, 6}},
		{{D, 6}, {D, 7}, {D, 8}},
		{{R, 8}, {R, 5}, {R, 2}},
	},
}

// Solved returns a solved cube.
func Solved() State {
	var s State
	for _, f := range Faces {
		for i := range s.faces[f] {
			s.faces[f][i] = Colors[f]
		}
	}
	return s
}

// Face returns a copy of the stickers of f.
func (s State) Face(f Face) [9]byte { return s.faces[f] }

// Apply returns the state after turning m.
func (s State) Apply(m Move) State {
	for i := 0; i < m.Modifier.quarterTurns(); i++ {
		s = s.turn(m.Face)
	}
	return s
}

func (s State) turn(f Face) State {
	next := s
	for dst, src := range faceTurn {
		next.faces[f][dst] = s.faces[f][src]
	}
	strips := ring[f]
	for k := 0; k < 4; k++ {
		from, to := strips[k], strips[(k+1)%4]
		for j := 0; j < 3; j++ {
			next.faces[to[j].face][to[j].idx] = s.faces[from[j].face][from[j].idx]
		}
	}
	return next
}

// ApplyMoves folds moves left to right starting from s.
func (s State) ApplyMoves(moves []Move) State {
	for _, mv := range moves {
		s = s.Apply(mv)
	}
	return s
}

// IsSolved reports whether every face is a single colour.
func (s State) IsSolved() bool {
	for _, f := range Faces {
		for _, c := range s.faces[f] {
			if c != s.faces[f][4] {
				return false
			}
		}
	}
	return true
}

// Counts returns the number of stickers of each colour.
func (s State) Counts() map[byte]int {
	out := make(map[byte]int, 6)
	for _, f := range Faces {
		for _, c := range s.faces[f] {
			out[c]++
		}
	}
	return out
}

// String renders the state as "U:WWWWWWWWW R:... B:...".
func (s State) String() string {
	var b strings.Builder
	for i, f := range Faces {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(f.String())
		b.WriteByte(':')
		b.Write(s.faces[f][:])
	}
	return b.String()
}

// Map returns the layout keyed by face letter.
func (s State) Map() map[string]string {
	out := make(map[string]string, 6)
	for _, f := range Faces {
		out[f.String()] = string(s.faces[f][:])
	}
	return out
}

// ApplyScramble applies scramble to a solved cube. Tokens that do not parse
// are skipped.
func ApplyScramble(scramble string) State {
	s, _ := ApplyScrambleReport(scramble)
	return s
}

// ApplyScrambleReport is ApplyScramble that also returns the skipped tokens.
func ApplyScrambleReport(scramble string) (State, []string) {
	var (
		moves   []Move
		skipped []string
	)
	for _, tok := range strings.Fields(scramble) {
		mv, ok := ParseMove(tok)
		if !ok {
			skipped = append(skipped, tok)
			continue
		}
		moves = append(moves, mv)
	}
	return Solved().ApplyMoves(moves), skipped
}
