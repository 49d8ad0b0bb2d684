package cube

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultScrambleLength is used when Generate is called with length <= 0.
	DefaultScrambleLength = 12
	axisRetries           = 10
)

// Generator produces random scrambles. Safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGenerator returns a generator seeded from crypto/rand.
func NewGenerator() *Generator {
	return NewGeneratorFrom(rand.NewPCG(seed(), seed()))
}

// NewGeneratorFrom uses src as its randomness; tests pass a fixed PCG.
func NewGeneratorFrom(src rand.Source) *Generator {
	return &Generator{rnd: rand.New(src)}
}

func seed() uint64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// Generate returns length moves joined by single spaces. Consecutive moves
// never share a face and, when ten redraws allow it, never share an axis.
func (g *Generator) Generate(length int) string {
	if length <= 0 {
		length = DefaultScrambleLength
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	parts := make([]string, 0, length)
	prev := Face(-1)
	for len(parts) < length {
		f := g.nextFace(prev)
		mv := Move{Face: f, Modifier: Modifier(g.rnd.IntN(3))}
		parts = append(parts, mv.String())
		prev = f
	}
	return strings.Join(parts, " ")
}

func (g *Generator) nextFace(prev Face) Face {
	if prev < 0 {
		return Face(g.rnd.IntN(6))
	}
	var f Face
	for tries := 0; ; {
		f = Face(g.rnd.IntN(6))
		if f == prev {
			continue
		}
		if f.Axis() == prev.Axis() && tries < axisRetries {
			tries++
			continue
		}
		return f
	}
}
