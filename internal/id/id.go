// Package id issues short, time-sortable object IDs and extracts the
// creation timestamp embedded in them. IDs order lexicographically by
// creation time, which the timeline buckets and the account-age condition
// checks both rely on.
package id

import (
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Epoch offsets the embedded timestamp so IDs stay short for decades.
// Milliseconds since 2000-01-01T00:00:00Z.
const epochMillis = 946684800000

const (
	timeLength  = 8
	noiseLength = 2
)

var errMalformed = errors.New("id: malformed id")

// Generator issues IDs. Safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	counter uint64
}

// NewGenerator seeds a Generator with a random counter so multiple
// processes started in the same millisecond do not collide.
func NewGenerator() *Generator {
	return &Generator{counter: rand.Uint64()}
}

// Gen returns a new ID for the given creation time.
func (g *Generator) Gen(t time.Time) string {
	g.mu.Lock()
	g.counter++
	n := g.counter
	g.mu.Unlock()
	return formatTime(t) + formatNoise(n)
}

// New returns a new ID for the current time.
func (g *Generator) New() string {
	return g.Gen(time.Now())
}

// Timestamp extracts the creation time embedded in an ID.
func Timestamp(id string) (time.Time, error) {
	if len(id) < timeLength {
		return time.Time{}, errMalformed
	}
	ms, err := strconv.ParseInt(id[:timeLength], 36, 64)
	if err != nil {
		return time.Time{}, errMalformed
	}
	return time.UnixMilli(ms + epochMillis), nil
}

func formatTime(t time.Time) string {
	ms := t.UnixMilli() - epochMillis
	if ms < 0 {
		ms = 0
	}
	s := strconv.FormatInt(ms, 36)
	if len(s) < timeLength {
		s = strings.Repeat("0", timeLength-len(s)) + s
	}
	return s
}

func formatNoise(n uint64) string {
	s := strconv.FormatUint(n%(36*36), 36)
	if len(s) < noiseLength {
		s = strings.Repeat("0", noiseLength-len(s)) + s
	}
	return s
}
