// Package qrid produces the externally visible product identifiers embedded
// in verification URLs. Codes are drawn at random from a fixed CS-###### space
// and checked against a uniqueness oracle before being handed out.
package qrid

import (
	"context"
	"errors"
	"fmt"
	mathrand "math/rand"
	"regexp"
	"sync"
	"time"

	"certiscan.io/internal/obs"
)

const (
	// Prefix is the fixed code prefix; the remainder is six decimal digits.
	Prefix = "CS-"

	// DefaultMaxAttempts bounds the retry loop. The space holds 900,000 codes;
	// exhausting the bound indicates a broken oracle or a namespace nearing
	// capacity, both of which need an operator rather than more retries.
	DefaultMaxAttempts = 100

	// SyncBatchLimit caps codes minted in a single blocking request.
	SyncBatchLimit = 100

	// AdmissionBatchLimit caps items accepted into an asynchronous batch.
	AdmissionBatchLimit = 1000

	drawMin = 100000
	drawMax = 999999
)

var pattern = regexp.MustCompile(`^CS-\d{6}$`)

// ErrExhausted means the generator gave up after its attempt bound.
var ErrExhausted = errors.New("qrid: identifier space exhausted")

// IsValidFormat reports whether code matches CS- followed by exactly six digits.
func IsValidFormat(code string) bool {
	return pattern.MatchString(code)
}

// Oracle answers whether a candidate code has ever been issued, including for
// archived products. Codes are never reused.
type Oracle interface {
	Exists(ctx context.Context, code string) (bool, error)
}

// Generator mints unused codes via bounded retry against the oracle. The
// oracle pre-check is an optimization only: the owning insert must run under a
// unique constraint and callers retry the full cycle on conflict.
type Generator struct {
	oracle      Oracle
	maxAttempts int

	drawMu sync.Mutex
	rnd    *mathrand.Rand
}

// Option configures a Generator.
type Option func(*Generator)

// WithMaxAttempts overrides the retry bound.
func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithSeed makes draws deterministic. Only intended for test use.
func WithSeed(seed int64) Option {
	return func(g *Generator) {
		g.rnd = mathrand.New(mathrand.NewSource(seed))
	}
}

// NewGenerator constructs a Generator backed by the given oracle.
func NewGenerator(oracle Oracle, opts ...Option) (*Generator, error) {
	if oracle == nil {
		return nil, errors.New("qrid: oracle is required")
	}
	g := &Generator{
		oracle:      oracle,
		maxAttempts: DefaultMaxAttempts,
		rnd:         mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate returns a code the oracle has not seen. The returned code is only
// reserved once the caller persists it under the unique constraint.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	return g.generate(ctx, nil)
}

// GenerateBatch mints n codes sequentially, each draw independent. Codes
// already drawn within the same batch count as taken even before they are
// persisted.
func (g *Generator) GenerateBatch(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("qrid: batch size must be positive, got %d", n)
	}
	if n > AdmissionBatchLimit {
		return nil, fmt.Errorf("qrid: batch size %d exceeds limit %d", n, AdmissionBatchLimit)
	}
	seen := make(map[string]struct{}, n)
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		code, err := g.generate(ctx, seen)
		if err != nil {
			return nil, err
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out, nil
}

func (g *Generator) generate(ctx context.Context, local map[string]struct{}) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		candidate := g.draw()
		if _, dup := local[candidate]; dup {
			obs.QRAttempt(true)
			continue
		}
		taken, err := g.oracle.Exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("qrid: oracle lookup: %w", err)
		}
		obs.QRAttempt(taken)
		if !taken {
			return candidate, nil
		}
	}
	return "", ErrExhausted
}

func (g *Generator) draw() string {
	g.drawMu.Lock()
	n := drawMin + g.rnd.Intn(drawMax-drawMin+1)
	g.drawMu.Unlock()
	return fmt.Sprintf("%s%06d", Prefix, n)
}
