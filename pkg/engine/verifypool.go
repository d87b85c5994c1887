package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/rawblock/diceconsensus/pkg/crypto"
)

// verifyPool bounds how many Ed25519 verifications run concurrently, so a
// burst of inbound messages cannot starve the CPU a game's single-threaded
// round loop needs to apply accepted state changes (spec section 5:
// "signature verification is offloaded to a worker pool, never performed on
// the round's own goroutine").
type verifyPool struct {
	sem *semaphore.Weighted
}

// defaultVerifyConcurrency bounds the pool when newVerifyPool is given a
// non-positive concurrency. Engine.New always uses this value; it is not
// configurable from outside the package.
const defaultVerifyConcurrency = 32

func newVerifyPool(concurrency int64) *verifyPool {
	if concurrency <= 0 {
		concurrency = defaultVerifyConcurrency
	}
	return &verifyPool{sem: semaphore.NewWeighted(concurrency)}
}

// verify checks sig against message under pub, acquiring a pool slot first.
// It returns an error only if ctx is cancelled while waiting for a slot; a
// failed cryptographic check is reported as (false, nil), never an error.
func (p *verifyPool) verify(ctx context.Context, pub crypto.PublicKey, message []byte, sig crypto.Signature) (bool, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("engine: verify pool: %w", err)
	}
	defer p.sem.Release(1)
	return crypto.Verify(pub, message, sig), nil
}
