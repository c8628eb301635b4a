package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// TextGenerator maps a prompt to generated text.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// SpeechSynthesizer maps text to encoded audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, input string) ([]byte, error)
}

// OraclePolicy bounds calls to a billable external model: each attempt gets
// its own timeout, transient failures are retried up to MaxAttempts in
// total, and at most cap(slots) calls run at once.
type OraclePolicy struct {
	timeout     time.Duration
	maxAttempts int
	slots       chan struct{}
	logger      *zap.Logger
}

func NewOraclePolicy(timeout time.Duration, maxAttempts, concurrent int, logger *zap.Logger) *OraclePolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if concurrent < 1 {
		concurrent = 1
	}

	// Token bucket
	slots := make(chan struct{}, concurrent)
	for i := 0; i < concurrent; i++ {
		slots <- struct{}{}
	}

	return &OraclePolicy{
		timeout:     timeout,
		maxAttempts: maxAttempts,
		slots:       slots,
		logger:      logger,
	}
}

func (p *OraclePolicy) acquire(ctx context.Context) error {
	select {
	case <-p.slots:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *OraclePolicy) release() {
	p.slots <- struct{}{}
}

func callOracle[T any](ctx context.Context, p *OraclePolicy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.acquire(ctx); err != nil {
		return zero, err
	}
	defer p.release()

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		out, err := fn(attemptCtx)
		cancel()
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !retryable(err) || ctx.Err() != nil {
			break
		}
		if attempt < p.maxAttempts {
			p.logger.Warn("oracle call failed, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
	}
	return zero, lastErr
}

func retryable(err error) bool {
	return !errors.Is(err, ErrQuotaExceeded) && !errors.Is(err, context.Canceled)
}

type guardedGenerator struct {
	next   TextGenerator
	policy *OraclePolicy
}

// GuardTextGenerator wraps next with the policy.
func GuardTextGenerator(next TextGenerator, policy *OraclePolicy) TextGenerator {
	return &guardedGenerator{next: next, policy: policy}
}

func (g *guardedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return callOracle(ctx, g.policy, "generate", func(ctx context.Context) (string, error) {
		return g.next.Generate(ctx, prompt)
	})
}

type guardedSynthesizer struct {
	next   SpeechSynthesizer
	policy *OraclePolicy
}

// GuardSpeechSynthesizer wraps next with the policy.
func GuardSpeechSynthesizer(next SpeechSynthesizer, policy *OraclePolicy) SpeechSynthesizer {
	return &guardedSynthesizer{next: next, policy: policy}
}

func (g *guardedSynthesizer) Synthesize(ctx context.Context, input string) ([]byte, error) {
	return callOracle(ctx, g.policy, "synthesize", func(ctx context.Context) ([]byte, error) {
		return g.next.Synthesize(ctx, input)
	})
}
