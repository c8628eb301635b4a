package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type scriptedGenerator struct {
	mu    sync.Mutex
	calls int
	errs  []error
	reply string
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	i := g.calls
	g.calls++
	g.mu.Unlock()

	if i < len(g.errs) && g.errs[i] != nil {
		return "", g.errs[i]
	}
	return g.reply, nil
}

func TestOraclePolicy_RetriesTransientFailureOnce(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{errors.New("connection reset")}, reply: "Guten Morgen"}
	guarded := GuardTextGenerator(gen, NewOraclePolicy(time.Second, 2, 1, zap.NewNop()))

	got, err := guarded.Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Guten Morgen" {
		t.Fatalf("expected reply from second attempt, got %q", got)
	}
	if gen.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", gen.calls)
	}
}

func TestOraclePolicy_GivesUpAfterMaxAttempts(t *testing.T) {
	boom := errors.New("503 unavailable")
	gen := &scriptedGenerator{errs: []error{boom, boom, boom}}
	guarded := GuardTextGenerator(gen, NewOraclePolicy(time.Second, 2, 1, zap.NewNop()))

	_, err := guarded.Generate(context.Background(), "hi")
	if !errors.Is(err, boom) {
		t.Fatalf("expected last error, got %v", err)
	}
	if gen.calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", gen.calls)
	}
}

func TestOraclePolicy_QuotaIsNotRetried(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{fmt.Errorf("%w: billing", ErrQuotaExceeded)}}
	guarded := GuardTextGenerator(gen, NewOraclePolicy(time.Second, 3, 1, zap.NewNop()))

	_, err := guarded.Generate(context.Background(), "hi")
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if gen.calls != 1 {
		t.Fatalf("quota errors must not be retried, got %d attempts", gen.calls)
	}
}

type blockingSynth struct {
	calls atomic.Int32
}

func (s *blockingSynth) Synthesize(ctx context.Context, input string) ([]byte, error) {
	s.calls.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestOraclePolicy_TimesOutEachAttempt(t *testing.T) {
	synth := &blockingSynth{}
	guarded := GuardSpeechSynthesizer(synth, NewOraclePolicy(20*time.Millisecond, 2, 1, zap.NewNop()))

	start := time.Now()
	_, err := guarded.Synthesize(context.Background(), "hallo")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if synth.calls.Load() != 2 {
		t.Fatalf("expected a timed out attempt to be retried once, got %d calls", synth.calls.Load())
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("hung call was not bounded: took %v", elapsed)
	}
}

func TestOraclePolicy_CanceledCallerStopsRetrying(t *testing.T) {
	synth := &blockingSynth{}
	guarded := GuardSpeechSynthesizer(synth, NewOraclePolicy(time.Minute, 2, 1, zap.NewNop()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := guarded.Synthesize(ctx, "hallo")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if synth.calls.Load() != 1 {
		t.Fatalf("expected no retry after cancel, got %d calls", synth.calls.Load())
	}
}

type gatedGenerator struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	release  chan struct{}
}

func (g *gatedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	<-g.release
	return "ok", nil
}

func TestOraclePolicy_BoundsConcurrency(t *testing.T) {
	gen := &gatedGenerator{release: make(chan struct{})}
	guarded := GuardTextGenerator(gen, NewOraclePolicy(time.Second, 1, 2, zap.NewNop()))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			guarded.Generate(context.Background(), "hi")
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(gen.release)
	wg.Wait()

	if peak := gen.peak.Load(); peak > 2 {
		t.Fatalf("expected at most 2 concurrent calls, saw %d", peak)
	}
}
