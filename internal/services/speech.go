package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// AudioCache is an optional store of previously synthesized audio.
type AudioCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, audio []byte) error
}

type SpeechService struct {
	synth  SpeechSynthesizer
	cache  AudioCache
	logger *zap.Logger
}

// NewSpeechService builds the speech adapter. cache may be nil.
func NewSpeechService(synth SpeechSynthesizer, cache AudioCache, logger *zap.Logger) *SpeechService {
	return &SpeechService{synth: synth, cache: cache, logger: logger}
}

// Speak returns mp3 audio for prompt read aloud by the tutor.
func (s *SpeechService) Speak(ctx context.Context, prompt string) ([]byte, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, &ValidationError{Fields: map[string]string{"prompt": "Prompt is required"}}
	}

	input := GuardSpeech(prompt)
	key := audioKey(input)

	if s.cache != nil {
		audio, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("speech cache read failed", zap.Error(err))
		} else if ok {
			return audio, nil
		}
	}

	audio, err := s.synth.Synthesize(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize speech: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, audio); err != nil {
			s.logger.Warn("speech cache write failed", zap.Error(err))
		}
	}
	return audio, nil
}

func audioKey(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
