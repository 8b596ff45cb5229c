package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"FACE_MATCH_THRESHOLD", "EMBEDDING_DIM", "SWEEP_INTERVAL", "FACE_SKIP"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, 0.60, cfg.MatchThreshold)
	assert.Equal(t, 512, cfg.EmbeddingDim)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.False(t, cfg.FaceSkip)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FACE_MATCH_THRESHOLD", "0.75")
	t.Setenv("EMBEDDING_DIM", "128")
	t.Setenv("SWEEP_INTERVAL", "1m")
	t.Setenv("FACE_SKIP", "true")

	cfg := Load()
	assert.Equal(t, 0.75, cfg.MatchThreshold)
	assert.Equal(t, 128, cfg.EmbeddingDim)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.True(t, cfg.FaceSkip)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("FACE_MATCH_THRESHOLD", "not a number")
	t.Setenv("EMBEDDING_DIM", "many")
	t.Setenv("SWEEP_INTERVAL", "soonish")

	cfg := Load()
	assert.Equal(t, 0.60, cfg.MatchThreshold)
	assert.Equal(t, 512, cfg.EmbeddingDim)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
}
