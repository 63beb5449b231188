package mediaworker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test 1: los pools globales se inicializan una sola vez y exponen stats
// de ambos pools para el monitoreo
func TestGlobalPools_InitAndStats(t *testing.T) {
	cache, rec := newTestCache(t)
	enc := &fakeEncoder{}

	media, audio := InitGlobalPools(cache, rec, enc)
	require.NotNil(t, media)
	require.NotNil(t, audio)

	// Una segunda llamada devuelve las mismas instancias
	media2, audio2 := InitGlobalPools(cache, rec, enc)
	assert.Same(t, media, media2)
	assert.Same(t, audio, audio2)

	stats := GetGlobalStats()
	require.Contains(t, stats, "media")
	require.Contains(t, stats, "audio")
	assert.Greater(t, stats["media"].MaxConcurrency, 0)
	assert.Greater(t, stats["audio"].MaxConcurrency, 0)
}
