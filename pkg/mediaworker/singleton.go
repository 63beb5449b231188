package mediaworker

import (
	"sync"

	"github.com/flaviokalleu/whaticket/config"
	"github.com/flaviokalleu/whaticket/infrastructure/mediacache"
	"github.com/flaviokalleu/whaticket/pkg/ffmpeg"
	"github.com/flaviokalleu/whaticket/pkg/telemetry"
)

var (
	globalMediaPool *MediaPool
	globalAudioPool *AudioPool
	globalOnce      sync.Once
)

// InitGlobalPools wires the process-wide pools. Called once from the
// composition root; tests construct their own instances instead.
func InitGlobalPools(cache *mediacache.Store, recorder *telemetry.Recorder, encoder ffmpeg.Runner) (*MediaPool, *AudioPool) {
	globalOnce.Do(func() {
		mediaWorkers := 0
		audioWorkers := 0
		if config.Global != nil {
			mediaWorkers = config.Global.WorkerPool.MediaWorkers
			audioWorkers = config.Global.WorkerPool.AudioWorkers
		}
		globalMediaPool = NewMediaPool(cache, recorder, mediaWorkers)
		globalAudioPool = NewAudioPool(cache, recorder, encoder, audioWorkers)
	})
	return globalMediaPool, globalAudioPool
}

// GetGlobalStats returns stats from both pools for monitoring.
func GetGlobalStats() map[string]PoolStats {
	stats := make(map[string]PoolStats, 2)
	if globalMediaPool != nil {
		stats["media"] = globalMediaPool.GetStats()
	}
	if globalAudioPool != nil {
		stats["audio"] = globalAudioPool.GetStats()
	}
	return stats
}
