package mediaworker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/flaviokalleu/whaticket/domains/sendmedia"
	"github.com/flaviokalleu/whaticket/infrastructure/mediacache"
	"github.com/flaviokalleu/whaticket/pkg/contenthash"
	pkgError "github.com/flaviokalleu/whaticket/pkg/error"
	"github.com/flaviokalleu/whaticket/pkg/ffmpeg"
	"github.com/flaviokalleu/whaticket/pkg/telemetry"
	"github.com/flaviokalleu/whaticket/pkg/utils"
	"github.com/sirupsen/logrus"
)

const (
	audioMaxRetries = 3
	// El encoder externo tiene su propio límite interno de 30s; este es el
	// cinturón de seguridad contra cuelgues del proceso.
	audioAttemptTimeout = 35 * time.Second
	audioBackoffUnit    = time.Second
)

// AudioPool transcodifica audio vía el encoder externo, con reintentos
// acotados y backoff lineal. El techo de concurrencia combina CPUs y
// memoria; la cola desempata por prioridad, tamaño y FIFO.
type AudioPool struct {
	queue    *slotQueue
	cache    *mediacache.Store
	recorder *telemetry.Recorder
	encoder  ffmpeg.Runner

	attemptTimeout time.Duration
	backoffUnit    time.Duration

	totalProcessed int64
	totalErrors    int64
	totalTimeouts  int64
}

func NewAudioPool(cache *mediacache.Store, recorder *telemetry.Recorder, encoder ffmpeg.Runner, workers int) *AudioPool {
	if workers <= 0 {
		workers = audioPoolWorkers()
	}
	logrus.Infof("[AUDIO_POOL] Started with %d max concurrent transcodes", workers)
	return &AudioPool{
		queue:          newSlotQueue(workers, betterByPrioritySizeFIFO),
		cache:          cache,
		recorder:       recorder,
		encoder:        encoder,
		attemptTimeout: audioAttemptTimeout,
		backoffUnit:    audioBackoffUnit,
	}
}

// ProcessAudio normaliza inputPath hacia outputPath. El cache es por
// contenido pero el caller necesita un destino concreto, así que en hit se
// copia el archivo cacheado a outputPath.
func (p *AudioPool) ProcessAudio(ctx context.Context, inputPath, outputPath string, priority int) (string, error) {
	var inputSize int64
	if info, err := os.Stat(inputPath); err == nil {
		inputSize = info.Size()
	}

	identity := contenthash.ComputeIdentity(inputPath, "", false)
	if cached, ok := p.cache.Lookup(identity); ok {
		if err := utils.CopyFile(cached, outputPath); err == nil {
			return outputPath, nil
		}
		logrus.Warnf("[AUDIO_POOL] Failed to copy cached audio, reprocessing: %s", cached)
	}

	if err := p.queue.acquire(ctx, priority, inputSize); err != nil {
		return "", err
	}
	defer p.queue.release()

	start := time.Now()
	err := p.transcodeWithRetry(ctx, inputPath, outputPath)
	// El costo se mide con el tamaño del input original
	p.record(inputSize, time.Since(start), err == nil)
	if err != nil {
		return "", err
	}

	if _, err := p.cache.Insert(identity, outputPath, sendmedia.MediaTypeAudio, filepath.Base(outputPath)); err != nil {
		logrus.Warnf("[AUDIO_POOL] Failed to cache transcoded audio: %v", err)
	}
	return outputPath, nil
}

// transcodeWithRetry: hasta 1+3 intentos con backoff lineal 1s, 2s, 3s.
func (p *AudioPool) transcodeWithRetry(ctx context.Context, inputPath, outputPath string) error {
	var lastErr error

	for attempt := 0; attempt <= audioMaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
		err := p.encoder.Normalize(attemptCtx, inputPath, outputPath)
		timedOut := attemptCtx.Err() == context.DeadlineExceeded
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err
		if timedOut {
			atomic.AddInt64(&p.totalTimeouts, 1)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt < audioMaxRetries {
			backoff := time.Duration(attempt+1) * p.backoffUnit
			logrus.Warnf("[AUDIO_POOL] Transcode attempt %d failed for %s, retrying in %s: %v",
				attempt+1, inputPath, backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return pkgError.ProcessError(fmt.Sprintf("audio transcode failed after %d attempts: %v",
		audioMaxRetries+1, lastErr))
}

func (p *AudioPool) record(size int64, elapsed time.Duration, success bool) {
	atomic.AddInt64(&p.totalProcessed, 1)
	if !success {
		atomic.AddInt64(&p.totalErrors, 1)
	}
	if p.recorder != nil {
		p.recorder.RecordProcessing(string(sendmedia.MediaTypeAudio), size, elapsed, success)
	}
}

func (p *AudioPool) GetStats() PoolStats {
	active, queued, max := p.queue.stats()
	return PoolStats{
		MaxConcurrency: max,
		Active:         active,
		QueueDepth:     queued,
		TotalProcessed: atomic.LoadInt64(&p.totalProcessed),
		TotalErrors:    atomic.LoadInt64(&p.totalErrors),
		TotalTimeouts:  atomic.LoadInt64(&p.totalTimeouts),
	}
}
