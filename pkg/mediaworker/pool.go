package mediaworker

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/flaviokalleu/whaticket/domains/sendmedia"
	"github.com/flaviokalleu/whaticket/infrastructure/mediacache"
	"github.com/flaviokalleu/whaticket/pkg/contenthash"
	pkgError "github.com/flaviokalleu/whaticket/pkg/error"
	"github.com/flaviokalleu/whaticket/pkg/telemetry"
	"github.com/sirupsen/logrus"
)

const mib = 1024 * 1024

// PoolStats contiene métricas en tiempo real de un pool.
type PoolStats struct {
	MaxConcurrency int   `json:"max_concurrency"`
	Active         int   `json:"active"`
	QueueDepth     int   `json:"queue_depth"`
	TotalProcessed int64 `json:"total_processed"`
	TotalErrors    int64 `json:"total_errors"`
	TotalTimeouts  int64 `json:"total_timeouts"`
}

// MediaPool procesa archivos de medios genéricos (imagen, video, documento,
// audio sin transcodificar) con un techo de concurrencia derivado de la
// memoria del sistema. Los jobs en exceso se encolan por prioridad (archivos
// chicos primero) y FIFO entre iguales.
type MediaPool struct {
	queue    *slotQueue
	cache    *mediacache.Store
	recorder *telemetry.Recorder

	totalProcessed int64
	totalErrors    int64
	totalTimeouts  int64
}

func NewMediaPool(cache *mediacache.Store, recorder *telemetry.Recorder, workers int) *MediaPool {
	if workers <= 0 {
		workers = mediaPoolWorkers()
	}
	logrus.Infof("[MEDIA_POOL] Started with %d max concurrent jobs", workers)
	return &MediaPool{
		queue:    newSlotQueue(workers, betterByPriorityFIFO),
		cache:    cache,
		recorder: recorder,
	}
}

// PriorityForSize asigna prioridad 5 (máxima) a archivos chicos y decrece
// con el tamaño. Favorece throughput en jobs baratos.
func PriorityForSize(size int64) int {
	switch {
	case size <= 1*mib:
		return 5
	case size <= 5*mib:
		return 4
	case size <= 10*mib:
		return 3
	case size <= 25*mib:
		return 2
	default:
		return 1
	}
}

// jobTimeout: base de 5s más 1s por MiB hasta 10s extra.
func jobTimeout(size int64) time.Duration {
	extra := size / mib
	if extra > 10 {
		extra = 10
	}
	return 5*time.Second + time.Duration(extra)*time.Second
}

// ProcessMedia resuelve un archivo a su ruta cacheada, procesándolo si hace
// falta. En hit de cache retorna sin tocar la lógica de admisión.
func (p *MediaPool) ProcessMedia(ctx context.Context, path string, fileSize int64, mediaType sendmedia.MediaType) (string, error) {
	identity := contenthash.ComputeIdentity(path, "", false)
	if cached, ok := p.cache.Lookup(identity); ok {
		return cached, nil
	}
	return p.process(ctx, identity, path, filepath.Base(path), fileSize, mediaType)
}

// ProcessFlowBuilderMedia usa la vía de cache por nombre/tamaño: los assets
// del bot llegan con rutas temporales distintas pero nombre estable.
func (p *MediaPool) ProcessFlowBuilderMedia(ctx context.Context, path, originalName string, fileSize int64, mediaType sendmedia.MediaType) (string, error) {
	if cached, ok := p.cache.LookupByNameAndSize(originalName, fileSize, mediaType); ok {
		return cached, nil
	}
	identity := contenthash.ComputeIdentity(path, originalName, true)
	return p.process(ctx, identity, path, originalName, fileSize, mediaType)
}

type procResult struct {
	path string
	err  error
}

func (p *MediaPool) process(ctx context.Context, identity, path, originalName string, fileSize int64, mediaType sendmedia.MediaType) (string, error) {
	priority := PriorityForSize(fileSize)
	if err := p.queue.acquire(ctx, priority, fileSize); err != nil {
		return "", err
	}
	defer p.queue.release()

	start := time.Now()
	resultCh := make(chan procResult, 1)
	go func() {
		stored, err := p.runJob(identity, path, originalName, mediaType)
		resultCh <- procResult{path: stored, err: err}
	}()

	select {
	case res := <-resultCh:
		p.record(mediaType, fileSize, time.Since(start), res.err == nil)
		return res.path, res.err
	case <-time.After(jobTimeout(fileSize)):
		atomic.AddInt64(&p.totalTimeouts, 1)
		p.record(mediaType, fileSize, time.Since(start), false)
		logrus.Warnf("[MEDIA_POOL] Job timed out after %s: %s", jobTimeout(fileSize), path)
		return "", pkgError.ProcessError(fmt.Sprintf("media processing timed out for %s", originalName))
	case <-ctx.Done():
		p.record(mediaType, fileSize, time.Since(start), false)
		return "", ctx.Err()
	}
}

// runJob valida integridad y materializa el archivo en el cache.
func (p *MediaPool) runJob(identity, path, originalName string, mediaType sendmedia.MediaType) (string, error) {
	if err := validateIntegrity(path, mediaType); err != nil {
		return "", err
	}
	return p.cache.Insert(identity, path, mediaType, originalName)
}

func (p *MediaPool) record(mediaType sendmedia.MediaType, size int64, elapsed time.Duration, success bool) {
	atomic.AddInt64(&p.totalProcessed, 1)
	if !success {
		atomic.AddInt64(&p.totalErrors, 1)
	}
	if p.recorder != nil {
		p.recorder.RecordProcessing(string(mediaType), size, elapsed, success)
	}
}

func (p *MediaPool) GetStats() PoolStats {
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

// Pisos mínimos por categoría: un "video" de 50 bytes es basura, no video.
var minSizeByType = map[sendmedia.MediaType]int64{
	sendmedia.MediaTypeImage: 100,
	sendmedia.MediaTypeVideo: 10000,
	sendmedia.MediaTypeAudio: 1000,
}

func validateIntegrity(path string, mediaType sendmedia.MediaType) error {
	info, err := os.Stat(path)
	if err != nil {
		return pkgError.ProcessError(fmt.Sprintf("file disappeared before processing: %s", path))
	}
	if info.Size() == 0 {
		return pkgError.ProcessError(fmt.Sprintf("zero-byte file: %s", path))
	}
	if floor, ok := minSizeByType[mediaType]; ok && info.Size() < floor {
		return pkgError.ProcessError(fmt.Sprintf("file too small for %s (%d bytes): %s", mediaType, info.Size(), path))
	}

	if _, err := resolveMime(path); err != nil {
		return pkgError.ProcessError(fmt.Sprintf("unresolvable mime type: %s", path))
	}
	return nil
}

// resolveMime resuelve el tipo MIME por extensión o por sniffing de los
// primeros bytes.
func resolveMime(path string) (string, error) {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		return byExt, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return "", err
	}
	return http.DetectContentType(buf[:n]), nil
}
