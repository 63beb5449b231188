package mediaworker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flaviokalleu/whaticket/domains/sendmedia"
	"github.com/flaviokalleu/whaticket/infrastructure/mediacache"
	"github.com/flaviokalleu/whaticket/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*mediacache.Store, *telemetry.Recorder) {
	t.Helper()
	rec := telemetry.NewRecorder()
	store, err := mediacache.NewStore(t.TempDir(), 100*1024*1024, time.Hour, rec)
	require.NoError(t, err)
	t.Cleanup(store.Shutdown)
	return store, rec
}

func writeMediaFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

// Test 1: Derivación de prioridad por tamaño (archivos chicos primero)
func TestPriorityForSize(t *testing.T) {
	assert.Equal(t, 5, PriorityForSize(512*1024))
	assert.Equal(t, 4, PriorityForSize(3*1024*1024))
	assert.Equal(t, 3, PriorityForSize(8*1024*1024))
	assert.Equal(t, 2, PriorityForSize(20*1024*1024))
	assert.Equal(t, 1, PriorityForSize(50*1024*1024))
}

// Test 2: Timeout proporcional al tamaño, acotado a 5s+10s
func TestJobTimeout(t *testing.T) {
	assert.Equal(t, 5*time.Second, jobTimeout(100))
	assert.Equal(t, 8*time.Second, jobTimeout(3*1024*1024))
	assert.Equal(t, 15*time.Second, jobTimeout(500*1024*1024))
}

// Test 3: Procesar un archivo válido lo materializa en el cache
func TestMediaPool_ProcessValidFile(t *testing.T) {
	cache, _ := newTestCache(t)
	pool := NewMediaPool(cache, nil, 2)

	src := writeMediaFile(t, t.TempDir(), "photo.jpg", 5000)
	stored, err := pool.ProcessMedia(context.Background(), src, 5000, sendmedia.MediaTypeImage)
	require.NoError(t, err)

	want, _ := os.ReadFile(src)
	got, err := os.ReadFile(stored)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// Test 4: Hit de cache corta el camino sin pasar por validación ni crear archivos
func TestMediaPool_CacheHitShortCircuit(t *testing.T) {
	cache, rec := newTestCache(t)
	pool := NewMediaPool(cache, rec, 2)

	dir := t.TempDir()
	srcA := writeMediaFile(t, dir, "a.jpg", 5000)
	srcB := writeMediaFile(t, dir, "b.jpg", 5000) // mismos bytes, otra ruta

	storedA, err := pool.ProcessMedia(context.Background(), srcA, 5000, sendmedia.MediaTypeImage)
	require.NoError(t, err)

	hitsBefore := rec.GetCacheStats().Hits
	storedB, err := pool.ProcessMedia(context.Background(), srcB, 5000, sendmedia.MediaTypeImage)
	require.NoError(t, err)

	assert.Equal(t, storedA, storedB)
	assert.Equal(t, hitsBefore+1, rec.GetCacheStats().Hits)

	// No debe aparecer un segundo archivo en el subdirectorio de imágenes
	files, err := os.ReadDir(filepath.Join(filepath.Dir(filepath.Dir(storedA)), "image"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

// Test 5: Archivos que no pasan la validación de integridad no se cachean
func TestMediaPool_IntegrityValidation(t *testing.T) {
	cache, _ := newTestCache(t)
	pool := NewMediaPool(cache, nil, 2)
	dir := t.TempDir()

	// Imagen de 50 bytes: por debajo del piso de 100
	tiny := writeMediaFile(t, dir, "tiny.jpg", 50)
	_, err := pool.ProcessMedia(context.Background(), tiny, 50, sendmedia.MediaTypeImage)
	assert.Error(t, err)

	// Archivo vacío
	empty := filepath.Join(dir, "empty.mp4")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	_, err = pool.ProcessMedia(context.Background(), empty, 0, sendmedia.MediaTypeVideo)
	assert.Error(t, err)

	// Archivo inexistente
	_, err = pool.ProcessMedia(context.Background(), filepath.Join(dir, "ghost.png"), 100, sendmedia.MediaTypeImage)
	assert.Error(t, err)

	stats := cache.GetStats()
	assert.Equal(t, 0, stats.Entries, "nada inválido debe llegar al cache")
}

// Test 6: Respeta el techo de concurrencia
func TestSlotQueue_RespectsMaxConcurrency(t *testing.T) {
	q := newSlotQueue(3, betterByPriorityFIFO)

	var active, maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, q.acquire(context.Background(), 3, 100))
			cur := atomic.AddInt32(&active, 1)
			for {
				prev := atomic.LoadInt32(&maxActive)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			q.release()
		}()
	}

	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&maxActive), int32(3))
}

// Test 7: Despacho por prioridad, FIFO entre iguales
func TestSlotQueue_PriorityThenFIFO(t *testing.T) {
	q := newSlotQueue(1, betterByPriorityFIFO)
	require.NoError(t, q.acquire(context.Background(), 5, 0)) // ocupa el único slot

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup

	enqueue := func(name string, priority int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, q.acquire(context.Background(), priority, 0))
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			q.release()
		}()
		// Esperar a que el item quede encolado antes del siguiente
		require.Eventually(t, func() bool {
			_, queued, _ := q.stats()
			return queued >= 1
		}, time.Second, time.Millisecond)
	}

	enqueue("low-first", 1)
	time.Sleep(10 * time.Millisecond)
	q.mu.Lock()
	depth := len(q.items)
	q.mu.Unlock()
	require.Equal(t, 1, depth)

	wg.Add(3)
	names := []string{"high", "mid-a", "mid-b"}
	prios := []int{5, 3, 3}
	for i := range names {
		name, prio := names[i], prios[i]
		go func() {
			defer wg.Done()
			require.NoError(t, q.acquire(context.Background(), prio, 0))
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			q.release()
		}()
		require.Eventually(t, func() bool {
			_, queued, _ := q.stats()
			return queued >= i+2
		}, time.Second, time.Millisecond)
	}

	q.release() // libera el slot inicial, arranca el drenado
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 4)
	assert.Equal(t, "high", order[0], "prioridad 5 sale primero")
	assert.Equal(t, []string{"mid-a", "mid-b"}, order[1:3], "FIFO entre prioridades iguales")
	assert.Equal(t, "low-first", order[3], "prioridad 1 sale último aunque llegó primero")
}

// Test 8: Reuso flow-builder: mismo nombre/tamaño con rutas temporales
// distintas produce un único archivo cacheado
func TestMediaPool_FlowBuilderReuse(t *testing.T) {
	cache, rec := newTestCache(t)
	pool := NewMediaPool(cache, rec, 2)

	dirA := t.TempDir()
	dirB := t.TempDir()
	srcA := writeMediaFile(t, dirA, "tmp-111.png", 4000)
	srcB := writeMediaFile(t, dirB, "tmp-222.png", 4000)

	storedA, err := pool.ProcessFlowBuilderMedia(context.Background(), srcA, "banner.png", 4000, sendmedia.MediaTypeImage)
	require.NoError(t, err)

	missesBefore := rec.GetCacheStats().Misses
	storedB, err := pool.ProcessFlowBuilderMedia(context.Background(), srcB, "banner.png", 4000, sendmedia.MediaTypeImage)
	require.NoError(t, err)

	assert.Equal(t, storedA, storedB, "el segundo request se sirve del cache")
	assert.Equal(t, missesBefore, rec.GetCacheStats().Misses, "sin miss en el segundo request")
	assert.Equal(t, 1, cache.GetStats().Entries)
}

// Test 9: Cancelación del contexto saca el item de la cola
func TestSlotQueue_ContextCancellation(t *testing.T) {
	q := newSlotQueue(1, betterByPriorityFIFO)
	require.NoError(t, q.acquire(context.Background(), 3, 0))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.acquire(ctx, 3, 0)
	}()

	require.Eventually(t, func() bool {
		_, queued, _ := q.stats()
		return queued == 1
	}, time.Second, time.Millisecond)

	cancel()
	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)

	_, queued, _ := q.stats()
	assert.Equal(t, 0, queued)

	q.release()
	active, _, _ := q.stats()
	assert.Equal(t, 0, active)
}
