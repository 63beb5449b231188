package mediacache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/flaviokalleu/whaticket/domains/sendmedia"
	"github.com/flaviokalleu/whaticket/pkg/coalesce"
	"github.com/flaviokalleu/whaticket/pkg/telemetry"
	"github.com/sirupsen/logrus"
)

const (
	indexFileName    = "index.json"
	persistDebounce  = 2 * time.Second
	evictTargetRatio = 0.8
	nameSizeSlack    = 1024 // bytes of tolerance for name/size lookups
)

// Entry es un archivo materializado en el cache, indexado por identidad de
// contenido. Es propiedad exclusiva del Store; nadie más lo muta.
type Entry struct {
	Identity     string              `json:"identity"`
	Path         string              `json:"path"`
	LastAccess   time.Time           `json:"last_access"`
	Size         int64               `json:"size"`
	Type         sendmedia.MediaType `json:"type"`
	OriginalName string              `json:"original_name"`
}

// Stats is the monitoring view of the cache.
type Stats struct {
	Entries   int    `json:"entries"`
	TotalSize int64  `json:"total_size"`
	HumanSize string `json:"human_size"`
	MaxSize   int64  `json:"max_size"`
}

// Store is a persistent, type-partitioned, size-bounded file cache keyed by
// content identity. Single-process by design: insert es idempotente por
// identidad y las carreras de evicción/persistencia solo causan trabajo
// redundante, nunca corrupción (el índice se sobreescribe completo).
type Store struct {
	mu       sync.Mutex
	root     string
	maxBytes int64
	index    map[string]*Entry
	writer   *coalesce.Writer
	recorder *telemetry.Recorder

	sweepInterval time.Duration
	stopOnce      sync.Once
	stopCh        chan struct{}
}

func NewStore(root string, maxBytes int64, sweepInterval time.Duration, recorder *telemetry.Recorder) (*Store, error) {
	s := &Store{
		root:          root,
		maxBytes:      maxBytes,
		index:         make(map[string]*Entry),
		recorder:      recorder,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
	}
	s.writer = coalesce.NewWriter(persistDebounce, s.persistIndex)

	for _, t := range []sendmedia.MediaType{
		sendmedia.MediaTypeAudio, sendmedia.MediaTypeImage,
		sendmedia.MediaTypeVideo, sendmedia.MediaTypeDocument,
	} {
		if err := os.MkdirAll(filepath.Join(root, string(t)), 0755); err != nil {
			return nil, err
		}
	}

	s.loadIndex()
	return s, nil
}

// Start arranca la reconciliación periódica de huérfanos.
func (s *Store) Start(ctx context.Context) {
	if s.sweepInterval <= 0 {
		s.sweepInterval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.ReconcileOrphans()
			}
		}
	}()
}

// Shutdown fuerza la persistencia del índice antes de salir.
func (s *Store) Shutdown() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if err := s.writer.FlushNow(); err != nil {
		logrus.Errorf("[MEDIA_CACHE] Failed to flush index on shutdown: %v", err)
	}
	s.writer.Stop()
}

// Lookup returns the stored path for an identity, refreshing its access
// time. Entries whose backing file vanished are dropped on the spot.
func (s *Store) Lookup(identity string) (string, bool) {
	s.mu.Lock()
	entry, ok := s.index[identity]
	if !ok {
		s.mu.Unlock()
		if s.recorder != nil {
			s.recorder.RecordCacheMiss()
		}
		return "", false
	}

	if _, err := os.Stat(entry.Path); err != nil {
		// Entrada huérfana: el archivo desapareció por fuera
		delete(s.index, identity)
		s.mu.Unlock()
		s.writer.Trigger()
		logrus.Warnf("[MEDIA_CACHE] Dropped orphaned entry %s (missing %s)", identity[:8], entry.Path)
		if s.recorder != nil {
			s.recorder.RecordCacheMiss()
		}
		return "", false
	}

	entry.LastAccess = time.Now().UTC()
	path := entry.Path
	s.mu.Unlock()

	s.writer.Trigger()
	if s.recorder != nil {
		s.recorder.RecordCacheHit()
	}
	return path, true
}

// LookupByNameAndSize busca linealmente una entrada del mismo tipo con el
// mismo nombre original y tamaño dentro de la tolerancia. Soporta assets del
// flow-builder cuya ruta absoluta cambia entre requests.
func (s *Store) LookupByNameAndSize(originalName string, approxSize int64, mediaType sendmedia.MediaType) (string, bool) {
	s.mu.Lock()
	var match *Entry
	for _, entry := range s.index {
		if entry.Type != mediaType || entry.OriginalName != originalName {
			continue
		}
		diff := entry.Size - approxSize
		if diff < 0 {
			diff = -diff
		}
		if diff < nameSizeSlack {
			match = entry
			break
		}
	}

	if match == nil {
		s.mu.Unlock()
		if s.recorder != nil {
			s.recorder.RecordCacheMiss()
		}
		return "", false
	}

	if _, err := os.Stat(match.Path); err != nil {
		delete(s.index, match.Identity)
		s.mu.Unlock()
		s.writer.Trigger()
		if s.recorder != nil {
			s.recorder.RecordCacheMiss()
		}
		return "", false
	}

	match.LastAccess = time.Now().UTC()
	path := match.Path
	s.mu.Unlock()

	s.writer.Trigger()
	if s.recorder != nil {
		s.recorder.RecordCacheHit()
	}
	return path, true
}

// Insert copies sourcePath into the cache under the given identity.
// Idempotente: si la identidad ya resuelve, devuelve la ruta existente.
func (s *Store) Insert(identity, sourcePath string, mediaType sendmedia.MediaType, originalName string) (string, error) {
	s.mu.Lock()
	if entry, ok := s.index[identity]; ok {
		if _, err := os.Stat(entry.Path); err == nil {
			entry.LastAccess = time.Now().UTC()
			path := entry.Path
			s.mu.Unlock()
			s.writer.Trigger()
			return path, nil
		}
		delete(s.index, identity)
	}
	s.mu.Unlock()

	ext := filepath.Ext(originalName)
	if ext == "" {
		ext = filepath.Ext(sourcePath)
	}
	name := identity
	if len(name) > 16 {
		name = name[:16]
	}
	storedPath := filepath.Join(s.root, string(mediaType), name+ext)

	if err := copyFile(sourcePath, storedPath); err != nil {
		return "", err
	}

	info, err := os.Stat(storedPath)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.index[identity] = &Entry{
		Identity:     identity,
		Path:         storedPath,
		LastAccess:   time.Now().UTC(),
		Size:         info.Size(),
		Type:         mediaType,
		OriginalName: originalName,
	}
	s.mu.Unlock()

	s.writer.Trigger()
	s.enforceSizeLimit()
	return storedPath, nil
}

// enforceSizeLimit evicts least-recently-used entries until the aggregate
// size drops to 80% of the ceiling.
func (s *Store) enforceSizeLimit() {
	s.mu.Lock()

	var total int64
	for _, e := range s.index {
		total += e.Size
	}
	if total <= s.maxBytes {
		s.mu.Unlock()
		return
	}

	entries := make([]*Entry, 0, len(s.index))
	for _, e := range s.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccess.Before(entries[j].LastAccess)
	})

	target := int64(float64(s.maxBytes) * evictTargetRatio)
	var victims []*Entry
	for _, e := range entries {
		if total <= target {
			break
		}
		delete(s.index, e.Identity)
		total -= e.Size
		victims = append(victims, e)
	}
	s.mu.Unlock()

	for _, v := range victims {
		if err := os.Remove(v.Path); err != nil && !os.IsNotExist(err) {
			logrus.Warnf("[MEDIA_CACHE] Failed to evict %s: %v", v.Path, err)
		}
	}

	if len(victims) > 0 {
		logrus.Infof("[MEDIA_CACHE] Evicted %d entries, cache now at %s (limit %s)",
			len(victims), humanize.Bytes(uint64(total)), humanize.Bytes(uint64(s.maxBytes)))
		s.writer.Trigger()
	}
}

// ReconcileOrphans deletes on-disk files with no index entry and drops index
// entries whose file is gone.
func (s *Store) ReconcileOrphans() {
	s.mu.Lock()
	known := make(map[string]struct{}, len(s.index))
	for _, e := range s.index {
		known[e.Path] = struct{}{}
	}
	var dead []string
	for id, e := range s.index {
		if _, err := os.Stat(e.Path); err != nil {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		delete(s.index, id)
	}
	s.mu.Unlock()

	removed := 0
	for _, t := range []sendmedia.MediaType{
		sendmedia.MediaTypeAudio, sendmedia.MediaTypeImage,
		sendmedia.MediaTypeVideo, sendmedia.MediaTypeDocument,
	} {
		dir := filepath.Join(s.root, string(t))
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			path := filepath.Join(dir, f.Name())
			if _, ok := known[path]; !ok {
				if err := os.Remove(path); err == nil {
					removed++
				}
			}
		}
	}

	if removed > 0 || len(dead) > 0 {
		logrus.Infof("[MEDIA_CACHE] Reconciliation removed %d orphan files, dropped %d dead entries", removed, len(dead))
		s.writer.Trigger()
	}
}

// Clear empties the cache entirely (admin endpoint).
func (s *Store) Clear() {
	s.mu.Lock()
	entries := make([]*Entry, 0, len(s.index))
	for _, e := range s.index {
		entries = append(entries, e)
	}
	s.index = make(map[string]*Entry)
	s.mu.Unlock()

	for _, e := range entries {
		_ = os.Remove(e.Path)
	}
	s.writer.Trigger()
}

// GetStats returns the aggregate cache size view.
func (s *Store) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, e := range s.index {
		total += e.Size
	}
	return Stats{
		Entries:   len(s.index),
		TotalSize: total,
		HumanSize: humanize.Bytes(uint64(total)),
		MaxSize:   s.maxBytes,
	}
}

func (s *Store) indexPath() string {
	return filepath.Join(s.root, indexFileName)
}

// loadIndex carga el índice JSON filtrando entradas sin archivo de respaldo.
func (s *Store) loadIndex() {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		return
	}

	var raw map[string]*Entry
	if err := json.Unmarshal(data, &raw); err != nil {
		logrus.Warnf("[MEDIA_CACHE] Corrupt index file, starting empty: %v", err)
		return
	}

	kept, dropped := 0, 0
	for id, e := range raw {
		if _, err := os.Stat(e.Path); err != nil {
			dropped++
			continue
		}
		e.Identity = id
		s.index[id] = e
		kept++
	}
	logrus.Infof("[MEDIA_CACHE] Index loaded: %d entries (%d stale dropped)", kept, dropped)
}

// persistIndex sobreescribe el índice completo. Los errores se loguean y no
// se propagan: el cache es best-effort.
func (s *Store) persistIndex() error {
	s.mu.Lock()
	snapshot := make(map[string]*Entry, len(s.index))
	for id, e := range s.index {
		cp := *e
		snapshot[id] = &cp
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.indexPath())
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
