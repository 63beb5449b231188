package coalesce

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Writer coalesces burst write requests into a single write per quiescence
// window. Trigger reinicia el timer; la escritura real ocurre cuando pasa
// `delay` sin nuevos triggers. FlushNow escribe de inmediato y cancela el
// timer pendiente (para shutdown).
type Writer struct {
	mu      sync.Mutex
	timer   *time.Timer
	delay   time.Duration
	writeFn func() error
	stopped bool
}

func NewWriter(delay time.Duration, writeFn func() error) *Writer {
	return &Writer{
		delay:   delay,
		writeFn: writeFn,
	}
}

// Trigger schedules a write after the quiescence window. Repeated calls
// within the window collapse into one write.
func (w *Writer) Trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, func() {
		if err := w.writeFn(); err != nil {
			logrus.Warnf("[COALESCE] Deferred write failed: %v", err)
		}
	})
}

// FlushNow cancels any pending timer and performs the write synchronously.
func (w *Writer) FlushNow() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	return w.writeFn()
}

// Stop cancels pending writes without flushing.
func (w *Writer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
