package coalesce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test 1: Ráfaga de triggers dentro de la ventana produce una sola escritura
func TestWriter_CoalescesBurst(t *testing.T) {
	var writes int32
	w := NewWriter(50*time.Millisecond, func() error {
		atomic.AddInt32(&writes, 1)
		return nil
	})
	defer w.Stop()

	for i := 0; i < 10; i++ {
		w.Trigger()
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&writes), "una ráfaga debe colapsar en una escritura")
}

// Test 2: FlushNow escribe sincrónicamente y cancela el timer pendiente
func TestWriter_FlushNow(t *testing.T) {
	var writes int32
	w := NewWriter(1*time.Hour, func() error {
		atomic.AddInt32(&writes, 1)
		return nil
	})
	defer w.Stop()

	w.Trigger()
	require.NoError(t, w.FlushNow())
	assert.Equal(t, int32(1), atomic.LoadInt32(&writes))

	// El timer original no debe disparar una segunda escritura
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&writes))
}

// Test 3: Stop cancela sin escribir
func TestWriter_StopWithoutWrite(t *testing.T) {
	var writes int32
	w := NewWriter(20*time.Millisecond, func() error {
		atomic.AddInt32(&writes, 1)
		return nil
	})

	w.Trigger()
	w.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&writes))
}
