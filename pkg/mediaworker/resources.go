package mediaworker

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
)

const gib = 1024 * 1024 * 1024

// systemMemoryBytes se puede sustituir en tests.
var systemMemoryBytes = readSystemMemory

// readSystemMemory reads MemTotal from /proc/meminfo. On failure it assumes
// a mid-sized host (8 GiB) so the pools still get sane ceilings.
func readSystemMemory() uint64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 8 * gib
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			break
		}
		return kb * 1024
	}
	return 8 * gib
}

// mediaPoolWorkers deriva el techo de concurrencia del pool genérico de la
// memoria total. Heurística estática, no adaptativa.
func mediaPoolWorkers() int {
	mem := systemMemoryBytes()
	switch {
	case mem > 8*gib:
		return 8
	case mem > 4*gib:
		return 6
	default:
		return 4
	}
}

// audioPoolWorkers combina CPUs y memoria: la transcodificación es más
// pesada que la copia de archivos.
func audioPoolWorkers() int {
	cpus := runtime.NumCPU()
	base := cpus - 1
	if base < 2 {
		base = 2
	}
	if base > 6 {
		base = 6
	}

	mem := systemMemoryBytes()
	if mem < 4*gib && base > 3 {
		base = 3
	}
	if mem > 16*gib {
		base += 2
		if base > 8 {
			base = 8
		}
	}
	return base
}
