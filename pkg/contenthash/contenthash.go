package contenthash

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// ComputeIdentity deriva una identidad estable para el contenido de un archivo.
//
// Para archivos normales la identidad es el sha256 completo de los bytes.
// Para archivos originados en el flow-builder (assets del bot que llegan con
// rutas temporales distintas pero nombre/contenido estable) se usa un
// compuesto md5(nombre + "_" + tamaño + "_" + sha256[0:16]) que permite
// re-identificarlos rápido entre requests.
//
// Nunca retorna error: ante fallo de lectura cae a una identidad degradada
// basada en nombre, tamaño y mtime. Sirve para disponibilidad, no para
// garantías de colisión.
func ComputeIdentity(path, originalName string, fromFlowBuilder bool) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return degradedIdentity(path, originalName)
	}

	digest := sha256.Sum256(data)
	full := hex.EncodeToString(digest[:])

	if fromFlowBuilder && originalName != "" {
		composite := fmt.Sprintf("%s_%d_%s", originalName, len(data), full[:16])
		sum := md5.Sum([]byte(composite))
		return hex.EncodeToString(sum[:])
	}

	return full
}

func degradedIdentity(path, originalName string) string {
	name := originalName
	if name == "" {
		name = filepath.Base(path)
	}

	var size int64
	var mtime int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
		mtime = info.ModTime().UnixNano()
	}

	sum := md5.Sum([]byte(fmt.Sprintf("%s_%d_%d", name, size, mtime)))
	return hex.EncodeToString(sum[:])
}
