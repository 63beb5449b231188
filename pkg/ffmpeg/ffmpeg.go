package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// audioFilterChain limpia y normaliza audio de voz antes del envío:
// high-pass/low-pass para banda de voz, reducción de ruido, compresión
// dinámica y normalización de loudness.
const audioFilterChain = "highpass=f=200,lowpass=f=3300,afftdn=nf=-25," +
	"acompressor=threshold=-20dB:ratio=3:attack=5:release=50,loudnorm"

// internalTimeLimitSeconds is enforced by the encoder itself, independent of
// the caller's context deadline.
const internalTimeLimitSeconds = "30"

// Runner invokes the external audio encoder. Abstracted so pool tests can
// substitute a fake.
type Runner interface {
	Normalize(ctx context.Context, inputPath, outputPath string) error
	RemuxToMP3(ctx context.Context, inputPath, outputPath string) error
}

// Encoder runs the ffmpeg binary.
type Encoder struct {
	bin string
}

func NewEncoder(bin string) *Encoder {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Encoder{bin: bin}
}

// Normalize aplica la cadena de filtros y resamplea a 44.1kHz estéreo mp3
// de 128k. Exit 0 y archivo de salida presente = éxito.
func (e *Encoder) Normalize(ctx context.Context, inputPath, outputPath string) error {
	if _, err := os.Stat(inputPath); err != nil {
		return fmt.Errorf("input file not found: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, e.bin,
		"-i", inputPath,
		"-af", audioFilterChain,
		"-ar", "44100",
		"-ac", "2",
		"-b:a", "128k",
		"-f", "mp3",
		"-timelimit", internalTimeLimitSeconds,
		"-y",
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		logrus.Debugf("[FFMPEG] normalize failed for %s: %s", inputPath, string(output))
		return fmt.Errorf("audio normalization failed: %w", err)
	}

	if info, err := os.Stat(outputPath); err != nil || info.Size() == 0 {
		return fmt.Errorf("audio normalization produced no output for %s", inputPath)
	}
	return nil
}

// RemuxToMP3 convierte contenedores audio/mp4 (m4a) a mp3 estándar antes de
// la normalización.
func (e *Encoder) RemuxToMP3(ctx context.Context, inputPath, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, e.bin,
		"-i", inputPath,
		"-vn",
		"-acodec", "libmp3lame",
		"-q:a", "2",
		"-timelimit", internalTimeLimitSeconds,
		"-y",
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		logrus.Debugf("[FFMPEG] remux failed for %s: %s", inputPath, string(output))
		return fmt.Errorf("audio remux failed: %w", err)
	}
	return nil
}
