// Package ocr reads text from screen captures with the tesseract CLI.
package ocr

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/ports"
)

// Config selects the tesseract binary and recognition options.
type Config struct {
	Binary      string `yaml:"binary"`
	Language    string `yaml:"language"`
	PSM         int    `yaml:"psm"`
	TessdataDir string `yaml:"tessdataDir"`
	TempDir     string `yaml:"tempDir"`
}

// Tesseract implements ports.OCR over `tesseract <png> stdout tsv`.
type Tesseract struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

var _ ports.OCR = (*Tesseract)(nil)

// NewTesseract builds the OCR adapter. A nil runner uses os/exec.
func NewTesseract(cfg Config, runner Runner, logger *slog.Logger) *Tesseract {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	return &Tesseract{cfg: cfg, runner: runner, logger: logger}
}

// ReadText writes img to a temporary PNG and returns word detections in
// reading order with confidences scaled to 0..1.
func (t *Tesseract) ReadText(ctx context.Context, img image.Image) ([]ports.Detection, error) {
	f, err := os.CreateTemp(t.cfg.TempDir, "ocr-*.png")
	if err != nil {
		return nil, fmt.Errorf("create temp image: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if err := png.Encode(f, img); err != nil {
		f.Close()
		return nil, fmt.Errorf("encode png: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close temp image: %w", err)
	}

	out, errb, err := t.runner.Run(ctx, t.cfg.Binary, t.args(path)...)
	if err != nil {
		return nil, domain.NewError(domain.KindFatal,
			fmt.Sprintf("tesseract: %s", strings.TrimSpace(string(errb))), err)
	}

	return ParseTSV(string(out)), nil
}

func (t *Tesseract) args(path string) []string {
	args := []string{path, "stdout", "-l", t.cfg.Language}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(t.cfg.PSM))
	}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	return append(args, "tsv")
}

const (
	colLevel = 0
	colLeft  = 6
	colTop   = 7
	colWidth = 8
	colHigh  = 9
	colConf  = 10
	colText  = 11
	wordRow  = 5
)

// ParseTSV converts tesseract TSV output into word detections. Rows that
// are not words, have no text or carry a negative confidence are skipped.
func ParseTSV(tsv string) []ports.Detection {
	var out []ports.Detection
	for i, line := range strings.Split(tsv, "\n") {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		cols := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if len(cols) <= colText {
			continue
		}
		if lvl, _ := strconv.Atoi(cols[colLevel]); lvl != wordRow {
			continue
		}
		text := strings.TrimSpace(cols[colText])
		conf, err := strconv.ParseFloat(cols[colConf], 64)
		if text == "" || err != nil || conf < 0 {
			continue
		}
		out = append(out, ports.Detection{
			Box: domain.Rect{
				X:      atoi(cols[colLeft]),
				Y:      atoi(cols[colTop]),
				Width:  atoi(cols[colWidth]),
				Height: atoi(cols[colHigh]),
			},
			Text:       text,
			Confidence: conf / 100.0,
		})
	}
	return out
}

func atoi(s string) int {
	v, _ := strconv.Atoi(strings.TrimSpace(s))
	return v
}
