package ocr

import (
	"context"
	"errors"
	"image"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t200\t50\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t5\t40\t12\t96.5\tAAPL\n" +
	"5\t1\t1\t1\t1\t2\t60\t5\t30\t12\t-1\t \n" +
	"5\t1\t1\t1\t1\t3\t100\t5\t35\t12\t80\t175.50\n"

type stubRunner struct {
	out  string
	err  error
	args []string
	seen bool
}

func (s *stubRunner) Run(_ context.Context, _ string, args ...string) ([]byte, []byte, error) {
	s.args = args
	if _, err := os.Stat(args[0]); err == nil {
		s.seen = true
	}
	return []byte(s.out), []byte("boom"), s.err
}

func TestParseTSV(t *testing.T) {
	t.Parallel()

	dets := ParseTSV(sampleTSV)
	require.Len(t, dets, 2)
	assert.Equal(t, "AAPL", dets[0].Text)
	assert.InDelta(t, 0.965, dets[0].Confidence, 1e-9)
	assert.Equal(t, 10, dets[0].Box.X)
	assert.Equal(t, "175.50", dets[1].Text)
}

func TestTesseractReadText(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{out: sampleTSV}
	tess := NewTesseract(Config{PSM: 6, TempDir: t.TempDir()}, runner, nil)

	dets, err := tess.ReadText(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)))
	require.NoError(t, err)
	assert.Len(t, dets, 2)
	assert.True(t, runner.seen, "temp image should exist while tesseract runs")
	assert.Equal(t, []string{"stdout", "-l", "eng", "--psm", "6", "tsv"}, runner.args[1:])

	_, statErr := os.Stat(runner.args[0])
	assert.True(t, os.IsNotExist(statErr), "temp image should be removed")
}

func TestTesseractReadTextError(t *testing.T) {
	t.Parallel()

	tess := NewTesseract(Config{TempDir: t.TempDir()}, &stubRunner{err: errors.New("exit 1")}, nil)
	_, err := tess.ReadText(context.Background(), image.NewGray(image.Rect(0, 0, 2, 2)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
