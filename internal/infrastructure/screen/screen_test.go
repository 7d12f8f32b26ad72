package screen

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/extractor"
	"PageHarvester/internal/ports"
)

func filled(v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 20, 40))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

type fakeScreen struct {
	mu       sync.Mutex
	frames   []uint8
	captures int
	scrolls  int
	clicks   []image.Point
	top      int
}

func (f *fakeScreen) CaptureFullScreen(context.Context) (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.captures
	if i >= len(f.frames) {
		i = len(f.frames) - 1
	}
	f.captures++
	return filled(f.frames[i]), nil
}

func (f *fakeScreen) CaptureRegion(ctx context.Context, r domain.Rect) (image.Image, error) {
	img, _ := f.CaptureFullScreen(ctx)
	c, _ := Crop(img, r)
	return c, nil
}

func (f *fakeScreen) ClickAt(_ context.Context, x, y int) error {
	f.clicks = append(f.clicks, image.Point{X: x, Y: y})
	return nil
}

func (f *fakeScreen) Scroll(context.Context, ports.ScrollDirection, int) error {
	f.scrolls++
	return nil
}

func (f *fakeScreen) ScrollToTop(context.Context) error { f.top++; return nil }

func (f *fakeScreen) TypeText(context.Context, string) error { return nil }

func (f *fakeScreen) PressKey(context.Context, string) error { return nil }

func (f *fakeScreen) Focus(context.Context) error { return nil }

// fakeOCR answers by the top edge of the area it is given: y=0 is the
// symbol region, y=10 the price region (reads the pixel value) and y=30 the
// pagination search strip.
type fakeOCR struct {
	priceConf float64
	nextLeft  int
}

func (f *fakeOCR) ReadText(_ context.Context, img image.Image) ([]ports.Detection, error) {
	b := img.Bounds()
	switch b.Min.Y {
	case 0:
		return []ports.Detection{
			{Text: "AA", Confidence: 0.9},
			{Text: "PL", Confidence: 1.0},
		}, nil
	case 10:
		v := color.GrayModel.Convert(img.At(b.Min.X, b.Min.Y)).(color.Gray).Y
		conf := f.priceConf
		if conf == 0 {
			conf = 0.95
		}
		return []ports.Detection{{Text: strconv.Itoa(int(v)), Confidence: conf}}, nil
	case 30:
		if f.nextLeft == 0 {
			return nil, nil
		}
		f.nextLeft--
		return []ports.Detection{
			{Text: "next", Confidence: 0.5, Box: domain.Rect{X: 0, Y: 0, Width: 2, Height: 2}},
			{Text: "Next »", Confidence: 0.9, Box: domain.Rect{X: 2, Y: 2, Width: 6, Height: 4}},
		}, nil
	}
	return nil, nil
}

var testRegions = []domain.Region{
	{Name: "sym", Rect: domain.Rect{X: 0, Y: 0, Width: 10, Height: 10}},
	{Name: "price", Rect: domain.Rect{X: 0, Y: 10, Width: 10, Height: 10}},
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestSimilarity(t *testing.T) {
	t.Parallel()

	a := filled(100)
	b := filled(105)
	c := filled(200)
	assert.True(t, Similar(a, b, 0.98))
	assert.False(t, Similar(a, c, 0.98))
	assert.False(t, Similar(a, image.NewGray(image.Rect(0, 0, 5, 5)), 0.98))

	// 2% of pixels changed is not "more than 98% similar".
	d := filled(100)
	for i := 0; i < len(d.Pix)*2/100; i++ {
		d.Pix[i] = 255
	}
	assert.InDelta(t, 0.98, SimilarityRatio(a, d), 1e-9)
	assert.False(t, Similar(a, d, 0.98))
}

func TestCropClipsAndRejects(t *testing.T) {
	t.Parallel()

	img := filled(1)
	c, ok := Crop(img, domain.Rect{X: 15, Y: 35, Width: 10, Height: 10})
	require.True(t, ok)
	assert.Equal(t, image.Rect(15, 35, 20, 40), c.Bounds())

	_, ok = Crop(img, domain.Rect{X: 100, Y: 100, Width: 5, Height: 5})
	assert.False(t, ok)
	_, ok = Crop(img, domain.Rect{X: 0, Y: 0, Width: 0, Height: 5})
	assert.False(t, ok)
}

func TestRegionReaderJoinsAndFlags(t *testing.T) {
	t.Parallel()

	reader := RegionReader{OCR: &fakeOCR{priceConf: 0.5}, MinConfidence: 0.85}
	regions := append(append([]domain.Region(nil), testRegions...),
		domain.Region{Name: "ghost", Rect: domain.Rect{X: 500, Y: 500, Width: 5, Height: 5}})

	rec, warnings, err := reader.Read(context.Background(), filled(175), regions)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"sym": "AA PL", "price": "175", "ghost": ""}, rec.Map())
	assert.Equal(t, []string{"price"}, rec.Meta.LowConfidence)
	assert.Len(t, warnings, 2)
}

func TestSingleStrategy(t *testing.T) {
	t.Parallel()

	s := NewSingleStrategy(&fakeScreen{frames: []uint8{175}}, &fakeOCR{}, Options{}, nil)
	res, err := s.Extract(context.Background(), extractor.Request{Job: domain.Job{Regions: testRegions}})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "AA PL", mustGet(t, res.Records[0], "sym"))
	assert.Equal(t, "175", mustGet(t, res.Records[0], "price"))
	assert.Equal(t, 1, res.PagesProcessed)
}

func TestScrollStopsAfterConsecutiveSameCaptures(t *testing.T) {
	t.Parallel()

	scr := &fakeScreen{frames: []uint8{10, 50, 50, 50, 50, 90}}
	s := NewScrollStrategy(scr, &fakeOCR{}, Options{}, nil)
	s.sleep = noSleep

	job := domain.Job{Regions: testRegions, Scroll: domain.ScrollConfig{ScrollPixels: 500, MaxScrolls: 50}}
	var pages []int
	res, err := s.Extract(context.Background(), extractor.Request{Job: job, OnPage: func(p int) { pages = append(pages, p) }})
	require.NoError(t, err)

	assert.Len(t, res.Records, 5)
	assert.Equal(t, 5, res.PagesProcessed)
	assert.Equal(t, 4, scr.scrolls)
	assert.Equal(t, 1, scr.top)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, pages)
	assert.Equal(t, 4, res.Records[4].Meta.ScrollPosition)
	v, _ := res.Records[4].Get("_scroll_position")
	assert.Equal(t, "4", v)
}

func TestScrollRespectsMaxScrolls(t *testing.T) {
	t.Parallel()

	scr := &fakeScreen{frames: []uint8{10, 60, 110, 160, 210}}
	s := NewScrollStrategy(scr, &fakeOCR{}, Options{}, nil)
	s.sleep = noSleep

	job := domain.Job{Regions: testRegions, Scroll: domain.ScrollConfig{ScrollPixels: 500, MaxScrolls: 3}}
	res, err := s.Extract(context.Background(), extractor.Request{Job: job})
	require.NoError(t, err)
	assert.Len(t, res.Records, 3)
}

func TestScrollCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	scr := &fakeScreen{frames: []uint8{10, 60, 110}}
	s := NewScrollStrategy(scr, &fakeOCR{}, Options{}, nil)
	s.sleep = func(ctx context.Context, _ time.Duration) error {
		if scr.scrolls == 1 {
			cancel()
		}
		return ctx.Err()
	}

	job := domain.Job{Regions: testRegions, Scroll: domain.ScrollConfig{ScrollPixels: 500, MaxScrolls: 50}}
	res, err := s.Extract(ctx, extractor.Request{Job: job})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, res.Records, 1)
}

func TestPaginationByCoordinatesStopsWhenUnchanged(t *testing.T) {
	t.Parallel()

	scr := &fakeScreen{frames: []uint8{10, 20}}
	p := NewPaginationStrategy(scr, &fakeOCR{}, Options{}, nil)
	p.sleep = noSleep

	job := domain.Job{Regions: testRegions, Pagination: domain.PaginationConfig{
		Mode: domain.NextByCoordinates, X: 7, Y: 9, MaxPages: 100,
	}}
	res, err := p.Extract(context.Background(), extractor.Request{Job: job})
	require.NoError(t, err)

	assert.Len(t, res.Records, 4)
	assert.Len(t, scr.clicks, 4)
	assert.Equal(t, image.Point{X: 7, Y: 9}, scr.clicks[0])
	assert.Equal(t, 4, res.Records[3].Meta.PageNumber)
}

func TestPaginationByTextStopsWhenControlMissing(t *testing.T) {
	t.Parallel()

	scr := &fakeScreen{frames: []uint8{10, 20, 30}}
	p := NewPaginationStrategy(scr, &fakeOCR{nextLeft: 1}, Options{}, nil)
	p.sleep = noSleep

	job := domain.Job{Regions: testRegions, Pagination: domain.PaginationConfig{
		Mode: domain.NextByText, Text: "next", MaxPages: 10,
		SearchRegion: &domain.Rect{X: 0, Y: 30, Width: 20, Height: 10},
	}}
	res, err := p.Extract(context.Background(), extractor.Request{Job: job})
	require.NoError(t, err)

	assert.Len(t, res.Records, 2)
	require.Len(t, scr.clicks, 1)
	assert.Equal(t, image.Point{X: 5, Y: 34}, scr.clicks[0])
}

func TestPaginationCoordinatesMissingIsConfigError(t *testing.T) {
	t.Parallel()

	p := NewPaginationStrategy(&fakeScreen{frames: []uint8{1}}, &fakeOCR{}, Options{}, nil)
	job := domain.Job{Regions: testRegions, Pagination: domain.PaginationConfig{Mode: domain.NextByCoordinates, MaxPages: 3}}
	_, err := p.Extract(context.Background(), extractor.Request{Job: job})
	assert.True(t, domain.IsKind(err, domain.KindConfig))
}

func mustGet(t *testing.T, r domain.Record, name string) string {
	t.Helper()
	v, ok := r.Get(name)
	require.True(t, ok, "field %s missing", name)
	return v
}

func TestCapturesSavedToScreenshotDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "shots")
	s := NewSingleStrategy(&fakeScreen{frames: []uint8{175}}, &fakeOCR{}, Options{ScreenshotDir: dir}, nil)
	_, err := s.Extract(context.Background(), extractor.Request{Job: domain.Job{Regions: testRegions}})
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(dir, "capture_*.png"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
