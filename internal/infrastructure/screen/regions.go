package screen

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"strings"

	"PageHarvester/internal/domain"
	"PageHarvester/internal/ports"
)

// Crop returns the part of img inside rect, clipped to the image bounds.
// ok is false when nothing of rect lies inside the image.
func Crop(img image.Image, rect domain.Rect) (image.Image, bool) {
	r, ok := clip(img, rect)
	if !ok {
		return nil, false
	}
	if sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(r), true
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst, true
}

// clip maps rect (relative to the image origin) into img's coordinate space.
func clip(img image.Image, rect domain.Rect) (image.Rectangle, bool) {
	if rect.Empty() {
		return image.Rectangle{}, false
	}
	r := image.Rect(rect.X, rect.Y, rect.X+rect.Width, rect.Y+rect.Height).
		Add(img.Bounds().Min).
		Intersect(img.Bounds())
	return r, !r.Empty()
}

// RegionValue is the OCR reading of one region.
type RegionValue struct {
	Name       string
	Text       string
	Confidence float64
}

// RegionReader runs OCR over named regions of a capture.
type RegionReader struct {
	OCR           ports.OCR
	MinConfidence float64
}

// Read crops each region, joins the detected fragments with single spaces
// and averages their confidences. Values under MinConfidence are kept and
// flagged on the record. Regions outside the image yield an empty value.
func (r RegionReader) Read(ctx context.Context, img image.Image, regions []domain.Region) (domain.Record, []string, error) {
	var (
		rec      domain.Record
		warnings []string
	)
	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			return rec, warnings, err
		}

		crop, ok := Crop(img, region.Rect)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("region %s is outside the capture", region.Name))
			rec.Set(region.Name, "")
			continue
		}

		value, err := r.readOne(ctx, crop, region.Name)
		if err != nil {
			return rec, warnings, err
		}
		rec.Set(region.Name, value.Text)
		if value.Text != "" && value.Confidence < r.MinConfidence {
			rec.FlagLowConfidence(region.Name)
			warnings = append(warnings, fmt.Sprintf("region %s read with low confidence %.2f", region.Name, value.Confidence))
		}
	}
	return rec, warnings, nil
}

func (r RegionReader) readOne(ctx context.Context, img image.Image, name string) (RegionValue, error) {
	dets, err := r.OCR.ReadText(ctx, img)
	if err != nil {
		return RegionValue{}, fmt.Errorf("ocr region %s: %w", name, err)
	}
	v := RegionValue{Name: name}
	if len(dets) == 0 {
		return v, nil
	}
	parts := make([]string, 0, len(dets))
	var sum float64
	for _, d := range dets {
		parts = append(parts, d.Text)
		sum += d.Confidence
	}
	v.Text = strings.TrimSpace(strings.Join(parts, " "))
	v.Confidence = sum / float64(len(dets))
	return v, nil
}

// FindText returns the centre of the best-confidence detection containing
// text (case-insensitive) inside search, if it clears minConfidence.
// Detection boxes are relative to the searched area; the returned point is
// relative to the image origin.
func FindText(ctx context.Context, ocr ports.OCR, img image.Image, text string, search *domain.Rect, minConfidence float64) (image.Point, float64, bool, error) {
	area := img
	var origin image.Point
	if search != nil {
		r, ok := clip(img, *search)
		if !ok {
			return image.Point{}, 0, false, nil
		}
		area, _ = Crop(img, *search)
		origin = r.Min.Sub(img.Bounds().Min)
	}

	dets, err := ocr.ReadText(ctx, area)
	if err != nil {
		return image.Point{}, 0, false, err
	}

	needle := strings.ToLower(strings.TrimSpace(text))
	best := -1
	for i, d := range dets {
		if !strings.Contains(strings.ToLower(d.Text), needle) || d.Confidence <= minConfidence {
			continue
		}
		if best < 0 || d.Confidence > dets[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		return image.Point{}, 0, false, nil
	}

	d := dets[best]
	center := image.Point{
		X: origin.X + d.Box.X + d.Box.Width/2,
		Y: origin.Y + d.Box.Y + d.Box.Height/2,
	}
	return center, d.Confidence, true, nil
}
