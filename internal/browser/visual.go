// File: internal/browser/visual.go
package browser

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math/bits"
	"sort"
	"strconv"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/samuelvinay91/uniauto/api/schemas"
)

// dhashWidth x dhashHeight is the downsample grid for difference hashing;
// 9x8 horizontal comparisons yield a 64-bit hash.
const (
	dhashWidth  = 9
	dhashHeight = 8
)

// dhash computes a difference hash of the image: each bit records whether a
// downsampled pixel is brighter than its right neighbor. Robust against
// uniform brightness and scale changes, cheap to compare by hamming
// distance.
func dhash(img image.Image) uint64 {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return 0
	}

	var cells [dhashHeight][dhashWidth]uint64
	for gy := 0; gy < dhashHeight; gy++ {
		for gx := 0; gx < dhashWidth; gx++ {
			x0 := b.Min.X + gx*b.Dx()/dhashWidth
			x1 := b.Min.X + (gx+1)*b.Dx()/dhashWidth
			y0 := b.Min.Y + gy*b.Dy()/dhashHeight
			y1 := b.Min.Y + (gy+1)*b.Dy()/dhashHeight
			if x1 <= x0 {
				x1 = x0 + 1
			}
			if y1 <= y0 {
				y1 = y0 + 1
			}

			var sum, n uint64
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					r, g, bl, _ := img.At(x, y).RGBA()
					// Integer luma approximation.
					sum += uint64(299*r+587*g+114*bl) / 1000
					n++
				}
			}
			cells[gy][gx] = sum / n
		}
	}

	var h uint64
	for gy := 0; gy < dhashHeight; gy++ {
		for gx := 0; gx < dhashWidth-1; gx++ {
			h <<= 1
			if cells[gy][gx] > cells[gy][gx+1] {
				h |= 1
			}
		}
	}
	return h
}

func hammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

func formatHash(h uint64) string {
	return strconv.FormatUint(h, 16)
}

func parseHash(s string) (uint64, error) {
	h, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid visual hash %q: %w", s, err)
	}
	return h, nil
}

// CaptureFingerprint hashes a region of the current page so it can be used
// later as a visual locator.
func (s *Surface) CaptureFingerprint(ctx context.Context, region schemas.Region) (*schemas.VisualFingerprint, error) {
	img, err := s.screenshotImage(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := cropRegion(img, region)
	if err != nil {
		return nil, err
	}
	return &schemas.VisualFingerprint{
		Hash:   formatHash(dhash(sub)),
		Region: region,
	}, nil
}

// visualCandidate is one scored window during a visual scan.
type visualCandidate struct {
	distance int
	x, y     float64
}

// QueryVisual scans the viewport for regions matching the stored
// fingerprint, scanning a grid of windows around and across the page. It
// returns point refs at each matching window's center, best and topmost
// first, bounded by the configured hamming distance.
func (s *Surface) QueryVisual(ctx context.Context, fp schemas.VisualFingerprint) ([]schemas.ElementRef, error) {
	want, err := parseHash(fp.Hash)
	if err != nil {
		return nil, err
	}
	if fp.Region.Width <= 0 || fp.Region.Height <= 0 {
		return nil, fmt.Errorf("visual fingerprint has an empty region")
	}

	img, err := s.screenshotImage(ctx)
	if err != nil {
		return nil, err
	}
	candidates := scanForHash(img, fp.Region, want, s.visualDistance)
	if len(candidates) == 0 {
		return nil, nil
	}

	refs := make([]schemas.ElementRef, 0, len(candidates))
	for _, c := range candidates {
		refs = append(refs, schemas.ElementRef{Kind: schemas.RefPoint, X: c.x, Y: c.y})
	}
	s.logger.Debug("Visual matches found",
		zap.Int("count", len(refs)),
		zap.Int("best_distance", candidates[0].distance))
	return refs, nil
}

// scanForHash slides a window of the region's size across the image in
// half-window strides and keeps windows within maxDistance. Results are
// ordered by distance, then by position, so ties break deterministically.
func scanForHash(img image.Image, region schemas.Region, want uint64, maxDistance int) []visualCandidate {
	w := int(region.Width)
	h := int(region.Height)
	b := img.Bounds()
	if w <= 0 || h <= 0 || w > b.Dx() || h > b.Dy() {
		return nil
	}

	strideX := w / 2
	if strideX < 4 {
		strideX = 4
	}
	strideY := h / 2
	if strideY < 4 {
		strideY = 4
	}

	var out []visualCandidate
	for y := b.Min.Y; y+h <= b.Max.Y; y += strideY {
		for x := b.Min.X; x+w <= b.Max.X; x += strideX {
			window := crop(img, image.Rect(x, y, x+w, y+h))
			d := hammingDistance(dhash(window), want)
			if d <= maxDistance {
				out = append(out, visualCandidate{
					distance: d,
					x:        float64(x) + region.Width/2,
					y:        float64(y) + region.Height/2,
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].distance != out[j].distance {
			return out[i].distance < out[j].distance
		}
		if out[i].y != out[j].y {
			return out[i].y < out[j].y
		}
		return out[i].x < out[j].x
	})
	return out
}

func (s *Surface) screenshotImage(ctx context.Context) (image.Image, error) {
	var buf []byte
	if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, s.classify(ctx, fmt.Errorf("visual capture: %w", err))
	}
	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return img, nil
}

func cropRegion(img image.Image, region schemas.Region) (image.Image, error) {
	r := image.Rect(int(region.X), int(region.Y),
		int(region.X+region.Width), int(region.Y+region.Height))
	if !r.In(img.Bounds()) {
		return nil, fmt.Errorf("region %v outside viewport %v", r, img.Bounds())
	}
	return crop(img, r), nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func crop(img image.Image, r image.Rectangle) image.Image {
	if si, ok := img.(subImager); ok {
		return si.SubImage(r)
	}
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			out.Set(x, y, img.At(r.Min.X+x, r.Min.Y+y))
		}
	}
	return out
}
