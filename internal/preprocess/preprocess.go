// Package preprocess decodes uploaded images and re-encodes them into a
// size-bounded JPEG suitable for sending to a vision provider.
package preprocess

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	// registered decoders for accepted inputs
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kdduha/eyeris/internal/apperrors"
)

const ContentTypeJPEG = "image/jpeg"

// Constraints bound the prepared output and the accepted input.
type Constraints struct {
	MaxInputBytes int64
	MaxPixels     int
	MaxDimension  int
	PayloadBudget int
	Quality       int
	MinQuality    int
	QualityStep   int
}

// PreparedImage is owned by a single in-flight request.
type PreparedImage struct {
	Data         []byte
	ContentType  string
	Width        int
	Height       int
	Quality      int
	SourceFormat string
	SourceWidth  int
	SourceHeight int
}

func (p *PreparedImage) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Data)
}

func (p *PreparedImage) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", p.ContentType, p.Base64())
}

// Prepare decodes raw, downsizes it so the longest side fits MaxDimension
// and encodes it as JPEG at the highest quality that fits PayloadBudget.
func Prepare(raw []byte, c Constraints) (prepared *PreparedImage, err error) {
	defer func() {
		if r := recover(); r != nil {
			prepared = nil
			err = apperrors.Decode(fmt.Errorf("decoder panic: %v", r))
		}
	}()

	if len(raw) == 0 {
		return nil, apperrors.Decode(errors.New("empty image"))
	}
	if c.MaxInputBytes > 0 && int64(len(raw)) > c.MaxInputBytes {
		return nil, apperrors.PayloadTooLarge(fmt.Sprintf("image is %d bytes, limit is %d", len(raw), c.MaxInputBytes))
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, apperrors.Decode(err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, apperrors.Decode(fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height))
	}
	if c.MaxPixels > 0 && cfg.Width*cfg.Height > c.MaxPixels {
		return nil, apperrors.PayloadTooLarge(fmt.Sprintf("image is %dx%d pixels, limit is %d", cfg.Width, cfg.Height, c.MaxPixels))
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, apperrors.Decode(err)
	}
	if format == "jpeg" {
		src = orient(src, exifOrientation(raw))
	}

	sb := src.Bounds()
	w, h := fitWithin(sb.Dx(), sb.Dy(), c.MaxDimension)
	canvas := render(src, w, h)

	var buf bytes.Buffer
	for _, q := range qualities(c) {
		buf.Reset()
		if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: q}); err != nil {
			return nil, apperrors.Internal("jpeg encoding failed", err)
		}
		if c.PayloadBudget <= 0 || buf.Len() <= c.PayloadBudget {
			return &PreparedImage{
				Data:         bytes.Clone(buf.Bytes()),
				ContentType:  ContentTypeJPEG,
				Width:        w,
				Height:       h,
				Quality:      q,
				SourceFormat: format,
				SourceWidth:  sb.Dx(),
				SourceHeight: sb.Dy(),
			}, nil
		}
	}

	return nil, apperrors.PayloadTooLarge(fmt.Sprintf(
		"encoded image is %d bytes at minimum quality %d, budget is %d", buf.Len(), c.MinQuality, c.PayloadBudget))
}

// fitWithin scales w x h down so the longest side is at most maxDim.
func fitWithin(w, h, maxDim int) (int, int) {
	longest := max(w, h)
	if maxDim <= 0 || longest <= maxDim {
		return w, h
	}
	scale := float64(maxDim) / float64(longest)
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))
	return min(nw, maxDim), min(nh, maxDim)
}

// render draws src onto an opaque white canvas of w x h, resampling with
// Catmull-Rom when the size changes. JPEG has no alpha channel.
func render(src image.Image, w, h int) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	sb := src.Bounds()
	if sb.Dx() == w && sb.Dy() == h {
		draw.Draw(canvas, canvas.Bounds(), src, sb.Min, draw.Over)
		return canvas
	}
	draw.CatmullRom.Scale(canvas, canvas.Bounds(), src, sb, draw.Over, nil)
	return canvas
}

func qualities(c Constraints) []int {
	start, floor, step := c.Quality, c.MinQuality, c.QualityStep
	if start <= 0 || start > 100 {
		start = 85
	}
	if floor <= 0 || floor > start {
		floor = start
	}
	if step <= 0 {
		step = 10
	}

	var out []int
	for q := start; q > floor; q -= step {
		out = append(out, q)
	}
	return append(out, floor)
}
