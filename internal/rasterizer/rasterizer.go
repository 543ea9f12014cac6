// Package rasterizer converts PDFs and images into a short, ordered list of
// grayscale, downscaled JPEG pages suitable for a vision model.
package rasterizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"math"
	"os"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
)

// Sentinel errors for rasterization.
var (
	ErrUnsupportedFormat   = errors.New("unsupported document format")
	ErrRasterizationFailed = errors.New("rasterization produced no pages")
)

// Kind is the declared type of the input document.
type Kind string

const (
	KindPDF   Kind = "pdf"
	KindImage Kind = "image"
	// KindAuto sniffs the content.
	KindAuto Kind = "auto"
)

// Options tunes output size and cost.
type Options struct {
	MaxPages   int     // pages beyond this are dropped
	DPI        int     // PDF render resolution
	ImageScale float64 // linear scale applied to image inputs
	Quality    int     // JPEG quality 1-100
}

// DefaultOptions renders at ~75 DPI (a quarter of print resolution), keeps
// four pages and encodes at quality 65.
func DefaultOptions() Options {
	return Options{MaxPages: 4, DPI: 75, ImageScale: 0.3, Quality: 65}
}

// Page is one normalized raster page.
type Page struct {
	Index  int    `json:"index"` // zero-based page number in the source
	Data   []byte `json:"-"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Name returns a lexically sortable file name for the page.
func (p Page) Name() string {
	return fmt.Sprintf("page_%03d.jpg", p.Index+1)
}

// PageRenderer renders single PDF pages to encoded images.
type PageRenderer interface {
	PageCount(ctx context.Context, pdfPath string) (int, error)
	RenderPage(ctx context.Context, pdfPath string, page, dpi int) ([]byte, error)
}

// Fetcher downloads source documents.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Rasterizer turns documents into normalized pages.
type Rasterizer struct {
	opts     Options
	renderer PageRenderer
	fetcher  Fetcher
	log      zerolog.Logger
}

// New creates a Rasterizer.
func New(opts Options, renderer PageRenderer, fetcher Fetcher, log zerolog.Logger) *Rasterizer {
	def := DefaultOptions()
	if opts.MaxPages <= 0 {
		opts.MaxPages = def.MaxPages
	}
	if opts.DPI <= 0 {
		opts.DPI = def.DPI
	}
	if opts.ImageScale <= 0 || opts.ImageScale > 1 {
		opts.ImageScale = def.ImageScale
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = def.Quality
	}
	return &Rasterizer{
		opts:     opts,
		renderer: renderer,
		fetcher:  fetcher,
		log:      log.With().Str("component", "rasterizer").Logger(),
	}
}

// RasterizeURL downloads a document and rasterizes it. Download errors are
// returned as-is so callers can classify them.
func (r *Rasterizer) RasterizeURL(ctx context.Context, rawURL string, kind Kind) ([]Page, error) {
	data, err := r.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return r.Rasterize(ctx, data, kind)
}

// Rasterize converts data into at most MaxPages normalized pages, in source order.
func (r *Rasterizer) Rasterize(ctx context.Context, data []byte, kind Kind) ([]Page, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrUnsupportedFormat)
	}

	detected := DetectKind(data)
	if kind == KindAuto || kind == "" {
		kind = detected
	}
	if kind != detected {
		return nil, fmt.Errorf("%w: declared %s, got %s", ErrUnsupportedFormat, kind, mimetype.Detect(data).String())
	}

	switch kind {
	case KindPDF:
		return r.rasterizePDF(ctx, data)
	case KindImage:
		img, err := decodeImage(data)
		if err != nil {
			return nil, err
		}
		page, err := r.normalize(img, r.opts.ImageScale, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRasterizationFailed, err)
		}
		return []Page{page}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimetype.Detect(data).String())
	}
}

func (r *Rasterizer) rasterizePDF(ctx context.Context, data []byte) ([]Page, error) {
	tmp, err := os.CreateTemp("", "rasterize-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp pdf: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp pdf: %w", err)
	}

	total, err := r.renderer.PageCount(ctx, tmp.Name())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	n := total
	if n > r.opts.MaxPages {
		r.log.Debug().Int("total", total).Int("kept", r.opts.MaxPages).Msg("Dropping pages beyond cap")
		n = r.opts.MaxPages
	}

	pages := make([]Page, 0, n)
	for p := 1; p <= n; p++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		encoded, err := r.renderer.RenderPage(ctx, tmp.Name(), p, r.opts.DPI)
		if err != nil {
			r.log.Warn().Err(err).Int("page", p).Msg("Page render failed, skipping")
			continue
		}
		img, err := decodeImage(encoded)
		if err != nil {
			r.log.Warn().Err(err).Int("page", p).Msg("Rendered page unreadable, skipping")
			continue
		}
		page, err := r.normalize(img, 1, p-1)
		if err != nil {
			r.log.Warn().Err(err).Int("page", p).Msg("Page normalization failed, skipping")
			continue
		}
		pages = append(pages, page)
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: 0 of %d pages rendered", ErrRasterizationFailed, n)
	}
	return pages, nil
}

// normalize scales, converts to grayscale by RGB averaging and re-encodes as JPEG.
func (r *Rasterizer) normalize(img image.Image, scale float64, index int) (Page, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return Page{}, errors.New("empty image")
	}

	if scale < 1 {
		nw := int(math.Max(1, math.Round(float64(w)*scale)))
		nh := int(math.Max(1, math.Round(float64(h)*scale)))
		img = imaging.Resize(img, nw, nh, imaging.Lanczos)
	}

	gray := imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		avg := uint8((uint16(c.R) + uint16(c.G) + uint16(c.B)) / 3)
		return color.NRGBA{R: avg, G: avg, B: avg, A: c.A}
	})

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, gray, imaging.JPEG, imaging.JPEGQuality(r.opts.Quality)); err != nil {
		return Page{}, fmt.Errorf("encode jpeg: %w", err)
	}

	gb := gray.Bounds()
	return Page{Index: index, Data: buf.Bytes(), Width: gb.Dx(), Height: gb.Dy()}, nil
}

// DetectKind sniffs whether data is a PDF, a supported image, or neither.
func DetectKind(data []byte) Kind {
	mt := mimetype.Detect(data)
	switch {
	case mt.Is("application/pdf"):
		return KindPDF
	case mt.Is("image/png"), mt.Is("image/jpeg"), mt.Is("image/gif"), mt.Is("image/webp"):
		return KindImage
	}
	return ""
}

func decodeImage(data []byte) (image.Image, error) {
	var (
		img image.Image
		err error
	)
	if mimetype.Detect(data).Is("image/webp") {
		img, err = webp.Decode(bytes.NewReader(data))
	} else {
		img, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return img, nil
}
