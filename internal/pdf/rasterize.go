package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"

	"github.com/gen2brain/go-fitz"
)

const jpegQuality = 95

// Rasterizer renders a PDF into one JPEG per page, in page order. A nil
// entry marks a page whose render failed; only opening the document at all
// is fatal.
type Rasterizer interface {
	Render(ctx context.Context, path string, dpi int) ([][]byte, error)
}

// FitzRasterizer renders pages through MuPDF.
type FitzRasterizer struct {
	log *slog.Logger
}

func NewFitzRasterizer(log *slog.Logger) *FitzRasterizer {
	if log == nil {
		log = slog.Default()
	}
	return &FitzRasterizer{log: log}
}

func (r *FitzRasterizer) Render(ctx context.Context, path string, dpi int) ([][]byte, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer func() {
		if err := doc.Close(); err != nil {
			r.log.Warn("pdf.close.failed", "path", path, "error", err)
		}
	}()

	if dpi <= 0 {
		dpi = 300
	}

	pages := make([][]byte, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.ImageDPI(i, float64(dpi))
		if err != nil {
			r.log.Warn("pdf.render.failed", "path", path, "page", i+1, "error", err)
			continue
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			r.log.Warn("pdf.encode.failed", "path", path, "page", i+1, "error", err)
			continue
		}
		pages[i] = buf.Bytes()
	}
	return pages, nil
}
