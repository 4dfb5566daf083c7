// Package render rasterizes PDF documents into per-page PNG images.
package render

import (
	"context"

	"github.com/gen2brain/go-fitz"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/menu-extractor/internal/model"
)

// DefaultDPI is twice the PDF user-space resolution.
const DefaultDPI = 144.0

// Renderer turns a PDF into page images numbered from 1.
type Renderer interface {
	RenderPages(ctx context.Context, pdf []byte) ([]model.PageImage, error)
}

// Fitz renders pages with MuPDF.
type Fitz struct {
	DPI float64
}

// NewFitz returns a MuPDF renderer. A non-positive dpi selects DefaultDPI.
func NewFitz(dpi float64) *Fitz {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Fitz{DPI: dpi}
}

// PageCount returns the number of pages without rasterizing them.
func (f *Fitz) PageCount(pdf []byte) (int, error) {
	doc, err := open(pdf)
	if err != nil {
		return 0, err
	}
	defer doc.Close() //nolint:errcheck
	return doc.NumPage(), nil
}

// RenderPages rasterizes every page in order.
func (f *Fitz) RenderPages(ctx context.Context, pdf []byte) ([]model.PageImage, error) {
	doc, err := open(pdf)
	if err != nil {
		return nil, err
	}
	defer doc.Close() //nolint:errcheck

	n := doc.NumPage()
	if n == 0 {
		return nil, eris.New("render: document has no pages")
	}

	pages := make([]model.PageImage, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "render: cancelled")
		}
		png, err := doc.ImagePNG(i, f.DPI)
		if err != nil {
			return nil, eris.Wrapf(err, "render: page %d", i+1)
		}
		pages = append(pages, model.PageImage{PageNumber: i + 1, PNG: png})
	}

	zap.L().Debug("rendered document",
		zap.Int("pages", n),
		zap.Float64("dpi", f.DPI),
	)
	return pages, nil
}

func open(pdf []byte) (*fitz.Document, error) {
	if len(pdf) == 0 {
		return nil, eris.New("render: empty document")
	}
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, eris.Wrap(err, "render: open document")
	}
	return doc, nil
}
