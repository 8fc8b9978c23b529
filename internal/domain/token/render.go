package token

import (
	"fmt"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// RenderOptions controls QR rendering. The token bytes are never altered;
// rendering is a presentation concern only.
type RenderOptions struct {
	// Size is the image edge length in pixels for PNG output, or the
	// viewBox edge for SVG. Defaults to 256.
	Size int

	// ModuleSize is the SVG rect edge per QR module. Defaults to 4.
	ModuleSize int
}

func (o RenderOptions) size() int {
	if o.Size <= 0 {
		return 256
	}
	return o.Size
}

func (o RenderOptions) moduleSize() int {
	if o.ModuleSize <= 0 {
		return 4
	}
	return o.ModuleSize
}

// RenderPNG renders the signed token as a PNG QR image.
func RenderPNG(tok string, opts RenderOptions) ([]byte, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidPayload)
	}
	png, err := qrcode.Encode(tok, qrcode.Medium, opts.size())
	if err != nil {
		return nil, fmt.Errorf("render qr png: %w", err)
	}
	return png, nil
}

// RenderSVG renders the signed token as SVG markup derived from the same QR
// bitmap as the PNG renderer.
func RenderSVG(tok string, opts RenderOptions) (string, error) {
	if tok == "" {
		return "", fmt.Errorf("%w: empty token", ErrInvalidPayload)
	}
	qr, err := qrcode.New(tok, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("render qr svg: %w", err)
	}

	bitmap := qr.Bitmap()
	mod := opts.moduleSize()
	edge := len(bitmap) * mod

	var b strings.Builder
	fmt.Fprintf(&b,
		`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" shape-rendering="crispEdges">`,
		edge, edge)
	fmt.Fprintf(&b, `<rect width="%d" height="%d" fill="#ffffff"/>`, edge, edge)
	for y, row := range bitmap {
		for x, dark := range row {
			if dark {
				fmt.Fprintf(&b, `<rect x="%d" y="%d" width="%d" height="%d" fill="#000000"/>`,
					x*mod, y*mod, mod, mod)
			}
		}
	}
	b.WriteString(`</svg>`)
	return b.String(), nil
}
