package certificate

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"os"
	"strings"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"skillquiz-service/internal/domain"
)

const (
	width  = 1200
	height = 850
)

var (
	background = color.NRGBA{R: 0xFB, G: 0xF8, B: 0xF1, A: 0xFF}
	accent     = color.NRGBA{R: 0x1F, G: 0x4E, B: 0x79, A: 0xFF}
	ink        = color.NRGBA{R: 0x22, G: 0x22, B: 0x22, A: 0xFF}
)

// Renderer draws completion certificates as PNG images.
type Renderer struct {
	// truetype faces keep a glyph cache and are not safe for concurrent use
	mu    sync.Mutex
	title font.Face
	large font.Face
	body  font.Face
}

// NewRenderer loads a TrueType font from fontPath, or the bundled Go font when empty.
func NewRenderer(fontPath string) (*Renderer, error) {
	raw := goregular.TTF
	if strings.TrimSpace(fontPath) != "" {
		b, err := os.ReadFile(fontPath)
		if err != nil {
			return nil, fmt.Errorf("read certificate font: %w", err)
		}
		raw = b
	}
	parsed, err := truetype.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse certificate font: %w", err)
	}
	face := func(size float64) font.Face {
		return truetype.NewFace(parsed, &truetype.Options{Size: size, DPI: 72, Hinting: font.HintingNone})
	}
	return &Renderer{
		title: face(56),
		large: face(44),
		body:  face(26),
	}, nil
}

// Render produces the certificate PNG for a completed result.
func (r *Renderer) Render(ctx context.Context, req domain.CertificateRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.UserName)
	if name == "" {
		return nil, fmt.Errorf("%w: certificate needs a user name", domain.ErrProfileRequired)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dc := gg.NewContext(width, height)
	dc.SetColor(background)
	dc.Clear()

	dc.SetColor(accent)
	dc.SetLineWidth(12)
	dc.DrawRectangle(30, 30, width-60, height-60)
	dc.Stroke()
	dc.SetLineWidth(2)
	dc.DrawRectangle(56, 56, width-112, height-112)
	dc.Stroke()

	cx := float64(width) / 2

	dc.SetFontFace(r.title)
	dc.DrawStringAnchored("Certificate of Completion", cx, 190, 0.5, 0.5)

	dc.SetColor(ink)
	dc.SetFontFace(r.body)
	dc.DrawStringAnchored("This certifies that", cx, 300, 0.5, 0.5)

	dc.SetColor(accent)
	dc.SetFontFace(r.large)
	dc.DrawStringAnchored(name, cx, 380, 0.5, 0.5)
	dc.DrawLine(cx-300, 415, cx+300, 415)
	dc.Stroke()

	dc.SetColor(ink)
	dc.SetFontFace(r.body)
	dc.DrawStringAnchored(fmt.Sprintf("has completed the %s skill assessment", req.Subject), cx, 480, 0.5, 0.5)

	dc.SetFontFace(r.large)
	dc.DrawStringAnchored(fmt.Sprintf("Score: %d%%", req.Score), cx, 580, 0.5, 0.5)

	dc.SetFontFace(r.body)
	dc.DrawStringAnchored(req.Date.Format("January 2, 2006"), cx, 700, 0.5, 0.5)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode certificate png: %w", err)
	}
	return buf.Bytes(), nil
}

// FileName is the download name for a certificate.
func FileName(req domain.CertificateRequest) string {
	subject := strings.ToLower(strings.Join(strings.Fields(req.Subject), "-"))
	if subject == "" {
		subject = "quiz"
	}
	return fmt.Sprintf("%s-certificate-%s.png", subject, req.Date.Format("2006-01-02"))
}
