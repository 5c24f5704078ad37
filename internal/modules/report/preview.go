package report

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"os"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

const (
	cellSize   = 14
	labelSpace = 120
)

// LoadFontFace reads a TTF for preview labels; an empty path selects the
// built-in bitmap face.
func LoadFontFace(fontPath string, size float64) (font.Face, error) {
	if fontPath == "" {
		return basicfont.Face7x13, nil
	}
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read font file: %w", err)
	}
	parsedFont, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TTF: %w", err)
	}
	return truetype.NewFace(parsedFont, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}), nil
}

// HeatmapPNG draws regressors as columns and scans as rows.
func HeatmapPNG(dm *DesignMatrix, face font.Face) ([]byte, error) {
	lo, hi := bounds(dm.Rows)
	rows := len(dm.Rows)
	cellH := math.Max(1, math.Min(cellSize, 600/math.Max(1, float64(rows))))
	w := labelSpace + cellSize*len(dm.Columns) + 10
	h := labelSpace + int(math.Ceil(cellH*float64(rows))) + 10

	dc := gg.NewContext(w, h)
	dc.SetColor(color.White)
	dc.Clear()
	for s, row := range dm.Rows {
		for c, v := range row {
			dc.SetColor(ramp(v, lo, hi))
			dc.DrawRectangle(float64(labelSpace+c*cellSize), float64(labelSpace)+float64(s)*cellH, cellSize, cellH)
			dc.Fill()
		}
	}
	drawColumnLabels(dc, face, dm.Columns)
	return encode(dc)
}

// CorrelationPNG draws a square matrix coloured from -1 (blue) to 1 (red).
func CorrelationPNG(columns []string, corr [][]float64, face font.Face) ([]byte, error) {
	n := len(columns)
	size := labelSpace + cellSize*n + 10
	dc := gg.NewContext(size, size)
	dc.SetColor(color.White)
	dc.Clear()
	for i := range corr {
		for j, r := range corr[i] {
			dc.SetColor(diverging(r))
			dc.DrawRectangle(float64(labelSpace+j*cellSize), float64(labelSpace+i*cellSize), cellSize, cellSize)
			dc.Fill()
		}
	}
	drawColumnLabels(dc, face, columns)
	dc.SetFontFace(face)
	dc.SetColor(color.Black)
	for i, name := range columns {
		dc.DrawStringAnchored(truncate(name), labelSpace-4, float64(labelSpace+i*cellSize)+cellSize/2, 1, 0.5)
	}
	return encode(dc)
}

func drawColumnLabels(dc *gg.Context, face font.Face, columns []string) {
	dc.SetFontFace(face)
	dc.SetColor(color.Black)
	for c, name := range columns {
		dc.Push()
		x := float64(labelSpace+c*cellSize) + cellSize/2
		dc.RotateAbout(gg.Radians(-90), x, labelSpace-4)
		dc.DrawStringAnchored(truncate(name), x, labelSpace-4, 0, 0.5)
		dc.Pop()
	}
}

func truncate(s string) string {
	if len(s) > 16 {
		return s[:15] + "~"
	}
	return s
}

func encode(dc *gg.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func bounds(rows [][]float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, row := range rows {
		for _, v := range row {
			if math.IsNaN(v) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if math.IsInf(lo, 1) {
		return 0, 1
	}
	return lo, hi
}

// ramp maps v onto a dark-blue to yellow scale; NaN is light grey.
func ramp(v, lo, hi float64) color.Color {
	if math.IsNaN(v) {
		return color.RGBA{R: 220, G: 220, B: 220, A: 255}
	}
	t := 0.5
	if hi > lo {
		t = (v - lo) / (hi - lo)
	}
	return color.RGBA{
		R: uint8(68 + t*(253-68)),
		G: uint8(1 + t*(231-1)),
		B: uint8(84 + t*(37-84)),
		A: 255,
	}
}

func diverging(r float64) color.Color {
	if math.IsNaN(r) {
		return color.RGBA{R: 220, G: 220, B: 220, A: 255}
	}
	r = math.Max(-1, math.Min(1, r))
	if r >= 0 {
		return color.RGBA{R: 255, G: uint8(255 * (1 - r)), B: uint8(255 * (1 - r)), A: 255}
	}
	return color.RGBA{R: uint8(255 * (1 + r)), G: uint8(255 * (1 + r)), B: 255, A: 255}
}
