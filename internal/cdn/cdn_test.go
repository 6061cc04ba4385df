package cdn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const testPath = "ab/cd/abcdhash"

func TestBuildURLRawIsUntransformed(t *testing.T) {
	b := New("https://cdn.cardex.test/")

	url := b.BuildURL(testPath, Options{Variant: VariantRaw})
	assert.Equal(t, "https://cdn.cardex.test/ab/cd/abcdhash", url)

	// Explicit dimensions are ignored for raw.
	url = b.BuildURL(testPath, Options{Variant: VariantRaw, Width: 320})
	assert.Equal(t, "https://cdn.cardex.test/ab/cd/abcdhash", url)
}

func TestBuildURLOriginalShapeWithoutDims(t *testing.T) {
	b := New("https://cdn.cardex.test")

	url := b.BuildURL(testPath, Options{Shape: ShapeOriginal})
	assert.Equal(t, "https://cdn.cardex.test/ab/cd/abcdhash", url)
}

func TestBuildURLOriginalShapeWithExplicitWidth(t *testing.T) {
	b := New("https://cdn.cardex.test")

	url := b.BuildURL(testPath, Options{Shape: ShapeOriginal, Width: 500})
	assert.Contains(t, url, "w=500")
	assert.NotContains(t, url, "h=")
	assert.Contains(t, url, "fit=cover")
}

func TestBuildURLVariantPresetWidths(t *testing.T) {
	b := New("https://cdn.cardex.test")

	tests := []struct {
		variant string
		width   string
		quality string
	}{
		{VariantTiny, "w=120", "q=60"},
		{VariantThumb, "w=320", "q=70"},
		{VariantDetail, "w=768", "q=80"},
		{VariantFull, "w=1280", "q=85"},
	}
	for _, tt := range tests {
		url := b.BuildURL(testPath, Options{Variant: tt.variant})
		assert.Contains(t, url, tt.width, tt.variant)
		assert.Contains(t, url, tt.quality, tt.variant)
	}
}

func TestBuildURLCardShapeRatio(t *testing.T) {
	b := New("https://cdn.cardex.test")

	// 88:63 ratio: 320 * 88/63 = 446.98 -> 447.
	url := b.BuildURL(testPath, Options{Variant: VariantThumb, Shape: ShapeCard})
	assert.Contains(t, url, "w=320")
	assert.Contains(t, url, "h=447")
	assert.Contains(t, url, "fit=cover")

	// 200 * 88/63 = 279.4 -> 279.
	url = b.BuildURL(testPath, Options{Shape: ShapeCard, Width: 200})
	assert.Contains(t, url, "h=279")
}

func TestBuildURLCardShapeExplicitHeightWins(t *testing.T) {
	b := New("https://cdn.cardex.test")

	url := b.BuildURL(testPath, Options{Shape: ShapeCard, Width: 320, Height: 100})
	assert.Contains(t, url, "h=100")
}

func TestBuildURLSquareShape(t *testing.T) {
	b := New("https://cdn.cardex.test")

	url := b.BuildURL(testPath, Options{Variant: VariantThumb, Shape: ShapeSquare})
	assert.Contains(t, url, "w=320")
	assert.Contains(t, url, "h=320")
	assert.Contains(t, url, "fit=contain")
}

func TestBuildURLFitOverride(t *testing.T) {
	b := New("https://cdn.cardex.test")

	url := b.BuildURL(testPath, Options{Variant: VariantThumb, Shape: ShapeSquare, Fit: "cover"})
	assert.Contains(t, url, "fit=cover")
}

func TestBuildURLQualityOverride(t *testing.T) {
	b := New("https://cdn.cardex.test")

	url := b.BuildURL(testPath, Options{Variant: VariantThumb, Quality: 42})
	assert.Contains(t, url, "q=42")
}

func TestBuildURLBucket(t *testing.T) {
	b := New("https://cdn.cardex.test")

	url := b.BuildURL(testPath, Options{Variant: VariantRaw, Bucket: "cards"})
	assert.Equal(t, "https://cdn.cardex.test/cards/ab/cd/abcdhash", url)
}

func TestBuildURLDeterministic(t *testing.T) {
	b := New("https://cdn.cardex.test")
	opts := Options{Variant: VariantDetail, Shape: ShapeCard}

	assert.Equal(t, b.BuildURL(testPath, opts), b.BuildURL(testPath, opts))
}
