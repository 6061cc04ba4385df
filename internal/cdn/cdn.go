// Package cdn builds delivery URLs for stored image assets. BuildURL is a
// pure function over its inputs: no network or storage access, so the same
// options always produce the same URL.
package cdn

import (
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Variant names with preset widths.
const (
	VariantTiny   = "tiny"
	VariantThumb  = "thumb"
	VariantDetail = "detail"
	VariantFull   = "full"
	VariantRaw    = "raw"
)

// Shape names.
const (
	ShapeCard     = "card"
	ShapeSquare   = "square"
	ShapeOriginal = "original"
)

// Trading cards are 88mm tall by 63mm wide; derived heights follow that ratio.
const (
	cardRatioHeight = 88.0
	cardRatioWidth  = 63.0
)

var variantWidths = map[string]int{
	VariantTiny:   120,
	VariantThumb:  320,
	VariantDetail: 768,
	VariantFull:   1280,
}

var variantQuality = map[string]int{
	VariantTiny:   60,
	VariantThumb:  70,
	VariantDetail: 80,
	VariantFull:   85,
}

const defaultQuality = 80

// Options select the delivered rendition of an asset. Zero values mean
// "derive a default".
type Options struct {
	Variant string
	Shape   string
	Fit     string
	Width   int
	Height  int
	Quality int
	Bucket  string
}

// Builder constructs delivery URLs under a fixed public base URL.
type Builder struct {
	baseURL string
}

// New creates a builder serving assets under baseURL.
func New(baseURL string) *Builder {
	return &Builder{baseURL: strings.TrimRight(baseURL, "/")}
}

// BuildURL returns the delivery URL for a storage path under the given
// options. variant=raw, or shape=original without explicit dimensions, yields
// the untransformed base asset URL with no transform parameters, which is the
// most CDN-cache-friendly form.
func (b *Builder) BuildURL(storagePath string, opts Options) string {
	base := b.assetURL(storagePath, opts.Bucket)

	if opts.Variant == VariantRaw {
		return base
	}
	if opts.Shape == ShapeOriginal && opts.Width == 0 && opts.Height == 0 {
		return base
	}

	width := opts.Width
	if width == 0 {
		width = variantWidths[opts.Variant]
	}

	height := opts.Height
	if height == 0 && width > 0 {
		switch opts.Shape {
		case ShapeCard:
			height = int(math.Round(float64(width) * cardRatioHeight / cardRatioWidth))
		case ShapeSquare:
			height = width
		}
	}

	fit := opts.Fit
	if fit == "" {
		if opts.Shape == ShapeSquare {
			fit = "contain"
		} else {
			fit = "cover"
		}
	}

	quality := opts.Quality
	if quality == 0 {
		if q, ok := variantQuality[opts.Variant]; ok {
			quality = q
		} else {
			quality = defaultQuality
		}
	}

	params := url.Values{}
	if width > 0 {
		params.Set("w", strconv.Itoa(width))
	}
	if height > 0 {
		params.Set("h", strconv.Itoa(height))
	}
	params.Set("fit", fit)
	params.Set("q", strconv.Itoa(quality))

	return base + "?" + params.Encode()
}

func (b *Builder) assetURL(storagePath, bucket string) string {
	parts := []string{b.baseURL}
	if bucket != "" {
		parts = append(parts, bucket)
	}
	parts = append(parts, strings.TrimLeft(storagePath, "/"))
	return strings.Join(parts, "/")
}
