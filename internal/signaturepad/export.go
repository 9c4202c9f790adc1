package signaturepad

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/draw"
)

const (
	DefaultQuality  = 0.92
	DefaultFileName = "firma.jpg"
)

var ErrEncodeFailed = errors.New("signature encode failed")

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

func (f Format) contentType() string {
	if f == FormatPNG {
		return "image/png"
	}
	return "image/jpeg"
}

// File is a finished signature image ready for upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
	Width       int
	Height      int
}

func (f *File) Reader() io.Reader { return bytes.NewReader(f.Data) }

// Encoder writes img in the requested format. quality is in (0, 1].
type Encoder func(w io.Writer, img image.Image, format Format, quality float64) error

type ExportOptions struct {
	Format   Format
	Quality  float64
	FileName string
	Encoder  Encoder
}

type ExportOption func(*ExportOptions)

func WithFormat(f Format) ExportOption {
	return func(o *ExportOptions) { o.Format = f }
}

func WithQuality(q float64) ExportOption {
	return func(o *ExportOptions) { o.Quality = q }
}

func WithFileName(name string) ExportOption {
	return func(o *ExportOptions) { o.FileName = name }
}

func WithEncoder(enc Encoder) ExportOption {
	return func(o *ExportOptions) { o.Encoder = enc }
}

func resolveExportOptions(base Encoder, opts []ExportOption) ExportOptions {
	o := ExportOptions{Format: FormatJPEG, Quality: DefaultQuality, Encoder: base}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Format != FormatPNG {
		o.Format = FormatJPEG
	}
	if o.Quality <= 0 || o.Quality > 1 || math.IsNaN(o.Quality) {
		o.Quality = DefaultQuality
	}
	if o.FileName == "" {
		o.FileName = DefaultFileName
		if o.Format == FormatPNG {
			o.FileName = "firma.png"
		}
	}
	if o.Encoder == nil {
		o.Encoder = StandardEncoder
	}
	return o
}

// StandardEncoder encodes with image/jpeg and image/png. Gray images produce a
// single channel JPEG.
func StandardEncoder(w io.Writer, img image.Image, format Format, quality float64) error {
	if format == FormatPNG {
		return png.Encode(w, img)
	}
	q := int(math.Round(quality * 100))
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: q})
}

// Flatten draws src over an opaque white buffer of the same size.
func Flatten(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(paperColor), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

// Grayscale replaces every pixel with its luma (0.299R + 0.587G + 0.114B) and
// makes it opaque. Applying it to already gray data changes nothing.
func Grayscale(img *image.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for i := 0; i+3 < len(row); i += 4 {
			l := luma(row[i], row[i+1], row[i+2])
			row[i+0] = l
			row[i+1] = l
			row[i+2] = l
			row[i+3] = 0xff
		}
	}
}

func luma(r, g, b uint8) uint8 {
	return uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b) + 500) / 1000)
}

func toGray(img *image.RGBA) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		dst := out.Pix[out.PixOffset(0, y):]
		for x := 0; x < b.Dx(); x++ {
			dst[x] = src[x*4]
		}
	}
	return out
}

// Finalize runs the submit-time pipeline on src: white background, grayscale,
// encode.
func Finalize(src image.Image, opts ...ExportOption) (*File, error) {
	return finalize(src, resolveExportOptions(nil, opts))
}

func finalize(src image.Image, o ExportOptions) (*File, error) {
	if src == nil || src.Bounds().Empty() {
		return nil, ErrSurfaceUnavailable
	}
	flat := Flatten(src)
	Grayscale(flat)

	var encoded image.Image = flat
	if o.Format == FormatJPEG {
		encoded = toGray(flat)
	}
	var buf bytes.Buffer
	if err := o.Encoder(&buf, encoded, o.Format, o.Quality); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("%w: empty output", ErrEncodeFailed)
	}
	b := flat.Bounds()
	return &File{
		Name:        o.FileName,
		ContentType: o.Format.contentType(),
		Data:        buf.Bytes(),
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}

func pngDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
