package signaturepad

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"testing"
)

func decodeGray(t *testing.T, f *File) image.Image {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(f.Data))
	if err != nil {
		t.Fatalf("decode export: %v", err)
	}
	return img
}

func grayAt(img image.Image, x, y int) uint8 {
	return color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
}

func TestHorizontalStrokeScenario(t *testing.T) {
	p := newConfiguredPad(t, 600, 220, 2, Options{Env: Environment{PointerEvents: true}})
	if w, h := p.BackingSize(); w != 1200 || h != 440 {
		t.Fatalf("backing=%dx%d want 1200x440", w, h)
	}
	stroke(p, 1, [2]float64{50, 110}, [2]float64{550, 110})

	snap, err := p.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	for x := 100; x < 1100; x++ {
		r, g, b, _ := pixel(snap, x, 220)
		if r != g || g != b || r > 20 {
			t.Fatalf("pixel (%d,220)=(%d,%d,%d) want near-black", x, r, g, b)
		}
	}
	for _, pt := range []image.Point{{50, 220}, {1150, 220}, {600, 200}, {600, 240}, {0, 0}} {
		if !isWhite(snap, pt.X, pt.Y) {
			t.Fatalf("pixel %v should be white", pt)
		}
	}

	f, err := p.ExportImage(WithFormat(FormatJPEG), WithQuality(0.92))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if f.Name != "firma.jpg" || f.ContentType != "image/jpeg" {
		t.Fatalf("file=%s %s", f.Name, f.ContentType)
	}
	if f.Width != 1200 || f.Height != 440 {
		t.Fatalf("file size=%dx%d", f.Width, f.Height)
	}
	img := decodeGray(t, f)
	if b := img.Bounds(); b.Dx() != 1200 || b.Dy() != 440 {
		t.Fatalf("decoded bounds=%v", b)
	}
	for _, x := range []int{110, 600, 1090} {
		if v := grayAt(img, x, 220); v > 60 {
			t.Fatalf("decoded (%d,220)=%d want near-black", x, v)
		}
	}
	if v := grayAt(img, 0, 0); v != 255 {
		t.Fatalf("decoded (0,0)=%d want white", v)
	}
}

func TestBlankExportDecodesWhite(t *testing.T) {
	p := newConfiguredPad(t, 300, 120, 2, Options{})
	f, err := p.ExportImage()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	img := decodeGray(t, f)
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if v := grayAt(img, x, y); v != 255 {
				t.Fatalf("pixel (%d,%d)=%d want 255", x, y, v)
			}
		}
	}
}

func TestClearRestoresInitialExport(t *testing.T) {
	fresh := newConfiguredPad(t, 320, 160, 2, Options{})
	want, err := fresh.ExportImage()
	if err != nil {
		t.Fatalf("export fresh: %v", err)
	}

	p := newConfiguredPad(t, 320, 160, 2, Options{RequireActivation: true})
	p.Activate()
	stroke(p, 1, [2]float64{20, 20}, [2]float64{300, 140})
	stroke(p, 2, [2]float64{20, 140}, [2]float64{300, 20})
	p.Clear()
	if p.Activation() != Armed {
		t.Fatalf("clear changed activation to %v", p.Activation())
	}
	got, err := p.ExportImage()
	if err != nil {
		t.Fatalf("export cleared: %v", err)
	}
	if !bytes.Equal(got.Data, want.Data) {
		t.Fatalf("cleared export differs from fresh export")
	}
}

func TestGrayscaleIsIdempotent(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	colors := []color.RGBA{
		{255, 0, 0, 255}, {0, 255, 0, 255}, {0, 0, 255, 255}, {17, 17, 17, 255},
		{200, 100, 50, 128}, {1, 2, 3, 255}, {255, 255, 255, 255}, {90, 180, 45, 0},
	}
	for i, c := range colors {
		img.SetRGBA(i%4, i/4, c)
	}
	Grayscale(img)
	once := append([]byte(nil), img.Pix...)
	for i := 0; i < len(once); i += 4 {
		if once[i] != once[i+1] || once[i+1] != once[i+2] || once[i+3] != 255 {
			t.Fatalf("pixel %d not opaque gray: %v", i/4, once[i:i+4])
		}
	}
	Grayscale(img)
	if !bytes.Equal(once, img.Pix) {
		t.Fatalf("second grayscale pass changed pixels")
	}
	if got := luma(255, 0, 0); got != 76 {
		t.Fatalf("luma(red)=%d want 76", got)
	}
}

func TestFlattenCompositesOverWhite(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 12, 11))
	src.SetRGBA(11, 10, color.RGBA{0, 0, 0, 255})
	flat := Flatten(src)
	if flat.Bounds() != image.Rect(0, 0, 2, 1) {
		t.Fatalf("bounds=%v", flat.Bounds())
	}
	if !isWhite(flat, 0, 0) {
		t.Fatalf("transparent pixel not composited over white")
	}
	if r, _, _, a := pixel(flat, 1, 0); r != 0 || a != 255 {
		t.Fatalf("opaque pixel lost: r=%d a=%d", r, a)
	}
}

func TestRoundTripAtFullQuality(t *testing.T) {
	p := newConfiguredPad(t, 300, 120, 1, Options{})
	stroke(p, 1, [2]float64{20, 60}, [2]float64{150, 30}, [2]float64{280, 90})
	snap, _ := p.Snapshot()
	want := Flatten(snap)
	Grayscale(want)

	f, err := p.ExportImage(WithQuality(1))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	img := decodeGray(t, f)
	b := want.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			w, _, _, _ := pixel(want, x, y)
			g := grayAt(img, x, y)
			diff := int(w) - int(g)
			if diff < 0 {
				diff = -diff
			}
			if diff > 8 {
				t.Fatalf("pixel (%d,%d) source=%d decoded=%d", x, y, w, g)
			}
		}
	}
}

func TestPNGExport(t *testing.T) {
	p := newConfiguredPad(t, 300, 120, 1, Options{})
	f, err := p.ExportImage(WithFormat(FormatPNG))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if f.Name != "firma.png" || f.ContentType != "image/png" {
		t.Fatalf("file=%s %s", f.Name, f.ContentType)
	}
	if !bytes.HasPrefix(f.Data, []byte("\x89PNG")) {
		t.Fatalf("not a png")
	}
}

func TestEncodeFailureIsDistinct(t *testing.T) {
	p := newConfiguredPad(t, 300, 120, 1, Options{})
	boom := errors.New("boom")
	_, err := p.ExportImage(WithEncoder(func(io.Writer, image.Image, Format, float64) error { return boom }))
	if !errors.Is(err, ErrEncodeFailed) {
		t.Fatalf("err=%v want ErrEncodeFailed", err)
	}

	_, err = p.ExportImage(WithEncoder(func(io.Writer, image.Image, Format, float64) error { return nil }))
	if !errors.Is(err, ErrEncodeFailed) {
		t.Fatalf("empty output err=%v want ErrEncodeFailed", err)
	}
}

func TestAsyncExportUsesSnapshotTakenBeforeClear(t *testing.T) {
	p := newConfiguredPad(t, 300, 120, 1, Options{})
	stroke(p, 1, [2]float64{20, 60}, [2]float64{280, 60})

	release := make(chan struct{})
	results := p.ExportImageAsync(WithEncoder(func(w io.Writer, img image.Image, f Format, q float64) error {
		<-release
		return StandardEncoder(w, img, f, q)
	}))
	p.Clear()
	close(release)

	res := <-results
	if res.Err != nil {
		t.Fatalf("async export: %v", res.Err)
	}
	img := decodeGray(t, res.File)
	if v := grayAt(img, 150, 60); v > 60 {
		t.Fatalf("async export saw cleared buffer, (150,60)=%d", v)
	}
	if _, ok := <-results; ok {
		t.Fatalf("expected closed channel after one result")
	}
}

func TestFinalizeRejectsEmptyImage(t *testing.T) {
	if _, err := Finalize(image.NewRGBA(image.Rectangle{})); !errors.Is(err, ErrSurfaceUnavailable) {
		t.Fatalf("err=%v", err)
	}
}
