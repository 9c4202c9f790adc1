package apiapp

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/phillip-england/fieldsuite/internal/evidence"
	"github.com/phillip-england/fieldsuite/internal/signaturepad"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

const (
	maxPhotoEdge     = 2048
	photoJPEGQuality = 85
	maxImagePixels   = 40_000_000
)

var (
	imageMimes    = []string{"image/png", "image/jpeg", "image/webp"}
	documentMimes = []string{"application/pdf", "image/png", "image/jpeg", "image/webp"}
	// data URLs from the pad are PNG while drawing and JPEG once finalised
	signatureMimes = []string{"image/png", "image/jpeg"}
)

type uploadedFile struct {
	data     []byte
	mime     string
	fileName string
}

func allowedMimesFor(evidenceTypeID int64) []string {
	switch evidenceTypeID {
	case evidence.TypePhoto:
		return imageMimes
	case evidence.TypeSignature:
		return signatureMimes
	default:
		return documentMimes
	}
}

func mimeAllowed(allowedMimes []string, mime string) bool {
	if len(allowedMimes) == 0 {
		return true
	}
	for _, allowed := range allowedMimes {
		if strings.EqualFold(strings.TrimSpace(allowed), mime) {
			return true
		}
	}
	return false
}

// parseUploadedFileWithField expects ParseMultipartForm to have run already.
func parseUploadedFileWithField(r *http.Request, fieldName string, maxBytes int64, allowedMimes []string, requiredMessage string) (*uploadedFile, error) {
	file, header, err := r.FormFile(fieldName)
	if err != nil {
		return nil, errors.New(requiredMessage)
	}
	defer file.Close()
	raw, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, errors.New("unable to read uploaded file")
	}
	if len(raw) == 0 {
		return nil, errors.New("uploaded file is empty")
	}
	if int64(len(raw)) > maxBytes {
		return nil, errors.New("uploaded file exceeds max size")
	}
	detected := http.DetectContentType(raw)
	if !mimeAllowed(allowedMimes, detected) {
		return nil, errors.New("unsupported file type")
	}
	fileName := filepath.Base(strings.TrimSpace(header.Filename))
	if fileName == "" || fileName == "." || fileName == "/" {
		fileName = fieldName + extensionFor(detected)
	}
	return &uploadedFile{data: raw, mime: detected, fileName: fileName}, nil
}

func parseDataURLBinary(value string, allowedMimes []string, maxBytes int64) ([]byte, string, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return nil, "", errors.New("empty data url")
	}
	if !strings.HasPrefix(raw, "data:") {
		return nil, "", errors.New("invalid data url prefix")
	}
	meta, payload, ok := strings.Cut(raw[len("data:"):], ",")
	if !ok || meta == "" {
		return nil, "", errors.New("invalid data url payload")
	}
	if !strings.HasSuffix(strings.ToLower(meta), ";base64") {
		return nil, "", errors.New("data url must be base64")
	}
	mime := strings.TrimSpace(meta[:len(meta)-len(";base64")])
	if mime == "" {
		return nil, "", errors.New("missing data url mime type")
	}
	if !mimeAllowed(allowedMimes, mime) {
		return nil, "", errors.New("unsupported data url mime type")
	}
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", errors.New("unable to decode data url")
	}
	if len(decoded) == 0 {
		return nil, "", errors.New("empty data url content")
	}
	if maxBytes > 0 && int64(len(decoded)) > maxBytes {
		return nil, "", errors.New("data url exceeds max size")
	}
	detected := http.DetectContentType(decoded)
	if !strings.EqualFold(detected, mime) {
		return nil, "", errors.New("data url mime does not match content")
	}
	return decoded, detected, nil
}

func decodeImage(raw []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	isWebP := false
	if err != nil {
		cfg, err = webp.DecodeConfig(bytes.NewReader(raw))
		if err != nil {
			return nil, errors.New("unable to decode image")
		}
		isWebP = true
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.New("invalid image dimensions")
	}
	// headers are checked before decoding since they can claim any size
	if int64(cfg.Width)*int64(cfg.Height) > maxImagePixels {
		return nil, errors.New("image dimensions too large")
	}

	var img image.Image
	if isWebP {
		img, err = webp.Decode(bytes.NewReader(raw))
	} else {
		img, _, err = image.Decode(bytes.NewReader(raw))
	}
	if err != nil {
		return nil, errors.New("unable to decode image")
	}
	if img.Bounds().Empty() {
		return nil, errors.New("invalid image dimensions")
	}
	return img, nil
}

// processUploadedPhotoBytes fits the photo inside maxPhotoEdge and re-encodes
// it as JPEG. Smaller photos keep their size.
func processUploadedPhotoBytes(raw []byte) ([]byte, error) {
	img, err := decodeImage(raw)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	targetW, targetH := width, height
	if width > maxPhotoEdge || height > maxPhotoEdge {
		if width >= height {
			targetW = maxPhotoEdge
			targetH = max(1, height*maxPhotoEdge/width)
		} else {
			targetH = maxPhotoEdge
			targetW = max(1, width*maxPhotoEdge/height)
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	// photos with alpha land on white rather than black
	for i := range dst.Pix {
		dst.Pix[i] = 0xff
	}
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: photoJPEGQuality}); err != nil {
		return nil, errors.New("unable to encode photo")
	}
	return out.Bytes(), nil
}

// normalizeSignature runs the pad's submit pipeline over an uploaded
// signature so the stored file is always an opaque grayscale JPEG.
func normalizeSignature(raw []byte) (*signaturepad.File, error) {
	img, err := decodeImage(raw)
	if err != nil {
		return nil, err
	}
	file, err := signaturepad.Finalize(img)
	if err != nil {
		return nil, errors.New("unable to encode signature")
	}
	return file, nil
}

func extensionFor(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}

func replaceExtension(name, ext string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		base = "file"
	}
	return base + ext
}
