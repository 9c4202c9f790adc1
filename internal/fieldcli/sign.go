package fieldcli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/phillip-england/fieldsuite/internal/evidence"
	"github.com/phillip-england/fieldsuite/internal/signaturepad"
	"github.com/phillip-england/fieldsuite/internal/signform"
	"go.uber.org/zap"
)

const defaultSignWidth = 600

// strokeFile is a recorded signature: CSS pixel coordinates relative to the
// pad's top-left corner, one point list per stroke.
type strokeFile struct {
	Width   float64        `json:"width"`
	Height  float64        `json:"height"`
	DPR     float64        `json:"dpr"`
	Strokes [][][2]float64 `json:"strokes"`
}

func loadStrokeFile(path string) (*strokeFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sf strokeFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &sf, nil
}

type signOptions struct {
	strokes    string
	out        string
	width      float64
	height     float64
	dpr        float64
	quality    float64
	upload     bool
	reportID   int64
	typeID     int64
	signer     string
	device     string
	configPath string
	envPath    string
}

func parseSignFlags(args []string) (*signOptions, error) {
	o := &signOptions{}
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	fs.StringVar(&o.strokes, "strokes", "", "recorded strokes json")
	fs.StringVar(&o.out, "out", signaturepad.DefaultFileName, "output image (.jpg or .png)")
	fs.Float64Var(&o.width, "width", 0, "pad css width")
	fs.Float64Var(&o.height, "height", 0, "pad css height")
	fs.Float64Var(&o.dpr, "dpr", 0, "device pixel ratio")
	fs.Float64Var(&o.quality, "quality", 0, "jpeg quality between 0 and 1")
	fs.BoolVar(&o.upload, "upload", false, "upload the signature as evidence")
	fs.Int64Var(&o.reportID, "report", 0, "report id for --upload")
	fs.Int64Var(&o.typeID, "type", evidence.TypeSignature, "evidence type id for --upload")
	fs.StringVar(&o.signer, "signer", "", "signer name for --upload")
	fs.StringVar(&o.device, "device", "", "device id for --upload")
	fs.StringVar(&o.configPath, "config", "", "config file")
	fs.StringVar(&o.envPath, "env-file", ".env", "path to .env file")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if strings.TrimSpace(o.strokes) == "" {
		return nil, fmt.Errorf("%w: --strokes is required", ErrUsage)
	}
	if o.quality < 0 || o.quality > 1 {
		return nil, fmt.Errorf("%w: --quality must be between 0 and 1", ErrUsage)
	}
	if o.upload && o.reportID <= 0 {
		return nil, fmt.Errorf("%w: --upload needs --report", ErrUsage)
	}
	return o, nil
}

func runSign(args []string) error {
	o, err := parseSignFlags(args)
	if err != nil {
		return err
	}
	sf, err := loadStrokeFile(o.strokes)
	if err != nil {
		return err
	}
	rt, err := loadRuntime(o.envPath, o.configPath)
	if err != nil {
		return err
	}
	defer func() { _ = rt.log.Sync() }()

	pad, err := replaySignature(rt, o, sf)
	if err != nil {
		return err
	}
	if pad.StrokeCount() == 0 {
		return signform.ErrSignatureEmpty
	}

	quality := o.quality
	if quality == 0 {
		quality = rt.cfg.Pad.Quality
	}
	exportOpts := []signaturepad.ExportOption{signaturepad.WithFileName(filepath.Base(o.out))}
	if quality > 0 {
		exportOpts = append(exportOpts, signaturepad.WithQuality(quality))
	}
	if strings.EqualFold(filepath.Ext(o.out), ".png") {
		exportOpts = append(exportOpts, signaturepad.WithFormat(signaturepad.FormatPNG))
	}
	file, err := pad.ExportImage(exportOpts...)
	if err != nil {
		return err
	}
	if err := ensureParentDirs(o.out); err != nil {
		return err
	}
	if err := os.WriteFile(o.out, file.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", o.out, err)
	}
	fmt.Fprintf(stdout, "wrote %s (%dx%d, %d bytes)\n", o.out, file.Width, file.Height, len(file.Data))

	if !o.upload {
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := evidence.NewClient(rt.cfg.Client.BaseURL, rt.cfg.Client.Token,
		evidence.WithHTTPClient(&http.Client{Timeout: rt.cfg.Client.Timeout}),
		evidence.WithLogger(rt.log),
	)
	form := signform.New(pad, client, signform.Config{
		ReportID:       o.reportID,
		EvidenceTypeID: o.typeID,
		Quality:        quality,
	}, rt.log)
	rec, err := form.Submit(ctx, signform.Submission{SignerName: o.signer, DeviceID: o.device})
	if err != nil {
		var apiErr *evidence.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("upload rejected (%d): %s", apiErr.Status, apiErr.Message)
		}
		return err
	}
	fmt.Fprintf(stdout, "uploaded evidence %s %s\n", rec.ID, rec.URL)
	return nil
}

// replaySignature draws the recorded strokes on a pad sized from flags, the
// file, then config, in that order.
func replaySignature(rt *app, o *signOptions, sf *strokeFile) (*signaturepad.Pad, error) {
	width := firstPositive(o.width, sf.Width, defaultSignWidth)
	height := firstPositive(o.height, sf.Height, rt.cfg.Pad.Height)
	dpr := firstPositive(o.dpr, sf.DPR, 1)

	pad := signaturepad.New(signaturepad.Options{
		Height:            height,
		MinWidth:          rt.cfg.Pad.MinWidth,
		LineWidth:         rt.cfg.Pad.LineWidth,
		RequireActivation: rt.cfg.Pad.RequireActivation,
		ScrollLock:        signaturepad.ParseScrollLockMode(rt.cfg.Pad.ScrollLock),
		Env: signaturepad.Environment{
			DevicePixelRatio: dpr,
			ViewportWidth:    width,
			PointerEvents:    true,
		},
		Logger: rt.log,
	})
	pad.Mount(width)
	if !pad.Available() {
		return nil, signaturepad.ErrSurfaceUnavailable
	}
	size := pad.CSSSize()
	pad.SetBounds(signaturepad.Rect{Width: size.Width, Height: size.Height})
	// running sign is the operator's explicit go-ahead
	if pad.Activation() == signaturepad.Disarmed {
		pad.Activate()
	}

	for i, points := range sf.Strokes {
		if len(points) == 0 {
			continue
		}
		id := i + 1
		pad.HandlePointer(signaturepad.PointerEvent{Phase: signaturepad.PhaseStart, PointerID: id, ClientX: points[0][0], ClientY: points[0][1]})
		for _, pt := range points[1:] {
			pad.HandlePointer(signaturepad.PointerEvent{Phase: signaturepad.PhaseMove, PointerID: id, ClientX: pt[0], ClientY: pt[1]})
		}
		last := points[len(points)-1]
		pad.HandlePointer(signaturepad.PointerEvent{Phase: signaturepad.PhaseEnd, PointerID: id, ClientX: last[0], ClientY: last[1]})
	}
	rt.log.Debug("replayed strokes",
		zap.Int("strokes", pad.StrokeCount()),
		zap.Float64("width", size.Width),
		zap.Float64("height", size.Height),
		zap.Float64("dpr", dpr),
	)
	return pad, nil
}

func firstPositive(values ...float64) float64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
