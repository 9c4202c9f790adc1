package signform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/phillip-england/fieldsuite/internal/evidence"
	"github.com/phillip-england/fieldsuite/internal/signaturepad"
	"go.uber.org/zap"
)

var (
	ErrSignerNameRequired = errors.New("signer name is required")
	ErrSignatureEmpty     = errors.New("signature is required")
)

// Pad is the part of a signature pad the form drives.
type Pad interface {
	StrokeCount() int
	ExportImage(opts ...signaturepad.ExportOption) (*signaturepad.File, error)
	Reset()
}

type Config struct {
	ReportID       int64
	EvidenceTypeID int64
	Quality        float64
}

type Form struct {
	pad      Pad
	uploader evidence.Uploader
	cfg      Config
	log      *zap.Logger
}

type Submission struct {
	SignerName string
	DeviceID   string
}

func New(pad Pad, uploader evidence.Uploader, cfg Config, log *zap.Logger) *Form {
	if cfg.EvidenceTypeID <= 0 {
		cfg.EvidenceTypeID = evidence.TypeSignature
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Form{pad: pad, uploader: uploader, cfg: cfg, log: log.Named("signform")}
}

// Submit exports the signature and uploads it. The pad keeps its drawing when
// anything fails and is reset once the record exists.
func (f *Form) Submit(ctx context.Context, sub Submission) (*evidence.Record, error) {
	name := strings.TrimSpace(sub.SignerName)
	if name == "" {
		return nil, ErrSignerNameRequired
	}
	if f.pad.StrokeCount() == 0 {
		return nil, ErrSignatureEmpty
	}

	var opts []signaturepad.ExportOption
	if f.cfg.Quality > 0 {
		opts = append(opts, signaturepad.WithQuality(f.cfg.Quality))
	}
	file, err := f.pad.ExportImage(opts...)
	if err != nil {
		return nil, fmt.Errorf("export signature: %w", err)
	}

	rec, err := f.uploader.Upload(ctx, evidence.Upload{
		ReportID:       f.cfg.ReportID,
		EvidenceTypeID: f.cfg.EvidenceTypeID,
		FileName:       file.Name,
		ContentType:    file.ContentType,
		Data:           file.Data,
		SignerName:     name,
		DeviceID:       strings.TrimSpace(sub.DeviceID),
	})
	if err != nil {
		f.log.Warn("signature upload failed", zap.Int64("report_id", f.cfg.ReportID), zap.Error(err))
		return nil, fmt.Errorf("upload signature: %w", err)
	}
	f.pad.Reset()
	f.log.Info("signature stored", zap.String("evidence_id", rec.ID), zap.String("signer", name))
	return rec, nil
}
