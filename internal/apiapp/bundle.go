package apiapp

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/phillip-england/fieldsuite/internal/evidence"
	"github.com/ulikunitz/xz"
	"github.com/xuri/excelize/v2"
)

const manifestSheet = "Evidence"

var manifestHeader = []any{"ID", "Type", "File", "Content type", "Size (bytes)", "Signer", "Device", "Received (UTC)", "URL"}

func writeManifestWorkbook(w io.Writer, records []evidence.Record) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), manifestSheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(manifestSheet, "A1", &manifestHeader); err != nil {
		return err
	}
	for i, rec := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			rec.ID,
			evidenceTypeName(rec.EvidenceTypeID),
			rec.FileName,
			rec.MimeType,
			rec.SizeBytes,
			rec.SignerName,
			rec.DeviceID,
			rec.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			rec.URL,
		}
		if err := f.SetSheetRow(manifestSheet, cell, &row); err != nil {
			return err
		}
	}
	if err := f.SetPanes(manifestSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	_, err := f.WriteTo(w)
	return err
}

// archiveEntryName keeps entries unique and flat inside the archive.
func archiveEntryName(rec evidence.Record) string {
	name := path.Base(rec.FileName)
	if name == "." || name == "/" || name == "" {
		name = "file" + extensionFor(rec.MimeType)
	}
	return "files/" + rec.ID + "-" + name
}

// writeEvidenceArchive streams a tar.xz holding every file of the report
// followed by manifest.json.
func (s *server) writeEvidenceArchive(ctx context.Context, w io.Writer, reportID int64, records []evidence.Record) error {
	xw, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("open xz stream: %w", err)
	}
	tw := tar.NewWriter(xw)

	type manifestEntry struct {
		evidence.Record
		Path string `json:"path"`
	}
	manifest := struct {
		ReportID int64           `json:"reportId"`
		Evidence []manifestEntry `json:"evidence"`
	}{ReportID: reportID, Evidence: make([]manifestEntry, 0, len(records))}

	for _, rec := range records {
		data, err := s.store.getEvidenceFile(ctx, rec.ID)
		if err != nil {
			return fmt.Errorf("load evidence %s: %w", rec.ID, err)
		}
		name := archiveEntryName(rec)
		if err := writeTarFile(tw, name, data, rec.CreatedAt); err != nil {
			return err
		}
		manifest.Evidence = append(manifest.Evidence, manifestEntry{Record: rec, Path: name})
	}

	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := writeTarFile(tw, "manifest.json", body, time.Now()); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return xw.Close()
}

func writeTarFile(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(data)),
		Typeflag: tar.TypeReg,
		ModTime:  modTime.UTC().Truncate(time.Second),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write tar header %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write tar entry %s: %w", name, err)
	}
	return nil
}
