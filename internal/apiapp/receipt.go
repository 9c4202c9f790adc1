package apiapp

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/jung-kurt/gofpdf"
	"github.com/phillip-england/fieldsuite/internal/evidence"
)

const receiptImageWidthMM = 120.0

func evidenceTypeName(id int64) string {
	for _, t := range evidence.Types {
		if t.ID == id {
			return t.Name
		}
	}
	return strconv.FormatInt(id, 10)
}

// writeReceipt renders a one page A4 PDF describing rec. JPEG and PNG files
// are embedded below the metadata.
func writeReceipt(w io.Writer, rec *evidence.Record, data []byte) error {
	p := gofpdf.New("P", "mm", "A4", "")
	p.SetTitle("Evidence "+rec.ID, true)
	p.AddPage()
	tr := p.UnicodeTranslatorFromDescriptor("")

	p.SetFont("Helvetica", "B", 16)
	p.CellFormat(0, 10, "Evidence receipt", "", 1, "L", false, 0, "")
	p.Ln(2)

	p.SetFont("Helvetica", "", 11)
	rows := [][2]string{
		{"Evidence", rec.ID},
		{"Report", strconv.FormatInt(rec.ReportID, 10)},
		{"Type", evidenceTypeName(rec.EvidenceTypeID)},
		{"File", rec.FileName},
		{"Content type", rec.MimeType},
		{"Size", fmt.Sprintf("%d bytes", rec.SizeBytes)},
		{"Received", rec.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST")},
	}
	if rec.SignerName != "" {
		rows = append(rows, [2]string{"Signed by", rec.SignerName})
	}
	if rec.DeviceID != "" {
		rows = append(rows, [2]string{"Device", rec.DeviceID})
	}
	for _, row := range rows {
		p.SetFont("Helvetica", "B", 11)
		p.CellFormat(40, 7, row[0], "", 0, "L", false, 0, "")
		p.SetFont("Helvetica", "", 11)
		p.CellFormat(0, 7, tr(row[1]), "", 1, "L", false, 0, "")
	}

	if imageType := pdfImageType(rec.MimeType); imageType != "" && len(data) > 0 {
		p.Ln(6)
		opts := gofpdf.ImageOptions{ImageType: imageType, ReadDpi: true}
		p.RegisterImageOptionsReader(rec.ID, opts, bytes.NewReader(data))
		if p.Ok() {
			p.ImageOptions(rec.ID, p.GetX(), p.GetY(), receiptImageWidthMM, 0, false, opts, 0, "")
		}
	}

	if err := p.Error(); err != nil {
		return fmt.Errorf("render receipt: %w", err)
	}
	return p.Output(w)
}

func pdfImageType(mime string) string {
	switch mime {
	case "image/jpeg":
		return "JPG"
	case "image/png":
		return "PNG"
	default:
		return ""
	}
}
