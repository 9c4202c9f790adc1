package evidence

import (
	"context"
	"fmt"
	"time"
)

const (
	TypePhoto     int64 = 1
	TypeDocument  int64 = 2
	TypeSignature int64 = 3
)

type Type struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Types is the catalogue seeded into every store.
var Types = []Type{
	{ID: TypePhoto, Name: "photo"},
	{ID: TypeDocument, Name: "document"},
	{ID: TypeSignature, Name: "signature"},
}

func KnownType(id int64) bool {
	for _, t := range Types {
		if t.ID == id {
			return true
		}
	}
	return false
}

type Record struct {
	ID             string    `json:"id"`
	ReportID       int64     `json:"reportId"`
	EvidenceTypeID int64     `json:"evidenceTypeId"`
	FileName       string    `json:"fileName"`
	MimeType       string    `json:"mimeType"`
	SizeBytes      int64     `json:"sizeBytes"`
	SignerName     string    `json:"signerName,omitempty"`
	DeviceID       string    `json:"deviceId,omitempty"`
	URL            string    `json:"url"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Upload is one file plus the metadata the backend files it under.
type Upload struct {
	ReportID       int64
	EvidenceTypeID int64
	FileName       string
	ContentType    string
	Data           []byte
	SignerName     string
	DeviceID       string
}

type Uploader interface {
	Upload(ctx context.Context, u Upload) (*Record, error)
}

// APIError is a non-2xx answer from the evidence service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("evidence api: %d %s", e.Status, e.Message)
}
