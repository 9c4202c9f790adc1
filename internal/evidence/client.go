package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultTimeout = 15 * time.Second

// Client talks to the evidence API over HTTP. It never retries; a failed
// upload is reported once.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: defaultTimeout},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Upload(ctx context.Context, u Upload) (*Record, error) {
	if u.ReportID <= 0 {
		return nil, errors.New("report id is required")
	}
	if u.EvidenceTypeID <= 0 {
		return nil, errors.New("evidence type id is required")
	}
	if len(u.Data) == 0 {
		return nil, errors.New("file is empty")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("evidence_type_id", strconv.FormatInt(u.EvidenceTypeID, 10))
	if name := strings.TrimSpace(u.SignerName); name != "" {
		_ = writer.WriteField("signer_name", name)
	}
	if device := strings.TrimSpace(u.DeviceID); device != "" {
		_ = writer.WriteField("device_id", device)
	}
	part, err := writer.CreatePart(filePartHeader(u))
	if err != nil {
		return nil, fmt.Errorf("prepare upload: %w", err)
	}
	if _, err := part.Write(u.Data); err != nil {
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize upload: %w", err)
	}

	endpoint := c.baseURL + "/api/reports/" + strconv.FormatInt(u.ReportID, 10) + "/evidence"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var rec Record
	if err := c.do(req, &rec, http.StatusCreated, http.StatusOK); err != nil {
		c.log.Warn("evidence upload failed",
			zap.Int64("report_id", u.ReportID),
			zap.Int64("evidence_type_id", u.EvidenceTypeID),
			zap.Error(err),
		)
		return nil, err
	}
	c.log.Info("evidence uploaded", zap.String("id", rec.ID), zap.Int64("report_id", rec.ReportID))
	return &rec, nil
}

func (c *Client) List(ctx context.Context, reportID int64) ([]Record, error) {
	endpoint := c.baseURL + "/api/reports/" + strconv.FormatInt(reportID, 10) + "/evidence"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Evidence []Record `json:"evidence"`
	}
	if err := c.do(req, &payload, http.StatusOK); err != nil {
		return nil, err
	}
	return payload.Evidence, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/evidence/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil, http.StatusOK, http.StatusNoContent)
}

func (c *Client) do(req *http.Request, out any, okStatuses ...int) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("evidence api unavailable: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))

	ok := false
	for _, status := range okStatuses {
		if resp.StatusCode == status {
			ok = true
			break
		}
	}
	if !ok {
		msg := http.StatusText(resp.StatusCode)
		var payload map[string]string
		if err := json.Unmarshal(respBody, &payload); err == nil && strings.TrimSpace(payload["error"]) != "" {
			msg = payload["error"]
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode evidence response: %w", err)
	}
	return nil
}

func filePartHeader(u Upload) textproto.MIMEHeader {
	name := strings.TrimSpace(u.FileName)
	if name == "" {
		name = "evidence.bin"
	}
	contentType := strings.TrimSpace(u.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", contentType)
	return h
}
