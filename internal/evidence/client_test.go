package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestUploadSendsMultipartAndDecodesRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/reports/42/evidence" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("authorization=%q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.FormValue("evidence_type_id") != "3" || r.FormValue("signer_name") != "Ana Rojas" || r.FormValue("device_id") != "tablet-7" {
			t.Errorf("form values=%v", r.MultipartForm.Value)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "firma.jpg" || header.Header.Get("Content-Type") != "image/jpeg" || string(data) != "jpeg-bytes" {
			t.Errorf("file=%s %s %q", header.Filename, header.Header.Get("Content-Type"), data)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Record{ID: "ev-1", ReportID: 42, EvidenceTypeID: 3, URL: "http://files/ev-1", CreatedAt: time.Unix(0, 0).UTC()})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret-token")
	rec, err := c.Upload(context.Background(), Upload{
		ReportID:       42,
		EvidenceTypeID: TypeSignature,
		FileName:       "firma.jpg",
		ContentType:    "image/jpeg",
		Data:           []byte("jpeg-bytes"),
		SignerName:     "  Ana Rojas ",
		DeviceID:       "tablet-7",
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if rec.ID != "ev-1" || rec.URL != "http://files/ev-1" {
		t.Fatalf("record=%+v", rec)
	}
}

func TestUploadReturnsAPIErrorOnce(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unsupported file type"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Upload(context.Background(), Upload{ReportID: 1, EvidenceTypeID: 1, Data: []byte("x")})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err=%v want *APIError", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Message != "unsupported file type" {
		t.Fatalf("api error=%+v", apiErr)
	}
	if calls != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}
}

func TestUploadValidatesInput(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", "")
	cases := []Upload{
		{EvidenceTypeID: 1, Data: []byte("x")},
		{ReportID: 1, Data: []byte("x")},
		{ReportID: 1, EvidenceTypeID: 1},
	}
	for i, u := range cases {
		if _, err := c.Upload(context.Background(), u); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestListAndDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/reports/7/evidence":
			_, _ = w.Write([]byte(`{"evidence":[{"id":"a","reportId":7},{"id":"b","reportId":7}]}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/api/evidence/a":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"evidence not found"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "t")
	list, err := c.List(context.Background(), 7)
	if err != nil || len(list) != 2 || list[1].ID != "b" {
		t.Fatalf("list=%v err=%v", list, err)
	}
	if err := c.Delete(context.Background(), "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	err = c.Delete(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("delete missing err=%v", err)
	}
}

func TestKnownType(t *testing.T) {
	if !KnownType(TypeSignature) || KnownType(99) {
		t.Fatalf("unexpected type catalogue")
	}
}
