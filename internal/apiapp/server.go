package apiapp

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phillip-england/fieldsuite/internal/evidence"
	"github.com/phillip-england/fieldsuite/internal/middleware"
	"github.com/phillip-england/fieldsuite/internal/security"
	"go.uber.org/zap"
)

const (
	defaultMaxUploadBytes = 10 << 20
	maxMetadataLength     = 200
	multipartOverhead     = 2 << 20
)

type Config struct {
	Addr           string
	Store          string
	DBPath         string
	PublicBaseURL  string
	TokenHash      string
	MaxUploadBytes int64
}

type server struct {
	store          store
	log            *zap.Logger
	tokenHash      string
	publicBaseURL  string
	maxUploadBytes int64

	// digests of bearer tokens that already passed VerifyToken
	verified sync.Map
}

func Run(ctx context.Context, cfg Config, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(cfg.TokenHash) == "" {
		return errors.New("api token hash is required; run setup first")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	s := newServer(cfg, st, log)
	if err := s.store.initSchema(ctx); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", zap.String("addr", cfg.Addr), zap.String("store", cfg.Store))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		log.Info("api stopped")
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func openStore(cfg Config) (store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case "memory":
		return newMemoryStore(), nil
	case "", "sqlite":
		if _, err := exec.LookPath("sqlite3"); err != nil {
			return nil, fmt.Errorf("sqlite store needs the sqlite3 binary: %w", err)
		}
		if strings.TrimSpace(cfg.DBPath) == "" {
			return nil, errors.New("database path is required")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		return &sqliteStore{dbPath: cfg.DBPath}, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func newServer(cfg Config, st store, log *zap.Logger) *server {
	if log == nil {
		log = zap.NewNop()
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &server{
		store:          st,
		log:            log,
		tokenHash:      cfg.TokenHash,
		publicBaseURL:  strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		maxUploadBytes: maxUpload,
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/health", http.HandlerFunc(s.health))
	mux.Handle("/api/evidence-types", middleware.Chain(http.HandlerFunc(s.evidenceTypesHandler), s.requireToken))
	mux.Handle("/api/reports/", middleware.Chain(http.HandlerFunc(s.reportHandler), s.requireToken))
	mux.Handle("/api/evidence/", middleware.Chain(http.HandlerFunc(s.evidenceByIDHandler), s.requireToken))

	csp := strings.Join([]string{
		"default-src 'none'",
		"img-src 'self' data:",
		"frame-ancestors 'none'",
	}, "; ")

	return middleware.Chain(
		mux,
		middleware.Recover(s.log),
		middleware.RequestLogger(s.log),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{ContentSecurityPolicy: csp}),
	)
}

func (s *server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := security.BearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		sum := sha256.Sum256([]byte(token))
		key := hex.EncodeToString(sum[:])
		if _, ok := s.verified.Load(key); !ok {
			if !security.VerifyToken(token, s.tokenHash) {
				s.log.Warn("rejected api token", zap.String("path", r.URL.Path), zap.String("remote", r.RemoteAddr))
				writeError(w, http.StatusUnauthorized, "invalid bearer token")
				return
			}
			s.verified.Store(key, struct{}{})
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *server) evidenceTypesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"evidenceTypes": evidence.Types})
}

func (s *server) reportHandler(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/api/reports/")
	trimmed = strings.Trim(trimmed, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	reportID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || reportID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid report id")
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "evidence":
		switch r.Method {
		case http.MethodGet:
			s.listEvidence(w, r, reportID)
		case http.MethodPost:
			s.uploadEvidence(w, r, reportID)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	case len(parts) == 3 && parts[1] == "evidence" && parts[2] == "manifest.xlsx":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.evidenceManifest(w, r, reportID)
	case len(parts) == 3 && parts[1] == "evidence" && parts[2] == "archive.tar.xz":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.evidenceArchive(w, r, reportID)
	case len(parts) == 2 && parts[1] == "expenses":
		switch r.Method {
		case http.MethodGet:
			s.listExpenses(w, r, reportID)
		case http.MethodPost:
			s.createExpenses(w, r, reportID)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	case len(parts) == 3 && parts[1] == "expenses" && parts[2] == "import":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.importExpenses(w, r, reportID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *server) evidenceByIDHandler(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/api/evidence/")
	trimmed = strings.Trim(trimmed, "/")
	parts := strings.Split(trimmed, "/")
	id := parts[0]
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusNotFound, "evidence not found")
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			rec, ok := s.loadEvidence(w, r, id)
			if !ok {
				return
			}
			writeJSON(w, http.StatusOK, rec)
		case http.MethodDelete:
			s.deleteEvidence(w, r, id)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodDelete)
		}
	case len(parts) == 2 && parts[1] == "file":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.serveEvidenceFile(w, r, id)
	case len(parts) == 2 && parts[1] == "receipt.pdf":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.evidenceReceipt(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *server) listEvidence(w http.ResponseWriter, r *http.Request, reportID int64) {
	records, err := s.recordsForReport(r.Context(), reportID)
	if err != nil {
		s.log.Error("list evidence", zap.Int64("report_id", reportID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to list evidence")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"evidence": records})
}

func (s *server) recordsForReport(ctx context.Context, reportID int64) ([]evidence.Record, error) {
	records, err := s.store.listEvidence(ctx, reportID)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].URL = s.fileURL(records[i].ID)
	}
	return records, nil
}

func (s *server) uploadEvidence(w http.ResponseWriter, r *http.Request, reportID int64) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(s.maxUploadBytes + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds max size")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid upload form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	signatureData := strings.TrimSpace(r.FormValue("signature_data"))
	typeID := evidence.TypeSignature
	if raw := strings.TrimSpace(r.FormValue("evidence_type_id")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid evidence type id")
			return
		}
		typeID = parsed
	} else if signatureData == "" {
		writeError(w, http.StatusBadRequest, "evidence type id is required")
		return
	}
	if !evidence.KnownType(typeID) {
		writeError(w, http.StatusBadRequest, "unknown evidence type")
		return
	}
	if signatureData != "" && typeID != evidence.TypeSignature {
		writeError(w, http.StatusBadRequest, "signature data requires the signature evidence type")
		return
	}

	signerName := strings.TrimSpace(r.FormValue("signer_name"))
	deviceID := strings.TrimSpace(r.FormValue("device_id"))
	if len(signerName) > maxMetadataLength || len(deviceID) > maxMetadataLength {
		writeError(w, http.StatusBadRequest, "signer name and device id must be at most 200 characters")
		return
	}
	if typeID == evidence.TypeSignature && signerName == "" {
		writeError(w, http.StatusBadRequest, "signer name is required")
		return
	}

	var upload *uploadedFile
	if signatureData != "" {
		data, mime, err := parseDataURLBinary(signatureData, signatureMimes, s.maxUploadBytes)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		upload = &uploadedFile{data: data, mime: mime, fileName: "firma" + extensionFor(mime)}
	} else {
		parsed, err := parseUploadedFileWithField(r, "file", s.maxUploadBytes, allowedMimesFor(typeID), "file is required")
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		upload = parsed
	}

	switch typeID {
	case evidence.TypePhoto:
		data, err := processUploadedPhotoBytes(upload.data)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		upload = &uploadedFile{data: data, mime: "image/jpeg", fileName: replaceExtension(upload.fileName, ".jpg")}
	case evidence.TypeSignature:
		file, err := normalizeSignature(upload.data)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		upload = &uploadedFile{data: file.Data, mime: file.ContentType, fileName: replaceExtension(upload.fileName, ".jpg")}
	}

	rec := evidence.Record{
		ID:             uuid.NewString(),
		ReportID:       reportID,
		EvidenceTypeID: typeID,
		FileName:       upload.fileName,
		MimeType:       upload.mime,
		SizeBytes:      int64(len(upload.data)),
		SignerName:     signerName,
		DeviceID:       deviceID,
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
	}
	if err := s.store.createEvidence(r.Context(), rec, upload.data); err != nil {
		s.log.Error("save evidence", zap.Int64("report_id", reportID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to save evidence")
		return
	}
	rec.URL = s.fileURL(rec.ID)
	s.log.Info("evidence stored",
		zap.String("id", rec.ID),
		zap.Int64("report_id", reportID),
		zap.Int64("evidence_type_id", typeID),
		zap.Int64("size_bytes", rec.SizeBytes),
	)
	writeJSON(w, http.StatusCreated, rec)
}

func (s *server) loadEvidence(w http.ResponseWriter, r *http.Request, id string) (*evidence.Record, bool) {
	rec, err := s.store.getEvidence(r.Context(), id)
	if err != nil {
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, "evidence not found")
			return nil, false
		}
		s.log.Error("load evidence", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to load evidence")
		return nil, false
	}
	rec.URL = s.fileURL(rec.ID)
	return rec, true
}

func (s *server) deleteEvidence(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.store.deleteEvidence(r.Context(), id); err != nil {
		if errors.Is(err, errNotFound) {
			writeError(w, http.StatusNotFound, "evidence not found")
			return
		}
		s.log.Error("delete evidence", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to delete evidence")
		return
	}
	s.log.Info("evidence deleted", zap.String("id", id))
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *server) serveEvidenceFile(w http.ResponseWriter, r *http.Request, id string) {
	rec, ok := s.loadEvidence(w, r, id)
	if !ok {
		return
	}
	data, err := s.store.getEvidenceFile(r.Context(), id)
	if err != nil {
		s.log.Error("load evidence file", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to load evidence file")
		return
	}
	w.Header().Set("Content-Type", rec.MimeType)
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.Header().Set("Content-Disposition", "inline; filename="+strconv.Quote(rec.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *server) evidenceReceipt(w http.ResponseWriter, r *http.Request, id string) {
	rec, ok := s.loadEvidence(w, r, id)
	if !ok {
		return
	}
	data, err := s.store.getEvidenceFile(r.Context(), id)
	if err != nil {
		s.log.Error("load evidence file", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to load evidence file")
		return
	}
	var buf bytes.Buffer
	if err := writeReceipt(&buf, rec, data); err != nil {
		s.log.Error("render receipt", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to render receipt")
		return
	}
	writeDownload(w, "application/pdf", "inline", "receipt-"+rec.ID+".pdf", buf.Bytes())
}

func (s *server) evidenceManifest(w http.ResponseWriter, r *http.Request, reportID int64) {
	records, err := s.recordsForReport(r.Context(), reportID)
	if err != nil {
		s.log.Error("list evidence", zap.Int64("report_id", reportID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to list evidence")
		return
	}
	var buf bytes.Buffer
	if err := writeManifestWorkbook(&buf, records); err != nil {
		s.log.Error("render manifest", zap.Int64("report_id", reportID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to render manifest")
		return
	}
	writeDownload(w,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"attachment",
		fmt.Sprintf("report-%d-evidence.xlsx", reportID),
		buf.Bytes(),
	)
}

func (s *server) evidenceArchive(w http.ResponseWriter, r *http.Request, reportID int64) {
	records, err := s.recordsForReport(r.Context(), reportID)
	if err != nil {
		s.log.Error("list evidence", zap.Int64("report_id", reportID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to list evidence")
		return
	}
	var buf bytes.Buffer
	if err := s.writeEvidenceArchive(r.Context(), &buf, reportID, records); err != nil {
		s.log.Error("build archive", zap.Int64("report_id", reportID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to build archive")
		return
	}
	writeDownload(w, "application/x-xz", "attachment", fmt.Sprintf("report-%d-evidence.tar.xz", reportID), buf.Bytes())
}

type expenseInput struct {
	Description string      `json:"description"`
	Amount      json.Number `json:"amount"`
	Date        string      `json:"date"`
}

func (s *server) listExpenses(w http.ResponseWriter, r *http.Request, reportID int64) {
	rows, err := s.store.listExpenses(r.Context(), reportID)
	if err != nil {
		s.log.Error("list expenses", zap.Int64("report_id", reportID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to list expenses")
		return
	}
	var total int64
	for _, row := range rows {
		total += row.AmountCents
	}
	writeJSON(w, http.StatusOK, map[string]any{"expenses": rows, "totalCents": total})
}

func (s *server) createExpenses(w http.ResponseWriter, r *http.Request, reportID int64) {
	var req struct {
		Expenses []expenseInput `json:"expenses"`
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Expenses) == 0 {
		writeError(w, http.StatusBadRequest, "at least one expense is required")
		return
	}
	rows := make([][]string, 0, len(req.Expenses)+1)
	rows = append(rows, []string{"description", "amount", "date"})
	for _, in := range req.Expenses {
		rows = append(rows, []string{in.Description, in.Amount.String(), in.Date})
	}
	parsed, err := expensesFromRows(rows)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.saveExpenses(w, r, reportID, parsed)
}

func (s *server) importExpenses(w http.ResponseWriter, r *http.Request, reportID int64) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(s.maxUploadBytes + multipartOverhead); err != nil {
		writeError(w, http.StatusBadRequest, "invalid upload form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "spreadsheet file is required")
		return
	}
	defer file.Close()

	sheetRows, err := readRowsFromSpreadsheet(file, header.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read spreadsheet: "+err.Error())
		return
	}
	parsed, err := expensesFromRows(sheetRows)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.saveExpenses(w, r, reportID, parsed)
}

func (s *server) saveExpenses(w http.ResponseWriter, r *http.Request, reportID int64, rows []expense) {
	n, err := s.store.addExpenses(r.Context(), reportID, rows)
	if err != nil {
		s.log.Error("save expenses", zap.Int64("report_id", reportID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "unable to save expenses")
		return
	}
	s.log.Info("expenses stored", zap.Int64("report_id", reportID), zap.Int("count", n))
	writeJSON(w, http.StatusCreated, map[string]any{"created": n})
}

func (s *server) fileURL(id string) string {
	return s.publicBaseURL + "/api/evidence/" + id + "/file"
}

func writeDownload(w http.ResponseWriter, contentType, disposition, fileName string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, no-store")
	w.Header().Set("Content-Disposition", disposition+"; filename="+strconv.Quote(fileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
