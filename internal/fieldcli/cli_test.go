package fieldcli

import (
	"bytes"
	"encoding/json"
	"errors"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/phillip-england/fieldsuite/internal/envutil"
	"github.com/phillip-england/fieldsuite/internal/evidence"
	"github.com/phillip-england/fieldsuite/internal/security"
	"github.com/phillip-england/fieldsuite/internal/signaturepad"
	"github.com/phillip-england/fieldsuite/internal/signform"
)

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

func TestExecuteUsageErrors(t *testing.T) {
	cases := [][]string{
		nil,
		{"bogus"},
		{"run"},
		{"run", "client"},
		{"sign"},
		{"sign", "--strokes", "x.json", "--quality", "2"},
		{"sign", "--strokes", "x.json", "--upload"},
		{"setup", "--no-such-flag"},
	}
	for _, args := range cases {
		if err := Execute(args); !errors.Is(err, ErrUsage) {
			t.Fatalf("Execute(%q) err=%v, want ErrUsage", args, err)
		}
	}
}

func TestSetupWritesHashedToken(t *testing.T) {
	out := captureStdout(t)
	envPath := filepath.Join(t.TempDir(), ".env")
	token := "operator-token-12345"

	if err := Execute([]string{"setup", "--api-token", token, "--env-file", envPath}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if !strings.Contains(out.String(), "wrote "+envPath) {
		t.Fatalf("output=%q", out.String())
	}
	values := readEnvFile(t, envPath)
	if !security.VerifyToken(token, values["FIELDSUITE_API_TOKEN_HASH"]) {
		t.Fatalf("stored hash does not verify: %q", values["FIELDSUITE_API_TOKEN_HASH"])
	}
	if values["FIELDSUITE_CLIENT_TOKEN"] != token || values["FIELDSUITE_API_STORE"] != "sqlite" {
		t.Fatalf("values=%v", values)
	}

	if err := Execute([]string{"setup", "--api-token", token, "--env-file", envPath}); err == nil {
		t.Fatalf("expected refusal to overwrite existing env file")
	}
	if err := Execute([]string{"setup", "--api-token", "short", "--env-file", envPath, "--force"}); !errors.Is(err, security.ErrTokenTooShort) {
		t.Fatalf("short token err=%v", err)
	}
}

func TestSetupGeneratesToken(t *testing.T) {
	out := captureStdout(t)
	envPath := filepath.Join(t.TempDir(), ".env")
	if err := Execute([]string{"setup", "--env-file", envPath}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if !strings.Contains(out.String(), "generated api token: ") {
		t.Fatalf("output=%q", out.String())
	}
	values := readEnvFile(t, envPath)
	if !security.VerifyToken(values["FIELDSUITE_CLIENT_TOKEN"], values["FIELDSUITE_API_TOKEN_HASH"]) {
		t.Fatalf("generated token does not match hash")
	}
}

// readEnvFile loads path through LoadDotEnv into a scratch environment.
func readEnvFile(t *testing.T, path string) map[string]string {
	t.Helper()
	for _, k := range []string{"FIELDSUITE_API_TOKEN_HASH", "FIELDSUITE_CLIENT_TOKEN", "FIELDSUITE_API_STORE", "FIELDSUITE_API_ADDR", "FIELDSUITE_API_DB_PATH", "FIELDSUITE_API_PUBLIC_BASE_URL", "FIELDSUITE_CLIENT_BASE_URL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	keys, err := envutil.LoadDotEnv(path)
	if err != nil {
		t.Fatalf("load env: %v", err)
	}
	values := make(map[string]string, len(keys))
	for _, k := range keys {
		values[k] = os.Getenv(k)
	}
	return values
}

func writeStrokes(t *testing.T, dir string, sf strokeFile) string {
	t.Helper()
	raw, err := json.Marshal(sf)
	if err != nil {
		t.Fatalf("marshal strokes: %v", err)
	}
	path := filepath.Join(dir, "strokes.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write strokes: %v", err)
	}
	return path
}

func isolateConfig(t *testing.T, dir string) string {
	t.Helper()
	t.Setenv("FIELDSUITE_LOGGING_CONSOLE", "false")
	t.Setenv("FIELDSUITE_LOGGING_DIRECTORY", filepath.Join(dir, "logs"))
	t.Setenv("FIELDSUITE_LOGGING_LEVEL", "warn")
	return filepath.Join(dir, "missing.env")
}

func TestSignWritesGrayscaleJPEG(t *testing.T) {
	captureStdout(t)
	dir := t.TempDir()
	envPath := isolateConfig(t, dir)
	strokes := writeStrokes(t, dir, strokeFile{
		Width: 600, Height: 220, DPR: 2,
		Strokes: [][][2]float64{{{50, 110}, {550, 110}}},
	})
	out := filepath.Join(dir, "out", "firma.jpg")

	if err := Execute([]string{"sign", "--strokes", strokes, "--out", out, "--env-file", envPath}); err != nil {
		t.Fatalf("sign: %v", err)
	}
	raw, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 1200 || b.Dy() != 440 {
		t.Fatalf("bounds=%v", b)
	}
	r, _, _, _ := img.At(600, 220).RGBA()
	if r>>8 > 40 {
		t.Fatalf("stroke pixel=%d, want near black", r>>8)
	}
	r, _, _, _ = img.At(5, 5).RGBA()
	if r>>8 != 255 {
		t.Fatalf("background pixel=%d, want 255", r>>8)
	}
}

func TestSignRefusesEmptyStrokes(t *testing.T) {
	captureStdout(t)
	dir := t.TempDir()
	envPath := isolateConfig(t, dir)
	strokes := writeStrokes(t, dir, strokeFile{Width: 400})
	err := Execute([]string{"sign", "--strokes", strokes, "--out", filepath.Join(dir, "x.jpg"), "--env-file", envPath})
	if !errors.Is(err, signform.ErrSignatureEmpty) {
		t.Fatalf("err=%v", err)
	}
}

func TestSignUploadsEvidence(t *testing.T) {
	out := captureStdout(t)
	dir := t.TempDir()
	envPath := isolateConfig(t, dir)

	var gotAuth, gotSigner, gotType, gotContentType string
	var gotFile []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/reports/77/evidence" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(4 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotSigner = r.FormValue("signer_name")
		gotType = r.FormValue("evidence_type_id")
		f, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotContentType = header.Header.Get("Content-Type")
		gotFile, _ = io.ReadAll(f)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(evidence.Record{ID: "rec-1", ReportID: 77, URL: "http://files/rec-1"})
	}))
	defer srv.Close()
	t.Setenv("FIELDSUITE_CLIENT_BASE_URL", srv.URL)
	t.Setenv("FIELDSUITE_CLIENT_TOKEN", "client-token-abc")

	strokes := writeStrokes(t, dir, strokeFile{
		Strokes: [][][2]float64{{{20, 20}, {200, 120}}, {{30, 150}, {300, 40}}},
	})
	err := Execute([]string{
		"sign", "--strokes", strokes, "--out", filepath.Join(dir, "firma.jpg"), "--env-file", envPath,
		"--upload", "--report", "77", "--signer", "  Marta Gómez ",
	})
	if err != nil {
		t.Fatalf("sign upload: %v", err)
	}
	if gotAuth != "Bearer client-token-abc" {
		t.Fatalf("auth=%q", gotAuth)
	}
	if gotSigner != "Marta Gómez" || gotType != "3" || gotContentType != "image/jpeg" {
		t.Fatalf("signer=%q type=%q content-type=%q", gotSigner, gotType, gotContentType)
	}
	if _, err := jpeg.Decode(bytes.NewReader(gotFile)); err != nil {
		t.Fatalf("uploaded file is not a jpeg: %v", err)
	}
	if !strings.Contains(out.String(), "uploaded evidence rec-1") {
		t.Fatalf("output=%q", out.String())
	}
}

func TestSignUploadRejectedByServer(t *testing.T) {
	captureStdout(t)
	dir := t.TempDir()
	envPath := isolateConfig(t, dir)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid bearer token"}`))
	}))
	defer srv.Close()
	t.Setenv("FIELDSUITE_CLIENT_BASE_URL", srv.URL)

	strokes := writeStrokes(t, dir, strokeFile{Strokes: [][][2]float64{{{20, 20}, {200, 120}}}})
	err := Execute([]string{
		"sign", "--strokes", strokes, "--out", filepath.Join(dir, "firma.jpg"), "--env-file", envPath,
		"--upload", "--report", "5", "--signer", "Ana",
	})
	if err == nil || !strings.Contains(err.Error(), "upload rejected (401): invalid bearer token") {
		t.Fatalf("err=%v", err)
	}
}

func TestReplaySignatureHonoursPadConfig(t *testing.T) {
	dir := t.TempDir()
	envPath := isolateConfig(t, dir)
	t.Setenv("FIELDSUITE_PAD_REQUIRE_ACTIVATION", "true")
	t.Setenv("FIELDSUITE_PAD_SCROLL_LOCK", "on")
	t.Setenv("FIELDSUITE_PAD_HEIGHT", "150")

	rt, err := loadRuntime(envPath, "")
	if err != nil {
		t.Fatalf("load runtime: %v", err)
	}
	if !rt.cfg.Pad.RequireActivation || rt.cfg.Pad.ScrollLock != "on" {
		t.Fatalf("pad config=%+v", rt.cfg.Pad)
	}
	pad, err := replaySignature(rt, &signOptions{}, &strokeFile{
		Strokes: [][][2]float64{{{20, 20}, {200, 120}}},
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if pad.Activation() != signaturepad.Armed || pad.StrokeCount() != 1 {
		t.Fatalf("activation=%v strokes=%d", pad.Activation(), pad.StrokeCount())
	}
	if size := pad.CSSSize(); size.Width != defaultSignWidth || size.Height != 150 {
		t.Fatalf("size=%+v", size)
	}

	pad.Reset()
	if pad.Activation() != signaturepad.Disarmed {
		t.Fatalf("reset did not disarm a pad that requires activation")
	}
}
