package web

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"photo-ingest-go/internal/batch"
	"photo-ingest-go/internal/cleanup"
	"photo-ingest-go/internal/compressor"
	"photo-ingest-go/internal/config"
	"photo-ingest-go/internal/logger"
	"photo-ingest-go/internal/pipeline"
	"photo-ingest-go/internal/statistics"
	"photo-ingest-go/internal/storage"
	"photo-ingest-go/internal/upload"
)

func newTestServer(t *testing.T) (*Server, *config.Config) {
	t.Helper()
	root := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Pipeline.Format = "jpeg"
	cfg.Pipeline.OutputDir = filepath.Join(root, "compressed")
	cfg.Upload.TempDir = filepath.Join(root, "temp")
	cfg.Storage.Local.Root = filepath.Join(root, "public")
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	log := logger.NewDiscard()
	reg := prometheus.NewRegistry()
	stats := statistics.NewStatistics(statistics.NewMetrics(reg))

	backend, err := storage.NewLocalBackend(cfg.Storage.Local.Root, cfg.Storage.Local.URLPrefix, log)
	if err != nil {
		t.Fatal(err)
	}
	defaults, err := cfg.Pipeline.CompressionConfig()
	if err != nil {
		t.Fatal(err)
	}
	scheduler := batch.NewScheduler(cfg.Pipeline.BatchWindow, 0)
	p := pipeline.NewPipeline(
		compressor.NewDefaultCompressor(log, scheduler),
		backend,
		cleanup.NewManager(log, nil),
		stats,
		log,
		defaults,
		scheduler,
	)
	receiver := upload.NewReceiver(cfg.Upload.TempDir, upload.Validator{
		AllowedTypes: cfg.Upload.AllowedMimeTypes,
		MaxSize:      cfg.Upload.MaxFileSize,
	}, log)

	return NewServer(cfg, log, p, receiver, stats, reg), cfg
}

func multipartBody(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &body, w.FormDataContentType()
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 40, 30))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	return resp
}

func dirEmpty(t *testing.T, dir string) bool {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	return len(entries) == 0
}

func TestUploadAndRemove(t *testing.T) {
	s, cfg := newTestServer(t)

	body, contentType := multipartBody(t, "Sunset.png", testPNG(t), map[string]string{"folder": "albums"})
	req := httptest.NewRequest(http.MethodPost, "/api/photos", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	data, _ := resp.Data.(map[string]interface{})
	ref, _ := data["reference"].(string)
	if !resp.Success || !strings.HasPrefix(ref, "/uploads/albums/upload_") || !strings.HasSuffix(ref, ".jpg") {
		t.Fatalf("response = %+v", resp)
	}
	if !dirEmpty(t, cfg.Upload.TempDir) || !dirEmpty(t, cfg.Pipeline.OutputDir) {
		t.Error("temporary files left behind after upload")
	}

	// The stored image is served from the static prefix.
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, ref, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET %s status = %d", ref, rec.Code)
	}

	payload, _ := json.Marshal(RemoveRequest{Reference: ref})
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/photos", bytes.NewReader(payload)))
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(filepath.Join(cfg.Storage.Local.Root, "albums", filepath.Base(ref))); !os.IsNotExist(err) {
		t.Errorf("stored file not removed: %v", err)
	}
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  []byte
		fields   map[string]string
		want     int
	}{
		{"text file", "notes.txt", []byte("just some text"), nil, http.StatusUnsupportedMediaType},
		{"bad quality", "a.png", nil, map[string]string{"quality": "101"}, http.StatusBadRequest},
		{"bad format", "a.png", nil, map[string]string{"format": "heic"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, cfg := newTestServer(t)
			content := tt.content
			if content == nil {
				content = testPNG(t)
			}
			body, contentType := multipartBody(t, tt.filename, content, tt.fields)
			req := httptest.NewRequest(http.MethodPost, "/api/photos", body)
			req.Header.Set("Content-Type", contentType)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
			if resp := decodeResponse(t, rec); resp.Success || resp.Error == "" {
				t.Errorf("response = %+v", resp)
			}
			if !dirEmpty(t, cfg.Upload.TempDir) {
				t.Error("rejected upload left a temp file")
			}
		})
	}
}

func TestUploadWithoutFile(t *testing.T) {
	s, _ := newTestServer(t)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	w.WriteField("folder", "x")
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/photos", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestRemoveValidation(t *testing.T) {
	s, _ := newTestServer(t)

	tests := map[string]int{
		`not json`: http.StatusBadRequest,
		`{}`:       http.StatusBadRequest,
		`{"reference":"https://elsewhere/x.jpg"}`: http.StatusBadRequest,
	}
	for payload, want := range tests {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/photos", strings.NewReader(payload)))
		if rec.Code != want {
			t.Errorf("DELETE %s status = %d, want %d", payload, rec.Code, want)
		}
	}
}

func TestStatusAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	data, _ := resp.Data.(map[string]interface{})
	if data["backend"] != "local" {
		t.Errorf("status data = %+v", data)
	}

	s.stats.RecordUpload(true)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	out, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusOK || !strings.Contains(string(out), "photo_ingest_uploads_total") {
		t.Errorf("metrics endpoint = %d\n%s", rec.Code, out)
	}
}

func TestWebSocketStreamsIngestEvents(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitForClients(t, s, 1)

	body, contentType := multipartBody(t, "a.png", testPNG(t), nil)
	resp, err := http.Post(ts.URL+"/api/photos", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var got []string
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for len(got) < 3 {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read event: %v (got %v)", err, got)
		}
		got = append(got, msg.Type)
	}
	want := []string{"ingest_started", "image_compressed", "image_stored"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestBroadcastDropsSlowClient(t *testing.T) {
	s, _ := newTestServer(t)

	// No writer drains this queue, so the second event overflows it.
	slow := &wsClient{send: make(chan []byte, 1)}
	s.wsMutex.Lock()
	s.wsClients[slow] = struct{}{}
	s.wsMutex.Unlock()

	done := make(chan struct{})
	go func() {
		s.broadcastWSMessage("image_stored", map[string]string{"n": "1"})
		s.broadcastWSMessage("image_stored", map[string]string{"n": "2"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}

	s.wsMutex.Lock()
	_, registered := s.wsClients[slow]
	s.wsMutex.Unlock()
	if registered {
		t.Error("slow client still registered")
	}
	if msg, ok := <-slow.send; !ok || !strings.Contains(string(msg), `"n":"1"`) {
		t.Errorf("first queued event = %s, %v", msg, ok)
	}
	if _, ok := <-slow.send; ok {
		t.Error("queue should be closed after the client is dropped")
	}
}

func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.wsMutex.Lock()
		count := len(s.wsClients)
		s.wsMutex.Unlock()
		if count == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("websocket clients never reached %d", n)
}
