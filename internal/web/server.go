package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"photo-ingest-go/internal/compressor"
	"photo-ingest-go/internal/config"
	"photo-ingest-go/internal/pipeline"
	"photo-ingest-go/internal/statistics"
	"photo-ingest-go/internal/storage"
	"photo-ingest-go/internal/upload"
)

// multipartMemory is the part of a multipart body kept in memory; the rest spools to disk.
const multipartMemory = 8 << 20

const (
	// wsQueueSize is the number of events buffered per websocket client.
	wsQueueSize  = 64
	wsWriteLimit = 5 * time.Second
)

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*wsClient]struct{}
	wsMutex    sync.Mutex

	pipeline *pipeline.Pipeline
	receiver *upload.Receiver
	stats    *statistics.Statistics
	gatherer prometheus.Gatherer
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type RemoveRequest struct {
	Reference string `json:"reference"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewServer wires the HTTP routes and subscribes to pipeline events for the websocket stream.
func NewServer(
	cfg *config.Config,
	log *logrus.Logger,
	p *pipeline.Pipeline,
	receiver *upload.Receiver,
	stats *statistics.Statistics,
	gatherer prometheus.Gatherer,
) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		router:    mux.NewRouter(),
		wsClients: make(map[*wsClient]struct{}),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
		pipeline: p,
		receiver: receiver,
		stats:    stats,
		gatherer: gatherer,
	}

	p.SetEventHook(func(ev pipeline.Event) {
		s.broadcastWSMessage(string(ev.Type), ev)
	})

	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/photos", s.handleUpload).Methods("POST")
	api.HandleFunc("/photos", s.handleRemove).Methods("DELETE")

	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Stored images for the local backend
	if local, ok := s.pipeline.Backend().(*storage.LocalBackend); ok {
		prefix := strings.TrimSuffix(s.cfg.Storage.Local.URLPrefix, "/")
		if prefix == "" {
			prefix = "/uploads"
		}
		s.router.PathPrefix(prefix + "/").Handler(
			http.StripPrefix(prefix+"/", http.FileServer(http.Dir(local.Root()))),
		)
	}
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.pipeline.SetEventHook(nil)

	s.wsMutex.Lock()
	for client := range s.wsClients {
		s.dropClient(client)
	}
	s.wsMutex.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	defaults := s.pipeline.Defaults()
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"backend": s.pipeline.Backend().Name(),
			"defaults": map[string]interface{}{
				"max_width":  defaults.MaxWidth,
				"max_height": defaults.MaxHeight,
				"quality":    defaults.Quality,
				"format":     defaults.Format,
			},
			"statistics": s.stats.Snapshot(),
			"summary":    s.stats.GetSummary(),
		},
	})
}

// handleUpload accepts a multipart "file" field plus optional "folder", "quality" and "format".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		s.stats.RecordUpload(false)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, upload.ErrTooLarge.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		s.writeError(w, "Invalid multipart body", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	opts, err := compressionOptions(r)
	if err != nil {
		s.stats.RecordUpload(false)
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	folder := r.FormValue("folder")
	if folder == "" {
		folder = s.cfg.Pipeline.Folder
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.stats.RecordUpload(false)
		s.writeError(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	up, err := s.receiver.Receive(file, header.Filename, header.Header.Get("Content-Type"))
	s.stats.RecordUpload(err == nil)
	if err != nil {
		s.writeError(w, err.Error(), uploadStatus(err))
		return
	}

	res, err := s.pipeline.Ingest(r.Context(), up.Path, folder, opts...)
	if err != nil {
		s.writeError(w, err.Error(), ingestStatus(err))
		return
	}

	s.writeJSONStatus(w, http.StatusCreated, APIResponse{
		Success: true,
		Message: "Image uploaded and compressed successfully",
		Data:    res,
	})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	var req RemoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Reference == "" {
		s.writeError(w, "Reference is required", http.StatusBadRequest)
		return
	}

	if err := s.pipeline.Remove(r.Context(), req.Reference); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, storage.ErrForeignReference) || errors.Is(err, storage.ErrInvalidReference) {
			status = http.StatusBadRequest
		}
		s.writeError(w, err.Error(), status)
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Image removed",
	})
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// writeLoop delivers queued events until the queue is closed or a write fails.
func (c *wsClient) writeLoop(log *logrus.Logger) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteLimit))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Debugf("WebSocket write failed: %v", err)
			c.conn.Close()
			for range c.send {
			}
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.conn.Close()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, wsQueueSize)}
	s.wsMutex.Lock()
	s.wsClients[client] = struct{}{}
	s.wsMutex.Unlock()
	go client.writeLoop(s.log)

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		s.dropClient(client)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// dropClient unregisters client and stops its writer. wsMutex must be held.
func (s *Server) dropClient(client *wsClient) {
	if _, ok := s.wsClients[client]; !ok {
		return
	}
	delete(s.wsClients, client)
	close(client.send)
}

// broadcastWSMessage queues an event for every client without waiting on the network.
// A client whose queue is full is disconnected, so a slow reader never stalls the pipeline.
func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	msgBytes, err := json.Marshal(WSMessage{Type: messageType, Data: data})
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for client := range s.wsClients {
		select {
		case client.send <- msgBytes:
		default:
			s.log.Warn("WebSocket client too slow, disconnecting")
			s.dropClient(client)
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	s.writeJSONStatus(w, http.StatusOK, data)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}

// compressionOptions reads the optional per-request overrides.
func compressionOptions(r *http.Request) ([]compressor.Option, error) {
	var opts []compressor.Option
	if q := r.FormValue("quality"); q != "" {
		quality, err := strconv.Atoi(q)
		if err != nil || quality < 1 || quality > 100 {
			return nil, fmt.Errorf("quality must be an integer between 1 and 100")
		}
		opts = append(opts, compressor.WithQuality(quality))
	}
	if f := r.FormValue("format"); f != "" {
		format, err := compressor.ParseFormat(f)
		if err != nil {
			return nil, err
		}
		opts = append(opts, compressor.WithFormat(format))
	}
	return opts, nil
}

func uploadStatus(err error) int {
	switch {
	case errors.Is(err, upload.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, upload.ErrTypeNotAllowed):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, upload.ErrEmpty):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func ingestStatus(err error) int {
	var validationErr *compressor.ValidationError
	var compressionErr *compressor.CompressionError
	var storageErr *storage.StorageError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &compressionErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &storageErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
