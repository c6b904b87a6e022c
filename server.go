package main

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/secureqr/qr-sentinel/internal/blacklist"
	"github.com/secureqr/qr-sentinel/internal/candidate"
	"github.com/secureqr/qr-sentinel/internal/config"
	"github.com/secureqr/qr-sentinel/internal/model"
	"github.com/secureqr/qr-sentinel/internal/qr"
	"github.com/secureqr/qr-sentinel/internal/verdict"
)

var allowedExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
}

// Server is the HTTP server.
type Server struct {
	service *verdict.Service
	cfg     *config.Config
	router  *mux.Router
}

// NewServer creates a new HTTP server.
func NewServer(svc *verdict.Service, cfg *config.Config) *Server {
	s := &Server{
		service: svc,
		cfg:     cfg,
		router:  mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/api/v1/scan", s.handleScan).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/scan/check", s.handleScanCheck).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/check", s.handleCheck).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/stats", s.handleStats).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	// CORS
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Auth check (skip for health endpoint)
	if s.cfg.AuthKey != "" && r.URL.Path != "/api/v1/health" {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == "" {
			token = auth
		}
		if token != s.cfg.AuthKey {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			log.Printf("[http] %s %s 401 unauthorized %s", r.Method, r.URL.Path, time.Since(start))
			return
		}
	}

	s.router.ServeHTTP(w, r)

	log.Printf("[http] %s %s %s", r.Method, r.URL.Path, time.Since(start))
}

// readUpload pulls the uploaded image out of the multipart form, enforcing
// the size cap and the allowed extensions.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded or file too large")
		return nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return nil, false
	}
	defer file.Close()

	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "no selected file")
		return nil, false
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if _, ok := allowedExtensions[ext]; !ok {
		writeError(w, http.StatusBadRequest, "invalid file type")
		return nil, false
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return nil, false
	}
	return data, true
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	codes, err := qr.Decode(data)
	if err != nil {
		if errors.Is(err, qr.ErrNoCode) {
			writeError(w, http.StatusNotFound, "no QR code found")
			return
		}
		writeError(w, http.StatusBadRequest, "could not process image")
		return
	}

	writeJSON(w, http.StatusOK, &model.ScanResponse{
		ScanID: uuid.New().String(),
		Codes:  codes,
	})
}

func (s *Server) handleScanCheck(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	codes, err := qr.Decode(data)
	if err != nil {
		if errors.Is(err, qr.ErrNoCode) {
			writeError(w, http.StatusNotFound, "no QR code found")
			return
		}
		writeError(w, http.StatusBadRequest, "could not process image")
		return
	}

	// First decoded payload drives the safety check.
	writeJSON(w, http.StatusOK, &model.ScanResponse{
		ScanID: uuid.New().String(),
		Codes:  codes,
		Check:  s.checkPayload(r, codes[0].Data, ""),
	})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "no URL provided")
		return
	}

	writeJSON(w, http.StatusOK, s.checkPayload(r, req.URL, uuid.New().String()))
}

// checkPayload classifies a decoded payload and evaluates URL candidates.
// Opaque text is echoed back without a verdict.
func (s *Server) checkPayload(r *http.Request, raw, scanID string) interface{} {
	cand := candidate.Classify(raw)
	if !cand.IsURL() {
		echo := &model.TextEcho{
			ScanID:  scanID,
			Kind:    string(cand.Kind),
			Content: cand.Raw,
		}
		if blacklist.IsUPILink(cand.Raw) {
			valid := blacklist.ValidUPILink(cand.Raw)
			echo.UPIValid = &valid
		}
		return echo
	}

	v := s.service.Evaluate(r.Context(), cand)
	return &model.URLCheck{
		ScanID:    scanID,
		Candidate: cand.Raw,
		Kind:      string(cand.Kind),
		IsSafe:    v.Safety.Bool(),
		Verdict:   v,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Stats())
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, &model.ErrorResponse{
		Error: msg,
		Code:  status,
	})
}
