// Package httpapi exposes the music pipeline over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/music-service/internal/audio"
	"github.com/book-expert/music-service/internal/core"
	"github.com/book-expert/music-service/internal/pipeline"
)

const (
	maxRequestBytes   = 1 << 16
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second

	headerContentType        = "Content-Type"
	headerContentDisposition = "Content-Disposition"
	headerRequestID          = "X-Request-ID"
	contentTypeJSON          = "application/json"

	assetPathFmt = "/v1/assets/%s"
)

// Generator runs one generation request end to end.
type Generator interface {
	Generate(ctx context.Context, request pipeline.Request, progress core.ProgressFunc) (*pipeline.Result, error)
}

// AssetReader reads stored assets by reference.
type AssetReader interface {
	ReadBytes(ctx context.Context, ref core.AssetRef) ([]byte, error)
}

// GenerateRequest is the JSON body of POST /v1/music. Index defaults to 0.
type GenerateRequest struct {
	Prompt   string `json:"prompt"`
	Duration int    `json:"duration"`
	Index    *int   `json:"index,omitempty"`
}

// GenerateResponse describes a generated asset.
type GenerateResponse struct {
	Asset           string  `json:"asset"`
	DurationSeconds float64 `json:"duration_seconds"`
	SampleRate      int     `json:"sample_rate"`
	Size            int64   `json:"size"`
	DataURI         string  `json:"data_uri"`
	DownloadName    string  `json:"download_name"`
	AudioURL        string  `json:"audio_url"`
}

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorKind string `json:"error_kind"`
	Detail    string `json:"detail,omitempty"`
}

// Server serves the music HTTP API.
type Server struct {
	generator Generator
	assets    AssetReader
	log       *logger.Logger
	mux       *http.ServeMux
}

// NewServer creates a server and registers its routes.
func NewServer(generator Generator, assets AssetReader, log *logger.Logger) *Server {
	server := &Server{
		generator: generator,
		assets:    assets,
		log:       log,
		mux:       http.NewServeMux(),
	}

	server.mux.HandleFunc("POST /v1/music", server.handleGenerate)
	server.mux.HandleFunc("GET /v1/assets/{name}", server.handleAsset)
	server.mux.HandleFunc("GET /health", server.handleHealth)

	return server
}

// ServeHTTP tags each request with an id and dispatches it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(headerRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	w.Header().Set(headerRequestID, requestID)

	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errChan := make(chan error, 1)

	go func() {
		s.log.Info("HTTP API listening on %s", addr)
		errChan <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}

	return nil
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body GenerateRequest

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()

	err := decoder.Decode(&body)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: malformed request body: %v", core.ErrInvalidInput, err))

		return
	}

	request := pipeline.Request{Prompt: body.Prompt, DurationSeconds: body.Duration}
	if body.Index != nil {
		request.Index = *body.Index
	}

	result, err := s.generator.Generate(r.Context(), request, nil)
	if err != nil {
		s.log.Error("Request %s failed: %v", w.Header().Get(headerRequestID), err)
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, GenerateResponse{
		Asset:           result.Asset.Name,
		DurationSeconds: result.Duration.Seconds(),
		SampleRate:      result.SampleRate,
		Size:            result.Asset.Size,
		DataURI:         result.DataURI(),
		DownloadName:    result.Asset.Name,
		AudioURL:        fmt.Sprintf(assetPathFmt, result.Asset.Name),
	})
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	data, err := s.assets.ReadBytes(r.Context(), core.AssetRef{Name: name})
	if err != nil {
		s.writeError(w, err)

		return
	}

	w.Header().Set(headerContentType, audio.MediaTypeWAV)
	w.Header().Set(headerContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)

	_, err = w.Write(data)
	if err != nil {
		s.log.Warn("Failed to write asset '%s': %v", name, err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := core.ErrorKind(err)

	response := ErrorResponse{
		Error:     core.UserMessage(err),
		ErrorKind: kind,
	}

	if kind == core.KindInvalidInput || errors.Is(err, core.ErrAssetNotFound) {
		response.Detail = err.Error()
	}

	s.writeJSON(w, statusForError(err), response)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		s.log.Warn("Failed to encode response: %v", err)
	}
}

// statusForError maps the error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	if errors.Is(err, core.ErrAssetNotFound) {
		return http.StatusNotFound
	}

	switch core.ErrorKind(err) {
	case core.KindInvalidInput:
		return http.StatusBadRequest
	case core.KindModelUnavailable:
		return http.StatusServiceUnavailable
	case core.KindGenerationFailure:
		return http.StatusBadGateway
	case core.KindCanceled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
