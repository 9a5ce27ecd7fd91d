// Package main provides an HTTP/JSON demo server over a pagevault Store.
package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/oda/pagevault/pkg/pagevault"
	"github.com/rs/zerolog"
)

// Server holds the open Store and exposes it over HTTP.
type Server struct {
	store *pagevault.Store
	log   zerolog.Logger
}

// Response is a generic JSON response.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// AllocateRequest is the request body for POST /allocate.
type AllocateRequest struct {
	Size uint32 `json:"size"`
}

// WriteRequest is the request body for POST /write and POST /writeAt.
// Data is base64-encoded, matching how JSON carries arbitrary bytes.
type WriteRequest struct {
	Handle   uint32 `json:"handle"`
	Position uint32 `json:"position,omitempty"`
	Data     string `json:"data"`
}

// HandleRequest is the request body for POST /free.
type HandleRequest struct {
	Handle uint32 `json:"handle"`
}

func main() {
	addr := os.Getenv("PAGEVAULTD_ADDR")
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	path := os.Getenv("PAGEVAULTD_FILE")
	if path == "" {
		path = "pagevault.cf"
	}

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	opts := pagevault.DefaultOptions()
	opts.Logger = log
	store, err := pagevault.Open(path, opts)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to open store")
		os.Exit(1)
	}
	defer store.Close()

	s := &Server{store: store, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/allocate", s.handleAllocate)
	mux.HandleFunc("/free", s.handleFree)
	mux.HandleFunc("/write", s.handleWrite)
	mux.HandleFunc("/writeAt", s.handleWriteAt)
	mux.HandleFunc("/read", s.handleRead)
	mux.HandleFunc("/readAt", s.handleReadAt)
	mux.HandleFunc("/length", s.handleLength)
	mux.HandleFunc("/validate", s.handleValidate)

	log.Info().Str("addr", addr).Str("path", path).Msg("pagevaultd starting")
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		log.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, Response{Error: err.Error()})
}

// statusForErr maps a pagevault.Error's Kind to an HTTP status.
func statusForErr(err error) int {
	pvErr, ok := err.(*pagevault.Error)
	if !ok {
		return http.StatusInternalServerError
	}
	switch pvErr.Kind {
	case pagevault.InvalidHandle, pagevault.OutOfRange:
		return http.StatusBadRequest
	case pagevault.AlreadyClosed:
		return http.StatusServiceUnavailable
	case pagevault.CorruptData:
		return http.StatusConflict
	case pagevault.OutOfSpace:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "invalid request body"})
		return
	}

	h, err := s.store.Allocate(req.Size)
	if err != nil {
		writeErr(w, statusForErr(err), err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]uint32{"handle": h}})
}

func (s *Server) handleFree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	var req HandleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "invalid request body"})
		return
	}

	if err := s.store.Free(req.Handle); err != nil {
		writeErr(w, statusForErr(err), err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true})
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "invalid request body"})
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "data must be base64"})
		return
	}

	if err := s.store.Write(req.Handle, data); err != nil {
		writeErr(w, statusForErr(err), err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true})
}

func (s *Server) handleWriteAt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "invalid request body"})
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "data must be base64"})
		return
	}

	if err := s.store.WriteAt(req.Handle, req.Position, data); err != nil {
		writeErr(w, statusForErr(err), err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true})
}

func parseHandleQuery(r *http.Request) (uint32, error) {
	str := r.URL.Query().Get("handle")
	if str == "" {
		return 0, fmt.Errorf("handle is required")
	}
	h, err := strconv.ParseUint(str, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid handle format")
	}
	return uint32(h), nil
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	h, err := parseHandleQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: err.Error()})
		return
	}

	data, err := s.store.ReadAll(h)
	if err != nil {
		writeErr(w, statusForErr(err), err)
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    map[string]string{"data": base64.StdEncoding.EncodeToString(data)},
	})
}

func (s *Server) handleReadAt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	h, err := parseHandleQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: err.Error()})
		return
	}

	offStr := r.URL.Query().Get("offset")
	lenStr := r.URL.Query().Get("length")
	if offStr == "" || lenStr == "" {
		writeJSON(w, http.StatusBadRequest, Response{Error: "offset and length are required"})
		return
	}

	off, err := strconv.ParseUint(offStr, 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "invalid offset format"})
		return
	}
	length, err := strconv.ParseUint(lenStr, 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: "invalid length format"})
		return
	}

	buf := make([]byte, length)
	n, err := s.store.ReadAt(h, buf, uint32(off))
	if err != nil {
		writeErr(w, statusForErr(err), err)
		return
	}

	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    map[string]string{"data": base64.StdEncoding.EncodeToString(buf[:n])},
	})
}

func (s *Server) handleLength(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	h, err := parseHandleQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: err.Error()})
		return
	}

	n, err := s.store.GetLength(h)
	if err != nil {
		writeErr(w, statusForErr(err), err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]uint32{"length": n}})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
		return
	}

	ok, err := s.store.ValidateCRC()
	if err != nil {
		writeErr(w, statusForErr(err), err)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]bool{"valid": ok}})
}
