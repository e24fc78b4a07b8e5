// Package api exposes the live tracking state, the localization engine and
// the stored history as a small JSON and image HTTP surface.
package api

import (
	"bytes"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/rf.twin/internal/db"
	"github.com/banshee-data/rf.twin/internal/fingerprint"
	"github.com/banshee-data/rf.twin/internal/httputil"
	"github.com/banshee-data/rf.twin/internal/locate"
	"github.com/banshee-data/rf.twin/internal/report"
	"github.com/banshee-data/rf.twin/internal/tracking"
	"github.com/banshee-data/rf.twin/internal/version"
)

const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server serves the HTTP API. Every collaborator is optional; routes whose
// backing component is missing answer 503.
type Server struct {
	tracker *tracking.Tracker
	engine  *locate.Engine
	fdb     *fingerprint.Database
	store   *db.DB
}

// Options wires the collaborators of a Server.
type Options struct {
	Tracker      *tracking.Tracker
	Engine       *locate.Engine
	Fingerprints *fingerprint.Database
	Store        *db.DB
}

func NewServer(opts Options) *Server {
	return &Server{
		tracker: opts.Tracker,
		engine:  opts.Engine,
		fdb:     opts.Fingerprints,
		store:   opts.Store,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	code := strconv.Itoa(statusCode)
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + code + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + code + colorReset
	case statusCode >= 400:
		return colorBoldRed + code + colorReset
	default:
		return code
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/targets", s.listTargets)
	mux.HandleFunc("POST /api/targets", s.addTarget)
	mux.HandleFunc("GET /api/targets/{id}", s.showTarget)
	mux.HandleFunc("DELETE /api/targets/{id}", s.removeTarget)
	mux.HandleFunc("GET /api/targets/{id}/trajectory", s.showTrajectory)
	mux.HandleFunc("GET /api/stats", s.showStats)
	mux.HandleFunc("POST /api/locate", s.locate)
	mux.HandleFunc("GET /api/fingerprints", s.listFingerprints)
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/heatmap", s.showHeatmap)
	mux.HandleFunc("GET /api/trajectories", s.showTrajectories)
	mux.HandleFunc("GET /api/version", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, version.Current())
	})
	return mux
}

var contentTypes = map[string]string{
	"png":  "image/png",
	"svg":  "image/svg+xml",
	"pdf":  "application/pdf",
	"eps":  "application/postscript",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
}

// writeImage renders into memory first so that a plotting failure can
// still be reported as JSON.
func writeImage(w http.ResponseWriter, format string, draw func(*bytes.Buffer) error) {
	var buf bytes.Buffer
	if err := draw(&buf); err != nil {
		if errors.Is(err, report.ErrNoData) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.BadRequest(w, err.Error())
		return
	}
	ct, ok := contentTypes[format]
	if !ok {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Printf("failed to write image response: %v", err)
	}
}
