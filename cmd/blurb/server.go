package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/chriskillpack/blurb"
	"github.com/chriskillpack/blurb/captioner"
	"github.com/chriskillpack/blurb/internal/imgproc"
	"github.com/chriskillpack/blurb/internal/metrics"
	"golang.org/x/sync/semaphore"
)

var (
	//go:embed tmpl/*.html
	tmplFS embed.FS

	//go:embed static
	staticFS embed.FS

	indexTmpl *template.Template
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	maxModeBytes        = 64
)

func init() {
	indexTmpl = template.Must(template.ParseFS(tmplFS, "tmpl/index.html"))
}

type ServerOptions struct {
	Host           string
	Port           int
	MaxUploadBytes int64
	MaxImageDim    int
	MaxImagePixels int64 // 0 uses imgproc.DefaultMaxPixels
	CORS           bool
	Backend        string // configured backend, reported by /health before the model loads
}

type Server struct {
	hs      *http.Server
	opts    ServerOptions
	gen     *blurb.Generator
	db      *blurb.DB // nil when history is disabled
	metrics *metrics.Metrics
	logger  *slog.Logger

	// decodes bounds how many uploads are decoded at once.
	decodes *semaphore.Weighted
}

func NewServer(gen *blurb.Generator, db *blurb.DB, m *metrics.Metrics, logger *slog.Logger, opts ServerOptions) *Server {
	srv := &Server{
		opts:    opts,
		gen:     gen,
		db:      db,
		metrics: m,
		logger:  logger,
		decodes: semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
	}

	srv.hs = &http.Server{
		Addr:              net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		Handler:           srv.serveHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv
}

func (s *Server) Start() error {
	s.logger.Info("Starting server", "addr", s.hs.Addr)
	return s.hs.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.hs.Shutdown(ctx)
}

// routes lists the paths served, used to tell a wrong method from an unknown
// path.
var routes = []string{"/", "/upload", "/health", "/captions", "/metrics"}

func (s *Server) serveHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /static/", http.FileServerFS(staticFS))
	mux.Handle("GET /{$}", s.serveRoot())
	mux.Handle("POST /upload", s.serveUpload())
	mux.Handle("GET /health", s.serveHealth())
	mux.Handle("GET /captions", s.serveCaptions())
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.Handle("/", s.serveFallback())

	var h http.Handler = mux
	if s.opts.CORS {
		h = withCORS(h)
	}
	h = s.withRecover(h)
	if s.metrics != nil {
		h = s.withMetrics(h)
	}
	return h
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

type uploadResponse struct {
	Success  bool   `json:"success"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
	Mode     string `json:"mode"`
}

func (s *Server) tooLarge(w http.ResponseWriter) {
	s.writeError(w, http.StatusRequestEntityTooLarge,
		fmt.Sprintf("File too large. Maximum size is %dMB", s.opts.MaxUploadBytes>>20))
}

// upload is the part of a multipart upload the handler cares about.
type upload struct {
	hasFile  bool // an image part with a filename parameter was seen
	filename string
	data     []byte
	mode     string
}

// parseUpload reads the multipart body part by part. A part is a file only
// when its Content-Disposition carries a filename parameter, even an empty
// one. Parts without it are plain form values. The first image file and the
// first type value win and everything else is skipped.
func parseUpload(req *http.Request) (*upload, error) {
	mr, err := req.MultipartReader()
	if err != nil {
		return nil, err
	}

	up := &upload{}
	var seenMode bool
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return up, nil
		}
		if err != nil {
			return nil, err
		}

		_, params, err := mime.ParseMediaType(p.Header.Get("Content-Disposition"))
		if err != nil {
			continue
		}
		filename, isFile := params["filename"]
		switch {
		case params["name"] == "image" && isFile && !up.hasFile:
			up.data, err = io.ReadAll(p)
			if err != nil {
				return nil, err
			}
			up.hasFile = true
			up.filename = filename
		case params["name"] == "type" && !isFile && !seenMode:
			b, err := io.ReadAll(io.LimitReader(p, maxModeBytes))
			if err != nil {
				return nil, err
			}
			up.mode = string(b)
			seenMode = true
		}
	}
}

// normalize runs imgproc.Normalize once a decode slot is free.
func (s *Server) normalize(ctx context.Context, data []byte) ([]byte, error) {
	if err := s.decodes.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.decodes.Release(1)
	return imgproc.Normalize(data, imgproc.Options{
		MaxDim:    s.opts.MaxImageDim,
		MaxPixels: s.opts.MaxImagePixels,
	})
}

func (s *Server) serveUpload() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.ContentLength > s.opts.MaxUploadBytes {
			s.tooLarge(w)
			return
		}
		req.Body = http.MaxBytesReader(w, req.Body, s.opts.MaxUploadBytes)

		up, err := parseUpload(req)
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				s.tooLarge(w)
				return
			}
			s.logger.Debug("Unparseable upload", "error", err)
			up = &upload{}
		}
		if !up.hasFile {
			s.writeError(w, http.StatusBadRequest, "No image file provided")
			return
		}
		if up.filename == "" {
			s.writeError(w, http.StatusBadRequest, "No file selected")
			return
		}
		if !imgproc.AllowedFile(up.filename) {
			s.writeError(w, http.StatusBadRequest,
				"Invalid file type. Allowed types: "+strings.Join(imgproc.AllowedTypes(), ", "))
			return
		}

		img, err := s.normalize(req.Context(), up.data)
		if err != nil {
			if ctxErr := req.Context().Err(); ctxErr != nil {
				s.logger.Debug("Upload abandoned waiting to decode", "filename", up.filename, "error", ctxErr)
				return
			}
			s.logger.Error("Error reading image", "filename", up.filename, "error", err)
			s.writeError(w, http.StatusBadRequest, "Invalid or corrupted image file")
			return
		}

		mode := captioner.ParseMode(up.mode)
		caption, err := s.gen.Generate(req.Context(), img, mode)
		if err != nil {
			s.logger.Error("Error generating caption", "filename", up.filename, "mode", mode, "error", err)
			s.writeError(w, http.StatusInternalServerError, "Failed to generate caption. Please try again.")
			return
		}
		s.logger.Info("Successfully generated caption",
			"filename", up.filename,
			"mode", mode,
			"cached", caption.Cached,
			"elapsed", caption.Duration.Round(time.Millisecond))

		s.record(req.Context(), up.filename, caption)

		s.writeJSON(w, http.StatusOK, uploadResponse{
			Success:  true,
			Caption:  caption.Text,
			Filename: up.filename,
			Mode:     string(mode),
		})
	}
}

// record writes caption to the history. Failures are logged and otherwise
// ignored.
func (s *Server) record(ctx context.Context, filename string, c *blurb.Caption) {
	if s.db == nil {
		return
	}
	err := s.db.InsertCaption(ctx, &blurb.Record{
		Filename:   filename,
		Mode:       string(c.Mode),
		Caption:    c.Text,
		Captioner:  c.Captioner,
		Model:      c.Model,
		Cached:     c.Cached,
		DurationMS: c.Duration.Milliseconds(),
	})
	if err != nil {
		s.logger.Warn("Failed to record caption", "filename", filename, "error", err)
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Captioner string `json:"captioner"`
	Model     string `json:"model,omitempty"`
	Device    string `json:"device"`
	Loaded    bool   `json:"loaded"`
}

func (s *Server) serveHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		name, model := s.gen.Info()
		if name == "" {
			name = s.opts.Backend
		}
		s.writeJSON(w, http.StatusOK, healthResponse{
			Status:    "healthy",
			Service:   "Image Captioning API",
			Captioner: name,
			Model:     model,
			Device:    string(s.gen.Device()),
			Loaded:    s.gen.Loaded(),
		})
	}
}

func (s *Server) serveCaptions() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if s.db == nil {
			s.writeError(w, http.StatusServiceUnavailable, "Caption history is disabled")
			return
		}

		limit := defaultHistoryLimit
		if v := req.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				s.writeError(w, http.StatusBadRequest, "Invalid limit")
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		recs, err := s.db.RecentCaptions(req.Context(), limit)
		if err != nil {
			s.logger.Error("Failed to list captions", "error", err)
			s.writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if recs == nil {
			recs = []*blurb.Record{}
		}
		s.writeJSON(w, http.StatusOK, struct {
			Captions []*blurb.Record `json:"captions"`
		}{recs})
	}
}

func (s *Server) serveRoot() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		data := struct {
			MaxMB   int64
			Allowed string
		}{
			MaxMB:   s.opts.MaxUploadBytes >> 20,
			Allowed: strings.Join(imgproc.AllowedTypes(), ", "),
		}
		if err := indexTmpl.Execute(w, data); err != nil {
			s.logger.Error("Failed to render index", "error", err)
		}
	}
}

func (s *Server) serveFallback() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		for _, r := range routes {
			if req.URL.Path == r {
				s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
				return
			}
		}
		if strings.HasPrefix(req.URL.Path, "/static/") {
			s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		s.writeError(w, http.StatusNotFound, "Endpoint not found")
	}
}

func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.logger.Error("Handler panic", "path", req.URL.Path, "panic", v)
				s.writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, req)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, req)

		// The mux fills in the matched pattern on the request.
		path := req.Pattern
		if path == "" || path == "/" {
			path = "unmatched"
		}
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		s.metrics.HTTPRequests.WithLabelValues(path, req.Method, strconv.Itoa(rec.status)).Inc()
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if req.Method == http.MethodOptions && req.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}
