// Package exchange is the HTTP relay that moves keys and weight documents between the two
// parties, and the client the parties use to talk to it. Every tracked request leaves one
// record in the metrics log.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"flpre/configs"
	"flpre/src/metrics"
	"flpre/src/utils"
)

const maxFieldBytes = 256

// Server serves the fixed artifact routes of a ServerConfig.
type Server struct {
	cfg     configs.ServerConfig
	logger  utils.Logger
	metrics *metrics.Log
	locks   *pathLocks
	router  chi.Router
}

// transfer collects what a handler learned about the request for its metrics record.
type transfer struct {
	kind     string
	clientID string
	file     string
	payload  int64
}

type upload struct {
	route, dest, kind string
}

// NewServer expects cfg to be resolved.
func NewServer(cfg configs.ServerConfig, logger utils.Logger) (*Server, error) {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = configs.DefaultMaxBodyBytes
	}
	log, err := metrics.NewLog(cfg.MetricsPath)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: log,
		locks:   newPathLocks(),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	r.Get("/getCC", s.tracked("config", s.serve(s.cfg.CC.Path, http.StatusNotFound)))
	r.Get("/sendPbKeyC1", s.tracked("pubkey", s.serve(s.cfg.Clients.Client1Public, http.StatusInternalServerError)))
	r.Get("/sendPbKeyC2", s.tracked("pubkey", s.serve(s.cfg.Clients.Client2Public, http.StatusInternalServerError)))
	r.Get("/download/*", s.tracked("", s.download))

	c := s.cfg.Clients
	for _, u := range []upload{
		{"/uploadPubKeyC1", c.Client1Public, "pubkey"},
		{"/uploadPubKeyC2", c.Client2Public, "pubkey"},
		{"/uploadReKeyC1", c.Client1ReKey, "rekey"},
		{"/uploadReKeyC2", c.Client2ReKey, "rekey"},
		{"/uploadEncWeightsC1", c.Client1EncryptedWeights, "weights"},
		{"/uploadEncWeightsC2", c.Client2EncryptedWeights, "weights"},
		{"/uploadDomainChange", c.DomainChanged, "weights"},
		{"/uploadAggregated", c.Aggregated, "weights"},
		{"/uploadDomainChangeAgg", c.AggregatedDomainChanged, "weights"},
	} {
		r.Post(u.route, s.tracked(u.kind, s.receive(u.dest)))
	}
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on the configured address until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen.Address())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Listen.Address(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then drains in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.PrintMessages("[SERVER] HTTP server running on http://", ln.Addr().String())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.PrintMessage("[SERVER] Stopped")
	return nil
}

// tracked limits the body, measures the exchange and appends one server record.
func (s *Server) tracked(kind string, h func(http.ResponseWriter, *http.Request, *transfer)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		body := &countingReader{ReadCloser: r.Body}
		r.Body = http.MaxBytesReader(w, body, s.cfg.MaxBodyBytes)
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}

		query := r.URL.Query()
		t := &transfer{kind: kind, clientID: query.Get("client_id")}
		if v := query.Get("type"); v != "" {
			t.kind = v
		}

		h(rec, r, t)

		record := metrics.Record{
			Timestamp:     start,
			Role:          metrics.RoleServer,
			Method:        r.Method,
			Endpoint:      r.URL.Path,
			ClientID:      t.clientID,
			Type:          t.kind,
			File:          t.file,
			PayloadSize:   t.payload,
			BytesSent:     rec.written,
			BytesReceived: body.n,
			LatencyMs:     time.Since(start).Milliseconds(),
			HTTPCode:      rec.code,
		}
		if record.Type == "" {
			record.Type = metrics.InferType(record)
		}
		if err := s.metrics.Append(record); err != nil {
			s.logger.PrintError("[SERVER] %v", err)
		}
	}
}

// serve streams a fixed artifact; missing is the status reported when it cannot be opened.
func (s *Server) serve(path string, missing int) func(http.ResponseWriter, *http.Request, *transfer) {
	return func(w http.ResponseWriter, r *http.Request, t *transfer) {
		t.file = path
		s.logger.PrintMessages("[SERVER] Serving ", path)
		s.streamFile(w, path, t, missing)
	}
}

func (s *Server) download(w http.ResponseWriter, r *http.Request, t *transfer) {
	rel, err := url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	target, ok := s.resolve(rel)
	if !ok {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	t.file = target
	if s.streamFile(w, target, t, http.StatusNotFound) {
		s.logger.PrintFormatted("[SERVER] Serving file %s (%d bytes)", target, t.payload)
	}
}

// resolve maps rel onto a path inside the storage root, following symlinks.
func (s *Server) resolve(rel string) (string, bool) {
	rel = filepath.FromSlash(rel)
	if !filepath.IsLocal(rel) {
		return "", false
	}
	target := filepath.Join(s.cfg.StorageRoot, rel)

	root, err := filepath.EvalSymlinks(s.cfg.StorageRoot)
	if err != nil {
		return "", false
	}
	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		return "", false
	}
	inside, err := filepath.Rel(root, resolved)
	if err != nil || !filepath.IsLocal(inside) {
		return "", false
	}
	return target, true
}

func (s *Server) streamFile(w http.ResponseWriter, path string, t *transfer, missing int) bool {
	lock := s.locks.get(path)
	lock.RLock()
	defer lock.RUnlock()

	f, err := os.Open(path)
	if err != nil {
		if missing == http.StatusNotFound {
			http.Error(w, "Not found", missing)
		} else {
			http.Error(w, "Error: cannot open file", missing)
		}
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "Failed to open file", http.StatusInternalServerError)
		return false
	}
	if !info.Mode().IsRegular() {
		http.Error(w, "Not found", http.StatusNotFound)
		return false
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)
	n, err := io.Copy(w, f)
	t.payload = n
	if err != nil {
		s.logger.PrintError("[SERVER] Streaming %s: %v", path, err)
		return false
	}
	return true
}

// receive stores the "file" part of a multipart body at dest. The part is staged next to
// dest and renamed over it, so readers never see a partial artifact.
func (s *Server) receive(dest string) func(http.ResponseWriter, *http.Request, *transfer) {
	return func(w http.ResponseWriter, r *http.Request, t *transfer) {
		t.file = dest
		mr, err := r.MultipartReader()
		if err != nil {
			http.Error(w, "Expected a multipart form body", http.StatusBadRequest)
			return
		}

		var staged *os.File
		defer func() {
			if staged != nil {
				staged.Close()
				os.Remove(staged.Name())
			}
		}()

		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				s.bodyError(w, err)
				return
			}
			switch part.FormName() {
			case "file":
				if staged == nil {
					if staged, err = stage(dest); err != nil {
						s.logger.PrintError("[SERVER] %v", err)
						http.Error(w, "Error: cannot open file for writing", http.StatusInternalServerError)
						return
					}
				}
				n, err := io.Copy(staged, part)
				t.payload += n
				if err != nil {
					s.bodyError(w, err)
					return
				}
			case "client_id":
				t.clientID = readField(part)
			case "type":
				t.kind = readField(part)
			}
			part.Close()
		}

		if staged == nil {
			http.Error(w, "Missing \"file\" part", http.StatusBadRequest)
			return
		}
		if err = s.commit(staged, dest); err != nil {
			s.logger.PrintError("[SERVER] %v", err)
			http.Error(w, "Error: cannot open file for writing", http.StatusInternalServerError)
			return
		}
		staged = nil

		s.logger.PrintFormatted("[SERVER] Received and saved %s to %s", t.kind, dest)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"status":"received"}`)
	}
}

func stage(dest string) (*os.File, error) {
	if err := utils.EnsureParentDir(dest); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return nil, fmt.Errorf("%w: stage %s: %w", utils.ErrArtifact, dest, err)
	}
	return f, nil
}

func (s *Server) commit(staged *os.File, dest string) error {
	name := staged.Name()
	if err := staged.Chmod(0644); err != nil {
		staged.Close()
		os.Remove(name)
		return fmt.Errorf("%w: chmod %s: %w", utils.ErrArtifact, name, err)
	}
	if err := staged.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("%w: close %s: %w", utils.ErrArtifact, name, err)
	}

	lock := s.locks.get(dest)
	lock.Lock()
	defer lock.Unlock()
	if err := os.Rename(name, dest); err != nil {
		os.Remove(name)
		return fmt.Errorf("%w: rename to %s: %w", utils.ErrArtifact, dest, err)
	}
	return nil
}

func (s *Server) bodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	var pathErr *fs.PathError
	switch {
	case errors.As(err, &tooLarge):
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
	case errors.As(err, &pathErr):
		s.logger.PrintError("[SERVER] %v", err)
		http.Error(w, "Error: cannot write file", http.StatusInternalServerError)
	default:
		http.Error(w, "Malformed multipart body", http.StatusBadRequest)
	}
}

func readField(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxFieldBytes))
	return string(b)
}

// pathLocks hands out one RWMutex per artifact path.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: map[string]*sync.RWMutex{}}
}

func (p *pathLocks) get(path string) *sync.RWMutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[path]
	if !ok {
		l = &sync.RWMutex{}
		p.locks[path] = l
	}
	return l
}

type countingReader struct {
	io.ReadCloser
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	c.n += int64(n)
	return n, err
}

type statusRecorder struct {
	http.ResponseWriter
	code        int
	written     int64
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	if !s.wroteHeader {
		s.code = statusCode
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(statusCode)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wroteHeader {
		s.WriteHeader(http.StatusOK)
	}
	n, err := s.ResponseWriter.Write(b)
	s.written += int64(n)
	return n, err
}
