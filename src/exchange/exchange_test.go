package exchange

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flpre/configs"
	"flpre/src/metrics"
	"flpre/src/utils"
)

func testConfig(t *testing.T) configs.ServerConfig {
	t.Helper()
	cfg := configs.ServerConfig{
		Listen: configs.ListenConfig{IP: "127.0.0.1", Port: 8080},
		CC:     configs.ContextRef{Path: "storage/CC.json"},
		Clients: configs.ClientArtifacts{
			Client1Public:           "storage/client_1/pubkey.json",
			Client2Public:           "storage/client_2/pubkey.json",
			Client1ReKey:            "storage/client_1/rekey.json",
			Client2ReKey:            "storage/client_2/rekey.json",
			Client1EncryptedWeights: "storage/client_1/enc_weights.json",
			Client2EncryptedWeights: "storage/client_2/enc_weights.json",
			DomainChanged:           "storage/domain_changed.json",
			Aggregated:              "storage/aggregated.json",
			AggregatedDomainChanged: "storage/aggregated_domain_changed.json",
		},
	}
	require.NoError(t, cfg.Validate())
	cfg.Resolve(t.TempDir())
	require.NoError(t, utils.CreateDir(cfg.StorageRoot))
	return cfg
}

func newTestServer(t *testing.T, cfg configs.ServerConfig) *Server {
	t.Helper()
	s, err := NewServer(cfg, utils.NewLoggerTo(io.Discard, true))
	require.NoError(t, err)
	return s
}

func multipartBody(t *testing.T, fields map[string]string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "artifact.json")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func do(s *Server, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func post(t *testing.T, s *Server, route string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, map[string]string{"client_id": "client_1", "type": "pubkey"}, data)
	return do(s, http.MethodPost, route, body, ct)
}

func TestServerRoutes(t *testing.T) {
	cfg := testConfig(t)
	s := newTestServer(t, cfg)

	t.Run("Test getCC", func(t *testing.T) {
		rec := do(s, http.MethodGet, "/getCC", nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)

		require.NoError(t, os.WriteFile(cfg.CC.Path, []byte(`{"backend":"tagged"}`), 0644))
		rec = do(s, http.MethodGet, "/getCC", nil, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, `{"backend":"tagged"}`, rec.Body.String())
		assert.Equal(t, "20", rec.Header().Get("Content-Length"))
	})

	t.Run("Test unreadable public key", func(t *testing.T) {
		rec := do(s, http.MethodGet, "/sendPbKeyC2", nil, "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("Test upload then fetch", func(t *testing.T) {
		rec := post(t, s, "/uploadPubKeyC1", []byte("pk-1"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"received"}`, rec.Body.String())

		rec = do(s, http.MethodGet, "/sendPbKeyC1", nil, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "pk-1", rec.Body.String())
	})

	t.Run("Test upload overwrites", func(t *testing.T) {
		require.Equal(t, http.StatusOK, post(t, s, "/uploadEncWeightsC2", []byte(`{"weights_summary":[1,2,3,4,5,6]}`)).Code)
		require.Equal(t, http.StatusOK, post(t, s, "/uploadEncWeightsC2", []byte(`{"weights_summary":[]}`)).Code)

		raw, err := os.ReadFile(cfg.Clients.Client2EncryptedWeights)
		require.NoError(t, err)
		assert.Equal(t, `{"weights_summary":[]}`, string(raw))

		rec := do(s, http.MethodGet, "/download/client_2/enc_weights.json", nil, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, `{"weights_summary":[]}`, rec.Body.String())
	})

	t.Run("Test every upload route", func(t *testing.T) {
		routes := map[string]string{
			"/uploadPubKeyC2":        cfg.Clients.Client2Public,
			"/uploadReKeyC1":         cfg.Clients.Client1ReKey,
			"/uploadReKeyC2":         cfg.Clients.Client2ReKey,
			"/uploadEncWeightsC1":    cfg.Clients.Client1EncryptedWeights,
			"/uploadDomainChange":    cfg.Clients.DomainChanged,
			"/uploadAggregated":      cfg.Clients.Aggregated,
			"/uploadDomainChangeAgg": cfg.Clients.AggregatedDomainChanged,
		}
		for route, dest := range routes {
			require.Equal(t, http.StatusOK, post(t, s, route, []byte(route)).Code, route)
			raw, err := os.ReadFile(dest)
			require.NoError(t, err)
			assert.Equal(t, route, string(raw))
		}
	})

	t.Run("Test wrong method", func(t *testing.T) {
		assert.Equal(t, http.StatusMethodNotAllowed, do(s, http.MethodGet, "/uploadPubKeyC1", nil, "").Code)
		assert.Equal(t, http.StatusMethodNotAllowed, do(s, http.MethodPut, "/uploadAggregated", nil, "").Code)
		assert.Equal(t, http.StatusMethodNotAllowed, do(s, http.MethodPost, "/getCC", nil, "").Code)
	})

	t.Run("Test unknown route", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/uploads", nil, "").Code)
		assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/download/", nil, "").Code)
		assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/download/client_9/none.json", nil, "").Code)
		assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/download/client_1", nil, "").Code)
	})

	t.Run("Test missing file part", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{"client_id": "client_1"}, nil)
		rec := do(s, http.MethodPost, "/uploadPubKeyC1", body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		raw, err := os.ReadFile(cfg.Clients.Client1Public)
		require.NoError(t, err)
		assert.Equal(t, "pk-1", string(raw))
	})

	t.Run("Test not multipart", func(t *testing.T) {
		rec := do(s, http.MethodPost, "/uploadPubKeyC1", strings.NewReader("pk"), "text/plain")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServerPathTraversal(t *testing.T) {
	cfg := testConfig(t)
	s := newTestServer(t, cfg)

	secret := filepath.Join(filepath.Dir(cfg.StorageRoot), "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("secret"), 0644))
	require.NoError(t, os.Symlink(secret, filepath.Join(cfg.StorageRoot, "link.txt")))

	for _, target := range []string{
		"/download/../secret.txt",
		"/download/../../etc/passwd",
		"/download/%2e%2e/secret.txt",
		"/download/client_1/../../secret.txt",
		"/download/link.txt",
		"/download//etc/passwd",
	} {
		rec := do(s, http.MethodGet, target, nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
		assert.NotContains(t, rec.Body.String(), "secret", target)
	}
}

func TestServerBodyLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxBodyBytes = 1024
	s := newTestServer(t, cfg)

	rec := post(t, s, "/uploadPubKeyC1", bytes.Repeat([]byte("x"), 8192))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.NoFileExists(t, cfg.Clients.Client1Public)

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(cfg.Clients.Client1Public), "*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestBodyError(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	for _, tc := range []struct {
		err  error
		code int
	}{
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("multipart: NextPart: %w", &http.MaxBytesError{Limit: 1}), http.StatusRequestEntityTooLarge},
		{&fs.PathError{Op: "write", Path: "x", Err: os.ErrPermission}, http.StatusInternalServerError},
		{io.ErrUnexpectedEOF, http.StatusBadRequest},
	} {
		rec := httptest.NewRecorder()
		s.bodyError(rec, tc.err)
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
	}
}

func TestServerMetrics(t *testing.T) {
	cfg := testConfig(t)
	s := newTestServer(t, cfg)
	require.NoError(t, os.WriteFile(cfg.CC.Path, []byte("cc"), 0644))

	const n = 4
	for i := 0; i < n; i++ {
		require.Equal(t, http.StatusOK, post(t, s, "/uploadPubKeyC1", []byte("pk")).Code)
	}
	do(s, http.MethodGet, "/getCC?client_id=client_2", nil, "")
	do(s, http.MethodGet, "/unknown", nil, "")

	raw, err := os.ReadFile(cfg.MetricsPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, n+2)
	assert.Equal(t, strings.Join(metrics.Header, ","), lines[0])

	records, err := metrics.ReadLog(cfg.MetricsPath)
	require.NoError(t, err)
	up := records[0]
	assert.Equal(t, metrics.RoleServer, up.Role)
	assert.Equal(t, http.MethodPost, up.Method)
	assert.Equal(t, "/uploadPubKeyC1", up.Endpoint)
	assert.Equal(t, "client_1", up.ClientID)
	assert.Equal(t, "pubkey", up.Type)
	assert.Equal(t, cfg.Clients.Client1Public, up.File)
	assert.Equal(t, int64(2), up.PayloadSize)
	assert.Greater(t, up.BytesReceived, up.PayloadSize)
	assert.Equal(t, 200, up.HTTPCode)

	get := records[n]
	assert.Equal(t, "/getCC", get.Endpoint)
	assert.Equal(t, "client_2", get.ClientID)
	assert.Equal(t, "config", get.Type)
	assert.Equal(t, int64(2), get.PayloadSize)
	assert.Equal(t, int64(2), get.BytesSent)
}

func TestServerConcurrentOverwrite(t *testing.T) {
	cfg := testConfig(t)
	s := newTestServer(t, cfg)

	payloads := [][]byte{bytes.Repeat([]byte("a"), 64<<10), bytes.Repeat([]byte("b"), 64<<10)}
	require.Equal(t, http.StatusOK, post(t, s, "/uploadAggregated", payloads[0]).Code)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			assert.Equal(t, http.StatusOK, post(t, s, "/uploadAggregated", payloads[i%2]).Code)
		}(i)
		go func() {
			defer wg.Done()
			rec := do(s, http.MethodGet, "/download/aggregated.json", nil, "")
			assert.Equal(t, http.StatusOK, rec.Code)
			body := rec.Body.Bytes()
			assert.True(t, bytes.Equal(body, payloads[0]) || bytes.Equal(body, payloads[1]), "partial artifact observed")
		}()
	}
	wg.Wait()
}

func TestClient(t *testing.T) {
	cfg := testConfig(t)
	s := newTestServer(t, cfg)
	ts := httptest.NewServer(s)
	defer ts.Close()

	dir := t.TempDir()
	client, err := NewClient(configs.ClientConfig{
		ServerURL:   ts.URL + "/",
		ClientID:    "client_1",
		MetricsPath: filepath.Join(dir, configs.ClientMetricsFile),
	}, ts.Client(), utils.NewLoggerTo(io.Discard, true))
	require.NoError(t, err)

	ctx := context.Background()
	local := filepath.Join(dir, "pubkey.json")
	payload := bytes.Repeat([]byte("k"), 64<<10)
	require.NoError(t, os.WriteFile(local, payload, 0644))

	t.Run("Test upload and download", func(t *testing.T) {
		require.NoError(t, client.Upload(ctx, "/uploadPubKeyC1", local, ""))

		dest := filepath.Join(dir, "in", "pubkey.json")
		require.NoError(t, client.Download(ctx, "/download/client_1/pubkey.json", dest, ""))
		raw, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, payload, raw)

		fetched := filepath.Join(dir, "in", "peer_pubkey.json")
		require.NoError(t, client.Download(ctx, "sendPbKeyC1", fetched, "pubkey"))
		raw, err = os.ReadFile(fetched)
		require.NoError(t, err)
		assert.Equal(t, payload, raw)
	})

	t.Run("Test failed download leaves destination", func(t *testing.T) {
		dest := filepath.Join(dir, "cc.json")
		require.NoError(t, os.WriteFile(dest, []byte("old"), 0644))
		err := client.Download(ctx, "/getCC", dest, "")
		require.ErrorIs(t, err, ErrStatus)
		raw, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, "old", string(raw))
	})

	t.Run("Test failed upload", func(t *testing.T) {
		require.ErrorIs(t, client.Upload(ctx, "/uploadNothing", local, ""), ErrStatus)
		require.ErrorIs(t, client.Upload(ctx, "/uploadPubKeyC1", filepath.Join(dir, "none.json"), ""), utils.ErrArtifact)
	})

	t.Run("Test logs agree", func(t *testing.T) {
		clientRecords, err := metrics.ReadLog(filepath.Join(dir, configs.ClientMetricsFile))
		require.NoError(t, err)
		require.Len(t, clientRecords, 5)
		assert.Equal(t, metrics.RoleClient, clientRecords[0].Role)
		assert.Equal(t, "pubkey", clientRecords[0].Type)
		assert.Equal(t, int64(len(payload)), clientRecords[0].PayloadSize)
		assert.Greater(t, clientRecords[0].BytesSent, clientRecords[0].PayloadSize)
		assert.Equal(t, int64(len(payload)), clientRecords[1].BytesReceived)

		serverRecords, err := metrics.ReadLog(cfg.MetricsPath)
		require.NoError(t, err)
		assert.Empty(t, metrics.CrossCheck(clientRecords[:2], serverRecords, metrics.MatchWindow))
	})
}

func TestServeShutdown(t *testing.T) {
	cfg := testConfig(t)
	s := newTestServer(t, cfg)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/getCC")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
