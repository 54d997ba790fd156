package exchange

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"flpre/configs"
	"flpre/src/metrics"
	"flpre/src/utils"
)

// ErrStatus marks a relay reply other than 200.
var ErrStatus = errors.New("unexpected relay status")

// Client uploads and downloads artifacts for one party and logs every call.
type Client struct {
	baseURL  string
	clientID string
	http     *http.Client
	metrics  *metrics.Log
	logger   utils.Logger
}

// NewClient uses http.DefaultClient when httpClient is nil.
func NewClient(cfg configs.ClientConfig, httpClient *http.Client, logger utils.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	log, err := metrics.NewLog(cfg.MetricsPath)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.ServerURL, "/"),
		clientID: cfg.ClientID,
		http:     httpClient,
		metrics:  log,
		logger:   logger,
	}, nil
}

func (c *Client) url(endpoint string) string {
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return c.baseURL + endpoint
}

// Upload posts file as the "file" part of a multipart form to endpoint.
// An empty kind is inferred from the endpoint and the file name.
func (c *Client) Upload(ctx context.Context, endpoint, file, kind string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("%w: os.ReadFile(%s): %w", utils.ErrArtifact, file, err)
	}
	if kind == "" {
		kind = metrics.InferType(metrics.Record{Endpoint: endpoint, File: file})
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err = mw.WriteField("client_id", c.clientID); err != nil {
		return fmt.Errorf("multipart: %w", err)
	}
	if err = mw.WriteField("type", kind); err != nil {
		return fmt.Errorf("multipart: %w", err)
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(file))
	if err != nil {
		return fmt.Errorf("multipart: %w", err)
	}
	if _, err = fw.Write(data); err != nil {
		return fmt.Errorf("multipart: %w", err)
	}
	if err = mw.Close(); err != nil {
		return fmt.Errorf("multipart: %w", err)
	}

	record := metrics.Record{
		Role:        metrics.RoleClient,
		Method:      http.MethodPost,
		Endpoint:    endpoint,
		ClientID:    c.clientID,
		Type:        kind,
		File:        file,
		PayloadSize: int64(len(data)),
		BytesSent:   int64(body.Len()),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(endpoint), &body)
	if err != nil {
		return fmt.Errorf("POST %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	record.Timestamp = time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		record.LatencyMs = time.Since(record.Timestamp).Milliseconds()
		c.record(record)
		return fmt.Errorf("POST %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(resp.Body)
	record.BytesReceived = int64(len(reply))
	record.LatencyMs = time.Since(record.Timestamp).Milliseconds()
	record.HTTPCode = resp.StatusCode
	c.record(record)
	if err != nil {
		return fmt.Errorf("POST %s: read reply: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: POST %s: %s: %s", ErrStatus, endpoint, resp.Status, strings.TrimSpace(string(reply)))
	}

	c.logger.PrintFormatted("[%s] Uploaded %s (%s) to %s", c.clientID, file, utils.FriendlyBytes(record.PayloadSize), endpoint)
	return nil
}

// Download fetches endpoint into dest. dest is replaced only after the whole body arrived.
func (c *Client) Download(ctx context.Context, endpoint, dest, kind string) error {
	if kind == "" {
		kind = metrics.InferType(metrics.Record{Endpoint: endpoint, File: dest})
	}
	query := url.Values{}
	query.Set("client_id", c.clientID)
	query.Set("type", kind)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(endpoint)+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("GET %s: %w", endpoint, err)
	}

	record := metrics.Record{
		Timestamp: time.Now(),
		Role:      metrics.RoleClient,
		Method:    http.MethodGet,
		Endpoint:  endpoint,
		ClientID:  c.clientID,
		Type:      kind,
		File:      dest,
	}
	resp, err := c.http.Do(req)
	if err != nil {
		record.LatencyMs = time.Since(record.Timestamp).Milliseconds()
		c.record(record)
		return fmt.Errorf("GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	record.HTTPCode = resp.StatusCode

	if resp.StatusCode != http.StatusOK {
		reply, _ := io.ReadAll(resp.Body)
		record.BytesReceived = int64(len(reply))
		record.LatencyMs = time.Since(record.Timestamp).Milliseconds()
		c.record(record)
		return fmt.Errorf("%w: GET %s: %s: %s", ErrStatus, endpoint, resp.Status, strings.TrimSpace(string(reply)))
	}

	n, err := writeAtomically(dest, resp.Body)
	record.BytesReceived = n
	record.LatencyMs = time.Since(record.Timestamp).Milliseconds()
	c.record(record)
	if err != nil {
		return fmt.Errorf("GET %s: %w", endpoint, err)
	}

	c.logger.PrintFormatted("[%s] Downloaded %s (%s) to %s", c.clientID, endpoint, utils.FriendlyBytes(n), dest)
	return nil
}

func (c *Client) record(r metrics.Record) {
	if err := c.metrics.Append(r); err != nil {
		c.logger.PrintError("[%s] %v", c.clientID, err)
	}
}

func writeAtomically(dest string, r io.Reader) (int64, error) {
	f, err := stage(dest)
	if err != nil {
		return 0, err
	}
	name := f.Name()
	n, err := io.Copy(f, r)
	if err == nil {
		err = f.Chmod(0644)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(name, dest)
	}
	if err != nil {
		os.Remove(name)
		return n, fmt.Errorf("%w: write %s: %w", utils.ErrArtifact, dest, err)
	}
	return n, nil
}
