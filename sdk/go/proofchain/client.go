// Package proofchain is a Go client for the ProofChain HTTP API.
package proofchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Publishing waits for chain confirmation, so it is longer than a plain API call.
const DefaultHTTPTimeout = 2 * time.Minute

// Client wraps the HTTP interactions with the ProofChain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient instantiates a client for the ProofChain API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Health calls GET /api/health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.do(ctx, http.MethodGet, "/api/health", nil, nil, "", &out)
	return out, err
}

// AnalyzeText runs the analyzer over text without creating a session.
func (c *Client) AnalyzeText(ctx context.Context, text string) (AnalysisResult, error) {
	var out AnalysisResult
	err := c.postJSON(ctx, "/api/analyze-text", map[string]string{"text": text}, &out)
	return out, err
}

// AnalyzeFile uploads an image or video for analysis. kind is "image" or "video".
func (c *Client) AnalyzeFile(ctx context.Context, kind, filename string, content io.Reader) (AnalysisResult, error) {
	if kind != "image" && kind != "video" {
		return AnalysisResult{}, fmt.Errorf("proofchain: unsupported file kind %q", kind)
	}
	body, contentType, err := multipartBody(kind, filename, content, nil)
	if err != nil {
		return AnalysisResult{}, err
	}
	var out AnalysisResult
	err = c.do(ctx, http.MethodPost, "/api/analyze-"+kind, nil, body, contentType, &out)
	return out, err
}

// PublishProof registers proofHash for walletAddress through the server signer.
func (c *Client) PublishProof(ctx context.Context, proofHash, walletAddress string) (PublishResult, error) {
	var out PublishResult
	err := c.postJSON(ctx, "/api/publish-proof", map[string]string{
		"proofHash":     proofHash,
		"walletAddress": walletAddress,
	}, &out)
	return out, err
}

// ListProofs returns recorded receipts, newest first.
func (c *Client) ListProofs(ctx context.Context, query ProofQuery) ([]Receipt, error) {
	values := url.Values{}
	if query.Address != "" {
		values.Set("address", query.Address)
	}
	if query.Limit > 0 {
		values.Set("limit", strconv.Itoa(query.Limit))
	}
	var out struct {
		Proofs []Receipt `json:"proofs"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/proofs", values, nil, "", &out); err != nil {
		return nil, err
	}
	return out.Proofs, nil
}

// GetProof returns the recorded receipt for a fingerprint and address.
func (c *Client) GetProof(ctx context.Context, proofHash, address string) (Receipt, error) {
	var out Receipt
	err := c.do(ctx, http.MethodGet, "/api/v1/proofs/"+proofHash, url.Values{"address": {address}}, nil, "", &out)
	return out, err
}

// CreateSession starts a new workflow session.
func (c *Client) CreateSession(ctx context.Context) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/api/v1/sessions", nil, nil, "", &out)
	return out, err
}

// GetSession reads the current workflow snapshot.
func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodGet, sessionPath(id, ""), nil, nil, "", &out)
	return out, err
}

// DeleteSession ends a session.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(id, ""), nil, nil, "", nil)
}

// SubmitText submits text to a session and waits for the analysis.
func (c *Client) SubmitText(ctx context.Context, id, text string) (Session, error) {
	var out Session
	err := c.postJSON(ctx, sessionPath(id, "content"), map[string]string{"kind": "text", "text": text}, &out)
	return out, err
}

// SubmitFile uploads a file to a session and waits for the analysis.
func (c *Client) SubmitFile(ctx context.Context, id, kind, filename string, content io.Reader) (Session, error) {
	body, contentType, err := multipartBody("file", filename, content, map[string]string{"kind": kind})
	if err != nil {
		return Session{}, err
	}
	var out Session
	err = c.do(ctx, http.MethodPost, sessionPath(id, "content"), nil, body, contentType, &out)
	return out, err
}

// ConnectWallet connects the session signer.
func (c *Client) ConnectWallet(ctx context.Context, id string) (Session, error) {
	return c.sessionAction(ctx, id, "wallet")
}

// Publish publishes the session fingerprint.
func (c *Client) Publish(ctx context.Context, id string) (Session, error) {
	return c.sessionAction(ctx, id, "proof")
}

// Reset returns the session to idle.
func (c *Client) Reset(ctx context.Context, id string) (Session, error) {
	return c.sessionAction(ctx, id, "reset")
}

// Cancel abandons the in-flight operation of a session.
func (c *Client) Cancel(ctx context.Context, id string) (bool, Session, error) {
	var out struct {
		Cancelled bool    `json:"cancelled"`
		Session   Session `json:"session"`
	}
	err := c.do(ctx, http.MethodPost, sessionPath(id, "cancel"), nil, nil, "", &out)
	return out.Cancelled, out.Session, err
}

func (c *Client) sessionAction(ctx context.Context, id, action string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, sessionPath(id, action), nil, nil, "", &out)
	return out, err
}

func sessionPath(id, action string) string {
	p := "/api/v1/sessions/" + id
	if action != "" {
		p += "/" + action
	}
	return p
}

func multipartBody(field, filename string, content io.Reader, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := form.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("encode form field: %w", err)
		}
	}
	part, err := form.CreateFormFile(field, filename)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, "", fmt.Errorf("copy file content: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, form.FormDataContentType(), nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body), "application/json", out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, contentType string, out any) error {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, endpoint)
	u.RawPath = ""
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
