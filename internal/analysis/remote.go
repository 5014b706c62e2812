package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const remoteResponseSchema = `{
  "type": "object",
  "required": ["detectedSummary", "confidence"],
  "properties": {
    "detectedSummary": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "metadata": {"type": "object"}
  }
}`

// RemoteConfig 描述远程分析服务的访问信息。
type RemoteConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RemoteAnalyzer 通过 HTTP 调用外部分析服务。
type RemoteAnalyzer struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	schema     *jsonschema.Schema
}

// NewRemoteAnalyzer 根据配置创建远程分析器。
func NewRemoteAnalyzer(cfg RemoteConfig) (*RemoteAnalyzer, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("未配置远程分析服务地址")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	schema, err := jsonschema.CompileString("remote-analysis.schema.json", remoteResponseSchema)
	if err != nil {
		return nil, fmt.Errorf("编译响应 schema 失败: %w", err)
	}
	return &RemoteAnalyzer{
		endpoint:   baseURL + "/analyze",
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
		schema:     schema,
	}, nil
}

type remoteRequest struct {
	Kind     Kind   `json:"kind"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
}

type remoteResponse struct {
	DetectedSummary string         `json:"detectedSummary"`
	Confidence      float64        `json:"confidence"`
	Metadata        map[string]any `json:"metadata"`
}

// Analyze 实现 Analyzer 接口。
func (r *RemoteAnalyzer) Analyze(ctx context.Context, item ContentItem) (Record, error) {
	payload := remoteRequest{
		Kind:     item.Kind,
		Filename: item.OriginalName,
		MimeType: item.MimeType,
		Size:     item.ByteSize(),
	}
	if item.Kind == KindText {
		payload.Text = item.Text
	} else {
		payload.Data = base64.StdEncoding.EncodeToString(item.Data)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("序列化分析请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return Record{}, fmt.Errorf("构建分析请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Record{}, fmt.Errorf("请求分析服务失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Record{}, fmt.Errorf("读取分析响应失败: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return Record{}, fmt.Errorf("分析服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return Record{}, fmt.Errorf("解析分析响应失败: %w", err)
	}
	if err := r.schema.Validate(instance); err != nil {
		return Record{}, fmt.Errorf("分析响应不符合约定: %w", err)
	}

	var decoded remoteResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Record{}, fmt.Errorf("解析分析响应失败: %w", err)
	}
	return Record{
		DetectedSummary: decoded.DetectedSummary,
		Confidence:      decoded.Confidence,
		Metadata:        decoded.Metadata,
	}, nil
}
