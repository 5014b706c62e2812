package analysis

import (
	"strings"
	"time"
	"unicode/utf8"

	xerrors "ProofChain/internal/errors"
)

// Kind 表示内容类型。
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindText  Kind = "text"
)

// ParseKind 将外部输入解析为内容类型。
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindImage:
		return KindImage, nil
	case KindVideo:
		return KindVideo, nil
	case KindText:
		return KindText, nil
	default:
		return "", xerrors.New(xerrors.CodeInputInvalid, "不支持的内容类型: "+raw)
	}
}

// ContentItem 是一次提交的原始内容，提交后视为不可变。
type ContentItem struct {
	Kind         Kind
	Data         []byte
	Text         string
	OriginalName string
	MimeType     string
	Size         int64
}

// ByteSize 返回内容的原始字节数，取声明大小与实际数据长度中的较大者。
func (c ContentItem) ByteSize() int64 {
	if c.Kind == KindText {
		return int64(len(c.Text))
	}
	return max(c.Size, int64(len(c.Data)))
}

// Empty 判断内容是否为空。
func (c ContentItem) Empty() bool {
	if c.Kind == KindText {
		return strings.TrimSpace(c.Text) == ""
	}
	return len(c.Data) == 0
}

// Validate 检查内容是否可以提交分析。
func (c ContentItem) Validate() error {
	if _, err := ParseKind(string(c.Kind)); err != nil {
		return err
	}
	if c.Empty() {
		return xerrors.New(xerrors.CodeInputInvalid, "未提供任何内容")
	}
	if c.Kind == KindText && !utf8.ValidString(c.Text) {
		return xerrors.New(xerrors.CodeInputInvalid, "文本内容不是合法的 UTF-8")
	}
	return nil
}

// Record 是分析结果的规范化记录，生成后不可修改。
type Record struct {
	Kind            Kind           `json:"kind"`
	DetectedSummary string         `json:"detectedSummary"`
	Confidence      float64        `json:"confidence"`
	Metadata        map[string]any `json:"metadata"`
	Timestamp       time.Time      `json:"timestamp"`
}

// Clone 返回记录的深拷贝，调用方可自由修改拷贝而不影响原记录。
func (r Record) Clone() Record {
	r.Metadata = cloneMap(r.Metadata)
	return r
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = cloneValue(v[i])
		}
		return out
	case []string:
		return append([]string(nil), v...)
	case []byte:
		return append([]byte(nil), v...)
	default:
		return v
	}
}
