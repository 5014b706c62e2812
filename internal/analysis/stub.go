package analysis

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"unicode"
	"unicode/utf8"
)

// StubAnalyzer 是本地确定性分析器，在没有接入真实模型时使用。
type StubAnalyzer struct{}

// NewStubAnalyzer 创建本地桩分析器。
func NewStubAnalyzer() *StubAnalyzer {
	return &StubAnalyzer{}
}

// Analyze 实现 Analyzer 接口。
func (s *StubAnalyzer) Analyze(ctx context.Context, item ContentItem) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	switch item.Kind {
	case KindImage:
		return s.image(item), nil
	case KindVideo:
		return s.video(item), nil
	case KindText:
		return s.text(item), nil
	default:
		return Record{}, fmt.Errorf("stub analyzer: unsupported kind %q", item.Kind)
	}
}

func (s *StubAnalyzer) image(item ContentItem) Record {
	metadata := fileMetadata(item)
	summary := "image content"
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(item.Data)); err == nil {
		metadata["width"] = cfg.Width
		metadata["height"] = cfg.Height
		metadata["format"] = format
		summary = fmt.Sprintf("%s image %dx%d", format, cfg.Width, cfg.Height)
	}
	return Record{
		DetectedSummary: summary,
		Confidence:      0.95,
		Metadata:        metadata,
	}
}

func (s *StubAnalyzer) video(item ContentItem) Record {
	metadata := fileMetadata(item)
	return Record{
		DetectedSummary: fmt.Sprintf("video content (%d bytes)", item.ByteSize()),
		Confidence:      0.92,
		Metadata:        metadata,
	}
}

var (
	positiveWords = map[string]struct{}{"good": {}, "great": {}, "excellent": {}, "happy": {}, "love": {}, "verified": {}, "true": {}}
	negativeWords = map[string]struct{}{"bad": {}, "terrible": {}, "fake": {}, "hate": {}, "sad": {}, "false": {}, "scam": {}}
)

func (s *StubAnalyzer) text(item ContentItem) Record {
	words := strings.Fields(item.Text)
	score := 0
	entities := make([]string, 0)
	seen := make(map[string]struct{})
	for i, word := range words {
		token := strings.TrimFunc(word, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		lower := strings.ToLower(token)
		if _, ok := positiveWords[lower]; ok {
			score++
		}
		if _, ok := negativeWords[lower]; ok {
			score--
		}
		if i == 0 || token == "" {
			continue
		}
		first, _ := utf8.DecodeRuneInString(token)
		if unicode.IsUpper(first) {
			if _, dup := seen[token]; !dup {
				seen[token] = struct{}{}
				entities = append(entities, token)
			}
		}
	}

	sentiment := "neutral"
	switch {
	case score > 0:
		sentiment = "positive"
	case score < 0:
		sentiment = "negative"
	}

	return Record{
		DetectedSummary: fmt.Sprintf("%s text, %d words", sentiment, len(words)),
		Confidence:      0.88,
		Metadata: map[string]any{
			"wordCount":  len(words),
			"characters": utf8.RuneCountInString(item.Text),
			"sentiment":  sentiment,
			"entities":   entities,
		},
	}
}

func fileMetadata(item ContentItem) map[string]any {
	metadata := map[string]any{
		"size": item.ByteSize(),
	}
	if item.OriginalName != "" {
		metadata["filename"] = item.OriginalName
	}
	if item.MimeType != "" {
		metadata["mimetype"] = item.MimeType
		if _, sub, ok := strings.Cut(item.MimeType, "/"); ok && sub != "" {
			metadata["format"] = sub
		}
	}
	return metadata
}
