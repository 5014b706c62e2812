package proofs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"ProofChain/internal/analysis"
	xerrors "ProofChain/internal/errors"
)

// canonicalRecord fixes the field order of the serialized record. Go's JSON
// encoder emits struct fields in declaration order and map keys sorted.
type canonicalRecord struct {
	Kind            analysis.Kind  `json:"kind"`
	DetectedSummary string         `json:"detectedSummary"`
	Confidence      float64        `json:"confidence"`
	Metadata        map[string]any `json:"metadata"`
	Timestamp       string         `json:"timestamp"`
}

// Canonicalize returns the byte encoding hashed by Fingerprint.
func Canonicalize(record analysis.Record) ([]byte, error) {
	if math.IsNaN(record.Confidence) || math.IsInf(record.Confidence, 0) || record.Confidence < 0 || record.Confidence > 1 {
		return nil, xerrors.New(xerrors.CodeInputInvalid,
			fmt.Sprintf("confidence %v outside [0,1]", record.Confidence), xerrors.WithStage("fingerprint"))
	}
	metadata := record.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(canonicalRecord{
		Kind:            record.Kind,
		DetectedSummary: record.DetectedSummary,
		Confidence:      record.Confidence,
		Metadata:        metadata,
		Timestamp:       record.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInputInvalid, err, "record is not serializable", xerrors.WithStage("fingerprint"))
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
