package proofs

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ProofChain/internal/analysis"
	xerrors "ProofChain/internal/errors"
)

func sampleRecord() analysis.Record {
	return analysis.Record{
		Kind:            analysis.KindText,
		DetectedSummary: "neutral text, 2 words",
		Confidence:      0.88,
		Metadata: map[string]any{
			"wordCount": 2,
			"sentiment": "neutral",
			"entities":  []string{},
			"nested":    map[string]any{"b": 1, "a": "<tag>"},
		},
		Timestamp: time.Date(2026, 10, 17, 8, 30, 0, 123, time.UTC),
	}
}

func TestCanonicalizeIsOrderStable(t *testing.T) {
	encoded, err := Canonicalize(sampleRecord())
	require.NoError(t, err)

	want := `{"kind":"text","detectedSummary":"neutral text, 2 words","confidence":0.88,` +
		`"metadata":{"entities":[],"nested":{"a":"<tag>","b":1},"sentiment":"neutral","wordCount":2},` +
		`"timestamp":"2026-10-17T08:30:00.000000123Z"}`
	assert.Equal(t, want, string(encoded))
}

func TestFingerprintDeterministic(t *testing.T) {
	first, err := Compute(sampleRecord())
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		again, err := Compute(sampleRecord())
		require.NoError(t, err)
		require.Equal(t, first, again)
	}

	// Same instant in another zone serializes identically.
	shifted := sampleRecord()
	shifted.Timestamp = shifted.Timestamp.In(time.FixedZone("CST", 8*3600))
	same, err := Compute(shifted)
	require.NoError(t, err)
	assert.Equal(t, first, same)
}

func TestFingerprintChangesWithEveryField(t *testing.T) {
	base, err := Compute(sampleRecord())
	require.NoError(t, err)

	mutations := map[string]func(r *analysis.Record){
		"kind":       func(r *analysis.Record) { r.Kind = analysis.KindImage },
		"summary":    func(r *analysis.Record) { r.DetectedSummary += "!" },
		"confidence": func(r *analysis.Record) { r.Confidence = 0.881 },
		"metadata":   func(r *analysis.Record) { r.Metadata["wordCount"] = 3 },
		"timestamp":  func(r *analysis.Record) { r.Timestamp = r.Timestamp.Add(time.Nanosecond) },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			record := sampleRecord()
			mutate(&record)
			changed, err := Compute(record)
			require.NoError(t, err)
			assert.NotEqual(t, base, changed)
		})
	}
}

func TestComputeRejectsMalformedRecords(t *testing.T) {
	record := sampleRecord()
	record.Confidence = 2
	_, err := Compute(record)
	assert.Equal(t, xerrors.CodeInputInvalid, xerrors.CodeOf(err))

	record = sampleRecord()
	record.Metadata["fn"] = func() {}
	_, err = Compute(record)
	assert.Equal(t, xerrors.CodeInputInvalid, xerrors.CodeOf(err))
}

func TestParseFingerprint(t *testing.T) {
	fp, err := Compute(sampleRecord())
	require.NoError(t, err)

	_, err = ParseFingerprint(strings.ToUpper(fp.Hex()[2:]))
	assert.Error(t, err, "missing 0x prefix must be rejected")

	parsed, err := ParseFingerprint(fp.Hex())
	require.NoError(t, err)
	assert.Equal(t, fp, parsed)
	assert.Len(t, fp.Hex(), 66)

	_, err = ParseFingerprint("0x1234")
	assert.Equal(t, xerrors.CodeInputInvalid, xerrors.CodeOf(err))

	text, err := fp.MarshalText()
	require.NoError(t, err)
	var decoded Fingerprint
	require.NoError(t, decoded.UnmarshalText(text))
	assert.Equal(t, fp, decoded)
}
