package proofs

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"ProofChain/internal/analysis"
	xerrors "ProofChain/internal/errors"
)

// FingerprintLength is the byte length of a keccak256 digest.
const FingerprintLength = 32

// Fingerprint binds a specific analysis record to a proof.
type Fingerprint [FingerprintLength]byte

// Compute derives the fingerprint of a record. It has no side effects and
// only fails for records that cannot be canonically encoded.
func Compute(record analysis.Record) (Fingerprint, error) {
	encoded, err := Canonicalize(record)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint(crypto.Keccak256Hash(encoded)), nil
}

// ParseFingerprint decodes the 0x-prefixed hex form.
func ParseFingerprint(raw string) (Fingerprint, error) {
	decoded, err := hexutil.Decode(raw)
	if err != nil {
		return Fingerprint{}, xerrors.Wrap(xerrors.CodeInputInvalid, err, "proof hash must be 0x-prefixed hex")
	}
	if len(decoded) != FingerprintLength {
		return Fingerprint{}, xerrors.New(xerrors.CodeInputInvalid,
			fmt.Sprintf("proof hash must be %d bytes, got %d", FingerprintLength, len(decoded)))
	}
	var fp Fingerprint
	copy(fp[:], decoded)
	return fp, nil
}

// Hex returns the 0x-prefixed lowercase hex form.
func (f Fingerprint) Hex() string {
	return hexutil.Encode(f[:])
}

func (f Fingerprint) String() string {
	return f.Hex()
}

// IsZero reports whether the fingerprint is unset.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// MarshalText implements encoding.TextMarshaler.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	parsed, err := ParseFingerprint(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
