// Package proofs derives content-addressed fingerprints from analysis records
// and defines the submission and receipt values exchanged with a proof
// registry.
//
// A fingerprint is keccak256 over the canonical serialization of a record:
// a JSON object with the fixed key order kind, detectedSummary, confidence,
// metadata, timestamp, metadata keys sorted at every depth, timestamps in
// RFC 3339 UTC with nanoseconds and no HTML escaping.
package proofs
