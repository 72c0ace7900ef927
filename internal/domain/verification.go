package domain

import (
	"context"
	"encoding/json"
)

// VerificationResult is the outcome of an external identity lookup.
type VerificationResult struct {
	Verified   bool            `json:"isVerified"`
	Confidence float64         `json:"confidence"`
	Provider   string          `json:"provider"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Verifier looks an identity up against a third-party service. Any
// failure (timeout, unavailable) is treated by the engine as "no
// evidence": the corresponding rule simply does not fire.
type Verifier interface {
	Verify(ctx context.Context, identity *NormalizedIdentity) (*VerificationResult, error)
}
