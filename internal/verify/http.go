// Package verify integrates external identity verification providers.
// Adapter failures are soft: the engine treats them as absence of
// evidence, never as a match or a scan failure.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/learnersafe/heron/internal/domain"
)

var (
	// ErrAdapterTimeout is returned when the provider did not answer
	// within the configured timeout.
	ErrAdapterTimeout = errors.New("verification adapter timeout")

	// ErrAdapterUnavailable is returned on connection failures and
	// non-2xx provider responses.
	ErrAdapterUnavailable = errors.New("verification adapter unavailable")
)

// HTTPVerifier calls an external identity verification service over
// HTTP. The request carries the national id and name fields; the
// response is the provider's verdict with its own confidence.
type HTTPVerifier struct {
	endpoint string
	provider string
	client   *http.Client
}

// NewHTTPVerifier creates a verifier for the configured endpoint.
func NewHTTPVerifier(cfg domain.VerificationConfig) *HTTPVerifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPVerifier{
		endpoint: cfg.Endpoint,
		provider: cfg.Provider,
		client:   &http.Client{Timeout: timeout},
	}
}

type verifyRequest struct {
	NationalID  string `json:"nationalId"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	DateOfBirth string `json:"dateOfBirth,omitempty"`
}

type verifyResponse struct {
	Verified   bool    `json:"isVerified"`
	Confidence float64 `json:"confidence"`
}

// Verify looks the identity up with the external provider.
func (v *HTTPVerifier) Verify(ctx context.Context, identity *domain.NormalizedIdentity) (*domain.VerificationResult, error) {
	if identity.NationalID == "" {
		return nil, fmt.Errorf("%w: identity has no national id", ErrAdapterUnavailable)
	}

	req := verifyRequest{
		NationalID: identity.NationalID,
		FirstName:  identity.FirstName,
		LastName:   identity.LastName,
	}
	if identity.HasDateOfBirth() {
		req.DateOfBirth = identity.DateOfBirth.Format("2006-01-02")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrAdapterTimeout
		}
		var urlTimeout interface{ Timeout() bool }
		if errors.As(err, &urlTimeout) && urlTimeout.Timeout() {
			return nil, ErrAdapterTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrAdapterUnavailable, resp.StatusCode)
	}

	var vr verifyResponse
	if err := json.Unmarshal(raw, &vr); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrAdapterUnavailable, err)
	}

	return &domain.VerificationResult{
		Verified:   vr.Verified,
		Confidence: vr.Confidence,
		Provider:   v.provider,
		Raw:        raw,
	}, nil
}
