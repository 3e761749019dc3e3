// Package license implements the License-Gated Capability Guard (spec §4.4):
// decoding and verifying the signed license blob and gating protected
// operations on the feature tags it carries.
package license

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/clusterguard/inspector/internal/apperr"
)

const blobPrefix = "ENC-LICENSE-V1:"

// Payload is the JSON object signed inside a license blob.
type Payload struct {
	Product    string   `json:"product"`
	Licensee   string   `json:"licensee"`
	IssuedAt   string   `json:"issued_at"`
	NotBefore  string   `json:"not_before"`
	ExpiresAt  string   `json:"expires_at"`
	Features   []string `json:"features"`
}

// Status is what Guard.Status reports: whether the currently installed
// license is valid right now, and why not if it isn't.
type Status struct {
	Valid    bool      `json:"valid"`
	Reason   string    `json:"reason,omitempty"`
	Product  string    `json:"product,omitempty"`
	Licensee string    `json:"licensee,omitempty"`
	Features []string  `json:"features,omitempty"`
	Expires  time.Time `json:"expires_at,omitempty"`
}

// Guard decodes/verifies the license blob and gates feature-tagged
// operations. It caches the most recently uploaded, successfully parsed
// license in memory (spec §4.4) but re-checks time validity on every call.
type Guard struct {
	secret string

	mu      sync.RWMutex
	payload *Payload
	expires time.Time
	notBefore time.Time
}

func NewGuard(secret string) *Guard {
	return &Guard{secret: secret}
}

// Upload parses, verifies, and installs a license blob. The blob must be
// installed before Status/Require report it valid.
func (g *Guard) Upload(blob string) (Status, error) {
	payload, expires, notBefore, err := g.parse(blob)
	if err != nil {
		return Status{Valid: false, Reason: err.Error()}, err
	}

	g.mu.Lock()
	g.payload = payload
	g.expires = expires
	g.notBefore = notBefore
	g.mu.Unlock()

	return g.Status(), nil
}

// Status reports whether the currently installed license is valid right
// now, re-checking time bounds against the wall clock on every call.
func (g *Guard) Status() Status {
	g.mu.RLock()
	payload := g.payload
	expires := g.expires
	notBefore := g.notBefore
	g.mu.RUnlock()

	if payload == nil {
		return Status{Valid: false, Reason: "no license installed"}
	}

	now := time.Now().UTC()
	if !notBefore.IsZero() && now.Before(notBefore) {
		return Status{Valid: false, Reason: "not yet valid", Product: payload.Product,
			Licensee: payload.Licensee, Features: normalizeAll(payload.Features), Expires: expires}
	}
	if now.After(expires) {
		return Status{Valid: false, Reason: fmt.Sprintf("expired at %s", expires.Format(time.RFC3339)),
			Product: payload.Product, Licensee: payload.Licensee, Features: normalizeAll(payload.Features), Expires: expires}
	}
	return Status{Valid: true, Product: payload.Product, Licensee: payload.Licensee,
		Features: normalizeAll(payload.Features), Expires: expires}
}

// Require fails with apperr.KindLicense unless every named feature is
// present on a currently-valid license.
func (g *Guard) Require(features ...string) error {
	status := g.Status()
	if !status.Valid {
		return apperr.New(apperr.KindLicense, status.Reason)
	}

	have := make(map[string]bool, len(status.Features))
	for _, f := range status.Features {
		have[f] = true
	}
	var missing []string
	for _, f := range features {
		if !have[strings.ToLower(f)] {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return apperr.New(apperr.KindLicense, fmt.Sprintf("license missing feature(s): %s", strings.Join(missing, ", ")))
	}
	return nil
}

func (g *Guard) parse(blob string) (*Payload, time.Time, time.Time, error) {
	blob = strings.TrimSpace(blob)
	if !strings.HasPrefix(blob, blobPrefix) {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("malformed license: missing %s header", blobPrefix)
	}
	rest := strings.TrimPrefix(blob, blobPrefix)
	parts := strings.Split(rest, ":")
	if len(parts) != 2 {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("malformed license: expected payload:signature")
	}
	payloadB64, sigB64 := parts[0], parts[1]

	payloadBytes, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("malformed license payload encoding: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("malformed license signature encoding: %w", err)
	}

	expected := hmac.New(sha256.New, []byte(g.secret))
	expected.Write(payloadBytes)
	if !hmac.Equal(sig, expected.Sum(nil)) {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("signature invalid")
	}

	var payload Payload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("malformed license payload json: %w", err)
	}

	expires, err := time.Parse(time.RFC3339, payload.ExpiresAt)
	if err != nil {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("malformed expires_at: %w", err)
	}
	var notBefore time.Time
	if payload.NotBefore != "" {
		notBefore, err = time.Parse(time.RFC3339, payload.NotBefore)
		if err != nil {
			return nil, time.Time{}, time.Time{}, fmt.Errorf("malformed not_before: %w", err)
		}
	}

	return &payload, expires, notBefore, nil
}

func normalizeAll(features []string) []string {
	out := make([]string, 0, len(features))
	for _, f := range features {
		out = append(out, strings.ToLower(strings.TrimSpace(f)))
	}
	return out
}
