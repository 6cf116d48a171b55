package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/veritome/knowledge-gateway/internal/policy"
)

// ProofHeader carries the caller's payment-proof artifact.
const ProofHeader = "X-Payment"

// Requirements is the canonical scope a challenge and a proof are bound
// to. Resource is "METHOD path", so a proof cannot be replayed against a
// different asset.
type Requirements struct {
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
	Amount      string `json:"amount"`
	Asset       string `json:"asset,omitempty"`
	PayTo       string `json:"payTo"`
	Resource    string `json:"resource"`
	Facilitator string `json:"facilitator,omitempty"`
}

// Challenge is the 402 response body.
type Challenge struct {
	Error   string         `json:"error"`
	Accepts []Requirements `json:"accepts"`
}

// VerifyResult is the facilitator's verdict on a proof.
type VerifyResult struct {
	Verified bool   `json:"verified"`
	Error    string `json:"error,omitempty"`
}

// Outcome is the gate's decision for one request.
type Outcome int

const (
	// OutcomeChallenge means no proof was supplied; respond 402 with the
	// challenge body.
	OutcomeChallenge Outcome = iota
	// OutcomeVerified means the facilitator accepted the proof.
	OutcomeVerified
	// OutcomeRejected means a proof was supplied but did not verify;
	// respond 402 again. The full record is never released on this path.
	OutcomeRejected
)

// Facilitator is the client for the external payment facilitator. The
// gate holds no ledger of its own; replay protection is entirely the
// facilitator's job.
type Facilitator struct {
	url  string
	http *http.Client
	log  *slog.Logger
}

// NewFacilitator builds a facilitator client. An empty url yields a nil
// client, which rejects every proof: no facilitator means no way to
// verify, and the gate fails closed.
func NewFacilitator(url string, timeout time.Duration, logger *slog.Logger) *Facilitator {
	url = strings.TrimRight(strings.TrimSpace(url), "/")
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Facilitator{url: url, http: &http.Client{Timeout: timeout}, log: logger}
}

// Verify forwards a proof and its requirements to the facilitator. Every
// failure mode (unconfigured, transport error, timeout, bad status,
// unparseable body) comes back as not verified.
func (f *Facilitator) Verify(ctx context.Context, proof json.RawMessage, reqs Requirements) VerifyResult {
	if f == nil {
		return VerifyResult{Error: "payment facilitator is not configured"}
	}

	body, err := json.Marshal(map[string]any{
		"proof":        proof,
		"requirements": reqs,
	})
	if err != nil {
		return VerifyResult{Error: "encode verification request"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url+"/verify", bytes.NewReader(body))
	if err != nil {
		return VerifyResult{Error: "build verification request"}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := f.http.Do(req)
	if err != nil {
		f.log.Warn("facilitator unreachable", slog.Any("err", err))
		return VerifyResult{Error: "verification unavailable"}
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		return VerifyResult{Error: fmt.Sprintf("facilitator status %s", res.Status)}
	}

	var result VerifyResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return VerifyResult{Error: "unreadable facilitator response"}
	}
	return result
}

// Gate executes the pay-per-access protocol for monetized records. It is
// stateless between requests.
type Gate struct {
	facilitator *Facilitator
	scheme      string
	network     string
	asset       string
	facilityURL string
}

// NewGate wires the gate to its facilitator and challenge parameters.
func NewGate(facilitator *Facilitator, scheme, network, asset string) *Gate {
	if scheme == "" {
		scheme = "exact"
	}
	g := &Gate{facilitator: facilitator, scheme: scheme, network: network, asset: asset}
	if facilitator != nil {
		g.facilityURL = facilitator.url
	}
	return g
}

// Requirements builds the canonical requirements for one monetized
// resource.
func (g *Gate) Requirements(access policy.Access, resource string) Requirements {
	return Requirements{
		Scheme:      g.scheme,
		Network:     g.network,
		Amount:      access.Amount(),
		Asset:       g.asset,
		PayTo:       access.Wallet,
		Resource:    resource,
		Facilitator: g.facilityURL,
	}
}

// Challenge builds the 402 body for one monetized resource.
func (g *Gate) Challenge(access policy.Access, resource, detail string) Challenge {
	if detail == "" {
		detail = ProofHeader + " header is required"
	}
	return Challenge{
		Error:   detail,
		Accepts: []Requirements{g.Requirements(access, resource)},
	}
}

// Evaluate runs the gate for one request: no proof yields a challenge, a
// proof is forwarded to the facilitator, and anything short of an
// explicit verification is rejected.
func (g *Gate) Evaluate(ctx context.Context, r *http.Request, access policy.Access, resource string) (Outcome, Challenge, VerifyResult) {
	proof, ok := ExtractProof(r)
	if !ok {
		return OutcomeChallenge, g.Challenge(access, resource, ""), VerifyResult{}
	}

	result := g.facilitator.Verify(ctx, proof, g.Requirements(access, resource))
	if result.Verified {
		return OutcomeVerified, Challenge{}, result
	}

	detail := "payment verification failed"
	if result.Error != "" {
		detail = "payment verification failed: " + result.Error
	}
	return OutcomeRejected, g.Challenge(access, resource, detail), result
}

// ExtractProof pulls the proof artifact from the request header. The
// header value may be base64-encoded JSON (the usual wire form), raw
// JSON, or an opaque token; an opaque token is wrapped as a JSON string
// so the facilitator still sees it.
func ExtractProof(r *http.Request) (json.RawMessage, bool) {
	raw := strings.TrimSpace(r.Header.Get(ProofHeader))
	if raw == "" {
		return nil, false
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(raw); err == nil && json.Valid(decoded) {
			return json.RawMessage(decoded), true
		}
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw), true
	}

	wrapped, _ := json.Marshal(raw)
	return json.RawMessage(wrapped), true
}
