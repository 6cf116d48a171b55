package record

import (
	"fmt"
	"strings"
)

// SchemaVersion identifies the canonical record shape served by the gateway.
// Version 1 carried a bare trustScore summary; version 2 carries the full
// seven-section analysis result. The assembler folds v1 payloads into the
// judging section, so only one shape ever leaves this package.
const SchemaVersion = 2

// ContributionUser is the canonical marker for records published by end
// users through the marketplace. Matching is case-insensitive.
const ContributionUser = "User contributed"

// ContributionRegular marks records produced by the curated pipeline.
const ContributionRegular = "regular"

// SectionNames lists the seven analysis sections every record carries,
// in pipeline order.
var SectionNames = []string{
	"fetch",
	"triple",
	"semanticdrift",
	"factcheck",
	"sentiment",
	"multimodal",
	"judging",
}

// Sections holds the per-stage analysis payloads. Values are free-form
// objects produced by the analysis pipeline. An assembled record never has
// a nil section; absent data is an empty object.
type Sections struct {
	Fetch         map[string]any `json:"fetch"`
	Triple        map[string]any `json:"triple"`
	SemanticDrift map[string]any `json:"semanticdrift"`
	FactCheck     map[string]any `json:"factcheck"`
	Sentiment     map[string]any `json:"sentiment"`
	Multimodal    map[string]any `json:"multimodal"`
	Judging       map[string]any `json:"judging"`
}

// EmptySections returns a Sections value with every section set to an
// empty object.
func EmptySections() Sections {
	s := Sections{}
	for _, name := range SectionNames {
		s.Set(name, map[string]any{})
	}
	return s
}

// Get returns the section payload for name, or nil for an unknown name.
func (s *Sections) Get(name string) map[string]any {
	switch name {
	case "fetch":
		return s.Fetch
	case "triple":
		return s.Triple
	case "semanticdrift":
		return s.SemanticDrift
	case "factcheck":
		return s.FactCheck
	case "sentiment":
		return s.Sentiment
	case "multimodal":
		return s.Multimodal
	case "judging":
		return s.Judging
	}
	return nil
}

// Set stores the section payload for name. Unknown names are ignored.
func (s *Sections) Set(name string, v map[string]any) {
	switch name {
	case "fetch":
		s.Fetch = v
	case "triple":
		s.Triple = v
	case "semanticdrift":
		s.SemanticDrift = v
	case "factcheck":
		s.FactCheck = v
	case "sentiment":
		s.Sentiment = v
	case "multimodal":
		s.Multimodal = v
	case "judging":
		s.Judging = v
	}
}

// Monetization carries the paywall terms of a user-contributed record.
// It is all-or-nothing: a record either has a wallet and a positive price,
// or no Monetization at all.
type Monetization struct {
	WalletAddress string  `json:"walletAddress"`
	PriceUsd      float64 `json:"priceUsd"`

	// PriceRaw keeps the price exactly as published so payment challenges
	// quote the same string the publisher set (e.g. "0.10", not "0.1").
	PriceRaw string `json:"-"`
}

// Record is the canonical Knowledge Record the gateway assembles and
// serves. Records are immutable once published; the gateway only reads
// and reshapes them.
type Record struct {
	TopicID          string         `json:"topicId"`
	Identifier       string         `json:"identifier"`
	Title            string         `json:"title"`
	Summary          string         `json:"summary"`
	CreatedAt        string         `json:"createdAt"`
	ContributionType string         `json:"contributionType"`
	Monetization     *Monetization  `json:"monetization,omitempty"`
	Sections         Sections       `json:"analysisSections"`
	Provenance       map[string]any `json:"provenance,omitempty"`

	// Scalars surfaced from the analysis pipeline's response envelope.
	Status               string   `json:"status"`
	StepsCompleted       []string `json:"stepsCompleted,omitempty"`
	ExecutionTimeSeconds float64  `json:"executionTimeSeconds,omitempty"`
	Timestamp            string   `json:"timestamp"`

	SchemaVersion int `json:"schemaVersion"`
}

// IsUserContributed reports whether the record carries the user
// contribution marker, case-insensitively.
func (r *Record) IsUserContributed() bool {
	return strings.EqualFold(strings.TrimSpace(r.ContributionType), ContributionUser)
}

// ValidateForIngest checks the invariants the gateway enforces before
// forwarding a record to the store's publish interface.
func (r *Record) ValidateForIngest() error {
	if strings.TrimSpace(r.TopicID) == "" {
		return fmt.Errorf("topicId is required")
	}
	if m := r.Monetization; m != nil {
		hasWallet := strings.TrimSpace(m.WalletAddress) != ""
		hasPrice := m.PriceUsd > 0
		if hasWallet != hasPrice {
			return fmt.Errorf("monetization requires both walletAddress and a positive priceUsd")
		}
		if !hasWallet && !hasPrice {
			return fmt.Errorf("monetization must be omitted when empty")
		}
	}
	return nil
}
