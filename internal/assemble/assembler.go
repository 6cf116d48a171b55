package assemble

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/veritome/knowledge-gateway/internal/payload"
	"github.com/veritome/knowledge-gateway/internal/record"
)

// Input carries everything the assembler may draw on: normalized scalar
// fields, the raw aggregate payload, the raw per-section payloads, and an
// optional externally fetched detail document. Any of it may be missing.
type Input struct {
	TopicID          string
	Identifier       string
	Title            string
	Summary          string
	CreatedAt        string
	ContributionType string
	Wallet           string
	PriceRaw         string

	// Aggregate is the payload-normalized analysis envelope, if the
	// record carries one.
	Aggregate string

	// SectionRaw holds the redundant standalone per-section payloads,
	// keyed by section name.
	SectionRaw map[string]string

	// Scalar fallback fields, decoded individually.
	TopicLabel   string
	StatusRaw    string
	StepsRaw     string
	ExecutionRaw string
	TimestampRaw string
	Provenance   string

	// Detail is the store's full view of the asset from the secondary
	// lookup on the record's identifier, when available.
	Detail map[string]any
}

// Diagnostic names a field that was missing or unparseable during
// assembly. Diagnostics replace the old swallow-log-continue idiom: the
// record always renders, and callers can still see what degraded.
type Diagnostic struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
}

// Assemble merges the redundant representations into one canonical
// record. It never fails: per-section precedence is aggregate section →
// standalone field → fetched detail → empty object, and scalars follow
// the same pattern down to a computed default. The output always has the
// full fixed shape.
func Assemble(in Input) (record.Record, []Diagnostic) {
	var diags []Diagnostic
	note := func(field, problem string) {
		diags = append(diags, Diagnostic{Field: field, Problem: problem})
	}

	aggregate, aggSections := decodeAggregate(in.Aggregate, note)
	detail, detailSections := splitDetail(in.Detail)

	sections := record.EmptySections()
	for _, name := range record.SectionNames {
		if v := asObject(aggSections[name]); v != nil {
			sections.Set(name, v)
			continue
		}
		if raw, ok := in.SectionRaw[name]; ok && strings.TrimSpace(raw) != "" {
			if v, ok := payload.Try(raw); ok {
				if obj := asObject(v); obj != nil {
					sections.Set(name, obj)
					continue
				}
			} else if payload.Reportable(raw) {
				note(name, "unparseable standalone payload")
			}
		}
		if v := asObject(detailSections[name]); v != nil {
			sections.Set(name, v)
			continue
		}
		note(name, "missing")
	}

	rec := record.Record{
		TopicID:          in.TopicID,
		Identifier:       in.Identifier,
		Title:            in.Title,
		Summary:          in.Summary,
		CreatedAt:        in.CreatedAt,
		ContributionType: in.ContributionType,
		Sections:         sections,
		SchemaVersion:    record.SchemaVersion,
	}

	topic := firstString(aggregate["topic"], decodeScalar(in.TopicLabel), detail["topic"])
	if topic == "" {
		topic = in.TopicID
	}
	if rec.Title == "" {
		rec.Title = topic
	}

	rec.Status = firstString(aggregate["status"], decodeScalar(in.StatusRaw), detail["status"])
	if rec.Status == "" {
		rec.Status = "success"
	}

	rec.StepsCompleted = firstStrings(aggregate["steps_completed"], payload.Decode(in.StepsRaw, nil), detail["steps_completed"])
	rec.ExecutionTimeSeconds = firstFloat(aggregate["execution_time_seconds"], payload.Decode(in.ExecutionRaw, nil), detail["execution_time_seconds"])

	rec.Timestamp = firstString(aggregate["timestamp"], decodeScalar(in.TimestampRaw), detail["timestamp"])
	if rec.Timestamp == "" {
		rec.Timestamp = in.CreatedAt
	}
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	rec.Monetization = monetization(in.Wallet, in.PriceRaw, note)

	if strings.TrimSpace(in.Provenance) != "" {
		if v, ok := payload.Try(in.Provenance); ok {
			rec.Provenance = asObject(v)
		} else if payload.Reportable(in.Provenance) {
			note("provenance", "unparseable payload")
		}
	}

	return rec, diags
}

// decodeAggregate parses the aggregate envelope and locates its sections
// map. The envelope either nests sections under "results" (the current
// shape) or, in the legacy trust-score shape, carries the score fields at
// the top level; the legacy form is folded into the judging section so a
// single canonical shape leaves the assembler.
func decodeAggregate(raw string, note func(field, problem string)) (map[string]any, map[string]any) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, map[string]any{}
	}

	v, ok := payload.Try(raw)
	if !ok {
		if payload.Reportable(raw) {
			note("aggregate", "unparseable payload")
		}
		return map[string]any{}, map[string]any{}
	}

	envelope := asObject(v)
	if envelope == nil {
		note("aggregate", "payload is not an object")
		return map[string]any{}, map[string]any{}
	}

	if results := asObject(envelope["results"]); results != nil {
		return envelope, results
	}

	if _, legacy := envelope["trustScore"]; legacy {
		note("aggregate", "legacy trustScore payload folded into judging")
		return envelope, map[string]any{"judging": envelope}
	}

	// Flat envelope: sections live directly at the top level.
	return envelope, envelope
}

// splitDetail mirrors decodeAggregate for the externally fetched detail
// document.
func splitDetail(detail map[string]any) (map[string]any, map[string]any) {
	if detail == nil {
		return map[string]any{}, map[string]any{}
	}
	if results := asObject(detail["results"]); results != nil {
		return detail, results
	}
	return detail, detail
}

func monetization(wallet, priceRaw string, note func(field, problem string)) *record.Monetization {
	wallet = strings.TrimSpace(wallet)
	priceRaw = strings.TrimSpace(priceRaw)

	price, err := strconv.ParseFloat(priceRaw, 64)
	if priceRaw != "" && err != nil {
		note("price", "unparseable value")
		price = 0
	}

	hasWallet := wallet != ""
	hasPrice := price > 0

	// All-or-nothing: a wallet without a price (or the reverse) does not
	// produce a monetized record.
	if !hasWallet || !hasPrice {
		if hasWallet != hasPrice {
			note("monetization", "incomplete terms dropped")
		}
		return nil
	}

	return &record.Monetization{WalletAddress: wallet, PriceUsd: price, PriceRaw: priceRaw}
}

func asObject(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

func decodeScalar(raw string) any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if v, ok := payload.Try(raw); ok {
		return v
	}
	return raw
}

func firstString(candidates ...any) string {
	for _, c := range candidates {
		switch v := c.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func firstStrings(candidates ...any) []string {
	for _, c := range candidates {
		switch v := c.(type) {
		case []string:
			if len(v) > 0 {
				return v
			}
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				out = append(out, fmt.Sprintf("%v", item))
			}
			if len(out) > 0 {
				return out
			}
		}
	}
	return nil
}

func firstFloat(candidates ...any) float64 {
	for _, c := range candidates {
		switch v := c.(type) {
		case float64:
			if v != 0 {
				return v
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && f != 0 {
				return f
			}
		}
	}
	return 0
}
