package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/veritome/knowledge-gateway/internal/assemble"
	"github.com/veritome/knowledge-gateway/internal/events"
	"github.com/veritome/knowledge-gateway/internal/graph"
	"github.com/veritome/knowledge-gateway/internal/literal"
	"github.com/veritome/knowledge-gateway/internal/payment"
	"github.com/veritome/knowledge-gateway/internal/policy"
	"github.com/veritome/knowledge-gateway/internal/record"
)

type notFoundResponse struct {
	TopicID string `json:"topicId"`
	Found   bool   `json:"found"`
}

type paymentReceipt struct {
	Verified bool `json:"verified"`
}

type assetResponse struct {
	TopicID              string                `json:"topicId"`
	Found                bool                  `json:"found"`
	Identifier           string                `json:"identifier,omitempty"`
	Title                string                `json:"title"`
	Summary              string                `json:"summary,omitempty"`
	CreatedAt            string                `json:"createdAt,omitempty"`
	ContributionType     string                `json:"contributionType,omitempty"`
	IsPaywalled          bool                  `json:"isPaywalled"`
	Monetization         *record.Monetization  `json:"monetization,omitempty"`
	Status               string                `json:"status"`
	StepsCompleted       []string              `json:"stepsCompleted,omitempty"`
	ExecutionTimeSeconds float64               `json:"executionTimeSeconds,omitempty"`
	Timestamp            string                `json:"timestamp"`
	AnalysisSections     record.Sections       `json:"analysisSections"`
	Provenance           map[string]any        `json:"provenance,omitempty"`
	SchemaVersion        int                   `json:"schemaVersion"`
	Diagnostics          []assemble.Diagnostic `json:"diagnostics,omitempty"`
	Payment              *paymentReceipt       `json:"payment,omitempty"`
}

// handleGetAsset is the single-record path: guard (middleware) → query →
// normalize → decode → assemble → classify → payment gate.
func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "topicID")

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	// Only open records are ever cached, so a hit can be served as-is.
	cacheKey := "asset:" + topicID
	if body, ok := s.cache.Get(ctx, cacheKey); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
		return
	}

	row, found, err := s.graph.LookupRecord(ctx, topicID)
	if err != nil {
		s.log.Warn("record lookup failed", slog.String("topic_id", topicID), slog.Any("err", err))
		if !isQueryFailure(err) {
			internalError(w)
			return
		}
		// Query failures read as "not indexed yet", never as a 500 that
		// could leak query internals.
		writeJSON(w, http.StatusNotFound, notFoundResponse{TopicID: topicID})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, notFoundResponse{TopicID: topicID})
		return
	}

	in := buildInput(topicID, row)
	if in.Identifier != "" {
		// Secondary lookup on the assigned identifier; purely best-effort.
		if detail, err := s.graph.FetchDetail(ctx, in.Identifier); err == nil {
			in.Detail = detail
		}
	}

	rec, diags := assemble.Assemble(in)
	access := policy.Classify(&rec)

	resp := assetResponse{
		TopicID:              rec.TopicID,
		Found:                true,
		Identifier:           rec.Identifier,
		Title:                rec.Title,
		Summary:              rec.Summary,
		CreatedAt:            rec.CreatedAt,
		ContributionType:     rec.ContributionType,
		IsPaywalled:          access.Monetized,
		Monetization:         rec.Monetization,
		Status:               rec.Status,
		StepsCompleted:       rec.StepsCompleted,
		ExecutionTimeSeconds: rec.ExecutionTimeSeconds,
		Timestamp:            rec.Timestamp,
		AnalysisSections:     rec.Sections,
		Provenance:           rec.Provenance,
		SchemaVersion:        rec.SchemaVersion,
		Diagnostics:          diags,
	}

	if !access.Monetized {
		body, err := json.Marshal(resp)
		if err != nil {
			internalError(w)
			return
		}
		s.cache.Set(ctx, cacheKey, body)
		s.events.Publish(r.Context(), events.AccessEvent{
			TopicID:    rec.TopicID,
			Identifier: rec.Identifier,
			Kind:       events.KindServed,
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
		return
	}

	resource := r.Method + " " + r.URL.Path
	outcome, challenge, _ := s.gate.Evaluate(ctx, r, access, resource)
	switch outcome {
	case payment.OutcomeVerified:
		resp.Payment = &paymentReceipt{Verified: true}
		s.events.Publish(r.Context(), events.AccessEvent{
			TopicID:    rec.TopicID,
			Identifier: rec.Identifier,
			Kind:       events.KindPaid,
			Amount:     access.Amount(),
		})
		writeJSON(w, http.StatusOK, resp)
	default:
		writeJSON(w, http.StatusPaymentRequired, challenge)
	}
}

type searchNote struct {
	TopicID     string `json:"topicId"`
	Identifier  string `json:"identifier,omitempty"`
	Title       string `json:"title"`
	Summary     string `json:"summary,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
	IsPaywalled bool   `json:"isPaywalled"`
	PriceUsd    string `json:"priceUsd,omitempty"`
}

type searchResponse struct {
	Found bool         `json:"found"`
	Count int          `json:"count"`
	Notes []searchNote `json:"notes"`
}

// handleSearch is the read-only multi-record path. It returns summaries
// only: a monetized record is listed, but its payload is withheld no
// matter what proof the request carries, so bulk listing cannot become a
// side channel for paid content.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	keyword := strings.TrimSpace(r.URL.Query().Get("keyword"))
	limit := clampInt(r.URL.Query().Get("limit"), s.cfg.DefaultLimit, s.cfg.MaxLimit)

	cacheKey := fmt.Sprintf("search:%s:%d", strings.ToLower(keyword), limit)
	if body, ok := s.cache.Get(ctx, cacheKey); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
		return
	}

	rows, err := s.graph.SearchRecords(ctx, keyword, limit)
	if err != nil {
		s.log.Warn("search failed", slog.String("keyword", keyword), slog.Any("err", err))
		if !isQueryFailure(err) {
			internalError(w)
			return
		}
		writeJSON(w, http.StatusNotFound, searchResponse{Notes: []searchNote{}})
		return
	}

	notes := make([]searchNote, 0, len(rows))
	for _, row := range rows {
		notes = append(notes, summarize(row))
	}

	resp := searchResponse{Found: len(notes) > 0, Count: len(notes), Notes: notes}
	body, err := json.Marshal(resp)
	if err != nil {
		internalError(w)
		return
	}
	s.cache.Set(ctx, cacheKey, body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

type ingestRequest struct {
	TopicID          string               `json:"topicId"`
	Title            string               `json:"title"`
	Summary          string               `json:"summary"`
	ContributionType string               `json:"contributionType"`
	Monetization     *record.Monetization `json:"monetization,omitempty"`
	AnalysisSections *record.Sections     `json:"analysisSections,omitempty"`
	Provenance       map[string]any       `json:"provenance,omitempty"`
}

type ingestResponse struct {
	TopicID    string `json:"topicId"`
	Identifier string `json:"identifier"`
}

// handleIngest validates the collaborator-facing ingest contract and
// forwards the record to the store, which assigns the identifier.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	rec := record.Record{
		TopicID:          strings.TrimSpace(req.TopicID),
		Title:            req.Title,
		Summary:          req.Summary,
		CreatedAt:        time.Now().UTC().Format(time.RFC3339),
		ContributionType: req.ContributionType,
		Monetization:     req.Monetization,
		Sections:         record.EmptySections(),
		Status:           "success",
		SchemaVersion:    record.SchemaVersion,
	}
	if req.AnalysisSections != nil {
		rec.Sections = *req.AnalysisSections
		for _, name := range record.SectionNames {
			if rec.Sections.Get(name) == nil {
				rec.Sections.Set(name, map[string]any{})
			}
		}
	}
	rec.Provenance = req.Provenance

	if err := rec.ValidateForIngest(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	identifier, err := s.graph.PublishRecord(ctx, rec)
	if err != nil {
		s.log.Error("publish forwarding failed", slog.String("topic_id", rec.TopicID), slog.Any("err", err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "publish failed"})
		return
	}

	writeJSON(w, http.StatusCreated, ingestResponse{TopicID: rec.TopicID, Identifier: identifier})
}

// buildInput runs the literal normalizer over every cell of a query row:
// display mode for human-readable fields, payload mode for anything the
// decoder will parse, so embedded JSON escaping is never corrupted.
func buildInput(topicID string, row graph.Row) assemble.Input {
	display := func(key string) string { return literal.Normalize(row[key], literal.Display) }
	raw := func(key string) string { return literal.Normalize(row[key], literal.Payload) }

	sectionRaw := make(map[string]string, len(record.SectionNames))
	for _, name := range record.SectionNames {
		sectionRaw[name] = raw(name)
	}

	return assemble.Input{
		TopicID:          topicID,
		Identifier:       display("ual"),
		Title:            display("name"),
		Summary:          display("description"),
		CreatedAt:        display("datePublished"),
		ContributionType: display("contributionType"),
		Wallet:           display("wallet"),
		PriceRaw:         display("price"),
		Aggregate:        raw("analysis"),
		SectionRaw:       sectionRaw,
		TopicLabel:       display("topic"),
		StatusRaw:        raw("status"),
		StepsRaw:         raw("steps"),
		ExecutionRaw:     raw("executionTime"),
		TimestampRaw:     raw("timestamp"),
		Provenance:       raw("provenance"),
	}
}

// summarize reduces a search row to listing fields. Classification reuses
// the same all-or-nothing rule as the single-record path.
func summarize(row graph.Row) searchNote {
	display := func(key string) string { return literal.Normalize(row[key], literal.Display) }

	topicID := display("topic")
	wallet := display("wallet")
	priceRaw := strings.TrimSpace(display("price"))
	price, _ := strconv.ParseFloat(priceRaw, 64)

	rec := record.Record{ContributionType: display("contributionType")}
	if wallet != "" && price > 0 {
		rec.Monetization = &record.Monetization{WalletAddress: wallet, PriceUsd: price, PriceRaw: priceRaw}
	}
	access := policy.Classify(&rec)

	title := display("name")
	if title == "" {
		title = topicID
	}

	note := searchNote{
		TopicID:     topicID,
		Identifier:  display("ual"),
		Title:       title,
		Summary:     display("description"),
		CreatedAt:   display("datePublished"),
		IsPaywalled: access.Monetized,
	}
	if access.Monetized {
		note.PriceUsd = access.Amount()
	}
	return note
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}
