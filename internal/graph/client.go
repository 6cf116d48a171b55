package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/veritome/knowledge-gateway/internal/record"
)

// Row is one result row from the store's query interface. Cells are raw
// binding objects ({type, value, datatype}) or bare scalars; the literal
// normalizer is responsible for cleaning them up.
type Row map[string]any

// QueryError wraps any failure while talking to the store's query
// interface. The gateway maps it to 404 with the detail suppressed, so
// internal query structure never leaks to callers.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string { return fmt.Sprintf("graph %s: %v", e.Op, e.Err) }
func (e *QueryError) Unwrap() error { return e.Err }

// Client talks to the remote graph store node: SPARQL queries against
// /query, asset resolution against /assets/{id}, and publish forwarding
// against /assets.
type Client struct {
	endpoint string
	http     *http.Client
	log      *slog.Logger
}

// New builds a client for the store node at endpoint. The timeout bounds
// every outbound call; both suspension points in the pipeline fail closed
// when it elapses.
func New(endpoint string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		http:     &http.Client{Timeout: timeout},
		log:      logger,
	}
}

const (
	prefixes = `PREFIX schema: <http://schema.org/>
PREFIX kn: <https://ontology.veritome.io/knowledge#>
`

	recordBindings = `  OPTIONAL { ?ual schema:name ?name }
  OPTIONAL { ?ual schema:description ?description }
  OPTIONAL { ?ual schema:datePublished ?datePublished }
  OPTIONAL { ?ual kn:contributionType ?contributionType }
  OPTIONAL { ?ual kn:paywallWallet ?wallet }
  OPTIONAL { ?ual kn:paywallPrice ?price }
`

	analysisBindings = `  OPTIONAL { ?ual kn:analysisResult ?analysis }
  OPTIONAL { ?ual kn:fetch ?fetch }
  OPTIONAL { ?ual kn:triple ?triple }
  OPTIONAL { ?ual kn:semanticdrift ?semanticdrift }
  OPTIONAL { ?ual kn:factcheck ?factcheck }
  OPTIONAL { ?ual kn:sentiment ?sentiment }
  OPTIONAL { ?ual kn:multimodal ?multimodal }
  OPTIONAL { ?ual kn:judging ?judging }
  OPTIONAL { ?ual kn:status ?status }
  OPTIONAL { ?ual kn:stepsCompleted ?steps }
  OPTIONAL { ?ual kn:executionTime ?executionTime }
  OPTIONAL { ?ual kn:timestamp ?timestamp }
  OPTIONAL { ?ual kn:provenance ?provenance }
`
)

// LookupRecord fetches the most recent record filed under topicID.
// Multiple publications may share a topic id; most recent datePublished
// wins. The second return value is false when no row matched.
func (c *Client) LookupRecord(ctx context.Context, topicID string) (Row, bool, error) {
	query := prefixes + fmt.Sprintf(`SELECT ?ual ?name ?description ?datePublished ?contributionType ?wallet ?price ?analysis ?fetch ?triple ?semanticdrift ?factcheck ?sentiment ?multimodal ?judging ?status ?steps ?executionTime ?timestamp ?provenance
WHERE {
  ?ual kn:topicId "%s" .
%s%s}
ORDER BY DESC(?datePublished)
LIMIT 1`, EscapeLiteral(topicID), recordBindings, analysisBindings)

	rows, err := c.Query(ctx, query)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

// SearchRecords runs a keyword search over topic ids and titles. Only
// summary bindings are selected; search results never carry full
// analytical payloads.
func (c *Client) SearchRecords(ctx context.Context, keyword string, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 20
	}
	kw := EscapeLiteral(keyword)
	query := prefixes + fmt.Sprintf(`SELECT ?ual ?topic ?name ?description ?datePublished ?contributionType ?wallet ?price
WHERE {
  ?ual kn:topicId ?topic .
%s  FILTER(CONTAINS(LCASE(STR(?topic)), LCASE("%s")) || CONTAINS(LCASE(STR(?name)), LCASE("%s")))
}
ORDER BY DESC(?datePublished)
LIMIT %d`, recordBindings, kw, kw, limit)

	return c.Query(ctx, query)
}

// Query posts a SPARQL query to the store and parses the JSON results
// into rows of raw cells.
func (c *Client) Query(ctx context.Context, query string) ([]Row, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/query", strings.NewReader(query))
	if err != nil {
		return nil, &QueryError{Op: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/sparql-query")
	req.Header.Set("Accept", "application/sparql-results+json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &QueryError{Op: "query", Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return nil, &QueryError{Op: "query", Err: fmt.Errorf("status %s: %s", res.Status, strings.TrimSpace(string(body)))}
	}

	var parsed struct {
		Results struct {
			Bindings []map[string]any `json:"bindings"`
		} `json:"results"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, &QueryError{Op: "decode results", Err: err}
	}

	rows := make([]Row, 0, len(parsed.Results.Bindings))
	for _, b := range parsed.Results.Bindings {
		rows = append(rows, Row(b))
	}
	return rows, nil
}

// Ping issues a minimal query to confirm the store is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Query(ctx, "SELECT ?s WHERE { ?s ?p ?o } LIMIT 1")
	return err
}

// FetchDetail resolves an assigned identifier to the store's full view of
// the asset. Best-effort: callers treat a failure as "no detail".
func (c *Client) FetchDetail(ctx context.Context, identifier string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/assets/"+url.PathEscape(identifier), nil)
	if err != nil {
		return nil, &QueryError{Op: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, &QueryError{Op: "resolve", Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		return nil, &QueryError{Op: "resolve", Err: fmt.Errorf("status %s", res.Status)}
	}

	var detail map[string]any
	if err := json.NewDecoder(res.Body).Decode(&detail); err != nil {
		return nil, &QueryError{Op: "decode detail", Err: err}
	}
	return detail, nil
}

// PublishRecord forwards a validated record to the store's ingest
// interface and returns the identifier it assigned.
func (c *Client) PublishRecord(ctx context.Context, rec record.Record) (string, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/assets", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return "", fmt.Errorf("publish failed: %s: %s", res.Status, strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Identifier string `json:"identifier"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode publish response: %w", err)
	}
	return parsed.Identifier, nil
}

// EscapeLiteral escapes a caller-supplied value for inclusion in a SPARQL
// string literal. The query protocol has no parameter binding, so strict
// escaping is the injection defense.
func EscapeLiteral(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
