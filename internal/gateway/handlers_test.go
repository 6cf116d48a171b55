package gateway_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veritome/knowledge-gateway/internal/cache"
	"github.com/veritome/knowledge-gateway/internal/config"
	"github.com/veritome/knowledge-gateway/internal/gateway"
	"github.com/veritome/knowledge-gateway/internal/graph"
	"github.com/veritome/knowledge-gateway/internal/payment"
)

// advertisedEndpoint is what the guard sees; the graph client itself is
// pointed at the local stand-in server.
const advertisedEndpoint = "https://query.veritome.io"

func lit(v string) map[string]any {
	return map[string]any{"type": "literal", "value": v}
}

func uri(v string) map[string]any {
	return map[string]any{"type": "uri", "value": v}
}

// fakeStore stands in for the remote graph store node.
type fakeStore struct {
	bindings  []map[string]any
	failQuery bool
	publishID string
}

func (f *fakeStore) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/query":
			if f.failQuery {
				http.Error(w, "query engine exploded", http.StatusInternalServerError)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"results": map[string]any{"bindings": f.bindings},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/assets":
			json.NewEncoder(w).Encode(map[string]string{"identifier": f.publishID})
		default:
			http.NotFound(w, r)
		}
	})
}

func newGateway(t *testing.T, storeURL, facilitatorURL string, store cache.Store) http.Handler {
	t.Helper()

	cfg := &config.Gateway{
		GraphEndpoint:      advertisedEndpoint,
		QueryTimeout:       2 * time.Second,
		DefaultLimit:       20,
		MaxLimit:           100,
		PaymentScheme:      "exact",
		PaymentNetwork:     "base-sepolia",
		FacilitatorURL:     facilitatorURL,
		FacilitatorTimeout: time.Second,
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	facilitator := payment.NewFacilitator(facilitatorURL, time.Second, log)
	gate := payment.NewGate(facilitator, cfg.PaymentScheme, cfg.PaymentNetwork, cfg.PaymentAsset)
	graphClient := graph.New(storeURL, cfg.QueryTimeout, log)

	return gateway.NewServer(log, cfg, graphClient, gate, store, nil).Routes()
}

func openRecordRow() map[string]any {
	return map[string]any{
		"ual":              uri("did:dkg:otp/101"),
		"name":             lit("Artificial intelligence"),
		"description":      lit("Survey of the field"),
		"datePublished":    lit("2026-05-01T10:00:00Z"),
		"contributionType": lit("regular"),
		"analysis": lit(`{"topic":"Artificial intelligence","status":"success","steps_completed":["fetch","triple"],"execution_time_seconds":42.5,"timestamp":"2026-05-01T09:59:00Z","results":{"fetch":{"status":"success"},"triple":{"overlap":0.8},"semanticdrift":{"semantic_drift_score":0.12},"factcheck":{"total_contradictions":0},"sentiment":{"polarity":0.1},"multimodal":{"aligned":true},"judging":{"verdict":"consistent"}}}`),
	}
}

func paidRecordRow() map[string]any {
	return map[string]any{
		"ual":              uri("did:dkg:otp/202"),
		"name":             lit("Paid topic"),
		"datePublished":    lit("2026-06-01T00:00:00Z"),
		"contributionType": lit("User contributed"),
		"wallet":           lit("0xWallet"),
		"price":            lit("0.10"),
		"analysis":         lit(`{"results":{"judging":{"verdict":"paywalled but sound"}}}`),
	}
}

type assetBody struct {
	TopicID          string                    `json:"topicId"`
	Found            bool                      `json:"found"`
	Identifier       string                    `json:"identifier"`
	Title            string                    `json:"title"`
	ContributionType string                    `json:"contributionType"`
	IsPaywalled      bool                      `json:"isPaywalled"`
	Status           string                    `json:"status"`
	AnalysisSections map[string]map[string]any `json:"analysisSections"`
	Payment          *struct {
		Verified bool `json:"verified"`
	} `json:"payment"`
}

func TestGetAssetNotFound(t *testing.T) {
	store := httptest.NewServer((&fakeStore{}).handler())
	defer store.Close()

	router := newGateway(t, store.URL, "", nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/Climate_change", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body assetBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Climate_change", body.TopicID)
	require.False(t, body.Found)
}

func TestGetAssetOpenRecord(t *testing.T) {
	store := httptest.NewServer((&fakeStore{bindings: []map[string]any{openRecordRow()}}).handler())
	defer store.Close()

	router := newGateway(t, store.URL, "", nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/Artificial_intelligence", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body assetBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Found)
	require.False(t, body.IsPaywalled)
	require.Equal(t, "did:dkg:otp/101", body.Identifier)
	require.Equal(t, "success", body.Status)

	for _, name := range []string{"fetch", "triple", "semanticdrift", "factcheck", "sentiment", "multimodal", "judging"} {
		require.Contains(t, body.AnalysisSections, name)
	}
	require.Equal(t, "success", body.AnalysisSections["fetch"]["status"])
}

func TestGetAssetMonetizedChallenge(t *testing.T) {
	store := httptest.NewServer((&fakeStore{bindings: []map[string]any{paidRecordRow()}}).handler())
	defer store.Close()

	router := newGateway(t, store.URL, "", nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/Paid_topic", nil))

	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var challenge payment.Challenge
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &challenge))
	require.Len(t, challenge.Accepts, 1)
	require.Equal(t, "0.10", challenge.Accepts[0].Amount)
	require.Equal(t, "GET /assets/Paid_topic", challenge.Accepts[0].Resource)
	require.Equal(t, "0xWallet", challenge.Accepts[0].PayTo)

	require.NotContains(t, rec.Body.String(), "analysisSections")
}

func TestGetAssetMonetizedVerifiedProof(t *testing.T) {
	store := httptest.NewServer((&fakeStore{bindings: []map[string]any{paidRecordRow()}}).handler())
	defer store.Close()

	facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(payment.VerifyResult{Verified: true})
	}))
	defer facilitator.Close()

	router := newGateway(t, store.URL, facilitator.URL, nil)

	req := httptest.NewRequest(http.MethodGet, "/assets/Paid_topic", nil)
	req.Header.Set(payment.ProofHeader, `{"signature":"0xgood"}`)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body assetBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.IsPaywalled)
	require.NotNil(t, body.Payment)
	require.True(t, body.Payment.Verified)
	require.Equal(t, "paywalled but sound", body.AnalysisSections["judging"]["verdict"])
}

func TestGetAssetMonetizedRejectedProof(t *testing.T) {
	store := httptest.NewServer((&fakeStore{bindings: []map[string]any{paidRecordRow()}}).handler())
	defer store.Close()

	facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(payment.VerifyResult{Verified: false, Error: "bad signature"})
	}))
	defer facilitator.Close()

	router := newGateway(t, store.URL, facilitator.URL, nil)

	req := httptest.NewRequest(http.MethodGet, "/assets/Paid_topic", nil)
	req.Header.Set(payment.ProofHeader, `{"signature":"0xbad"}`)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	require.NotContains(t, rec.Body.String(), "analysisSections")
}

// The full payload of a monetized record must never escape unless the
// facilitator explicitly verified the proof, across every combination of
// terms and proof validity.
func TestMonetizedPayloadNeverLeaksUnverified(t *testing.T) {
	for _, wallet := range []string{"", "0xWallet"} {
		for _, price := range []string{"", "0", "0.10"} {
			for _, proofValid := range []bool{true, false} {
				row := map[string]any{
					"ual":              uri("did:dkg:otp/777"),
					"name":             lit("Combo topic"),
					"contributionType": lit("User contributed"),
					"analysis":         lit(`{"results":{"judging":{"verdict":"secret"}}}`),
				}
				if wallet != "" {
					row["wallet"] = lit(wallet)
				}
				if price != "" {
					row["price"] = lit(price)
				}

				store := httptest.NewServer((&fakeStore{bindings: []map[string]any{row}}).handler())
				verdict := proofValid
				facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					json.NewEncoder(w).Encode(payment.VerifyResult{Verified: verdict})
				}))

				router := newGateway(t, store.URL, facilitator.URL, nil)
				req := httptest.NewRequest(http.MethodGet, "/assets/Combo_topic", nil)
				req.Header.Set(payment.ProofHeader, `{"sig":"x"}`)

				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)

				monetized := wallet != "" && price == "0.10"
				delivered := rec.Code == http.StatusOK && strings.Contains(rec.Body.String(), "secret")

				if monetized && !proofValid {
					require.False(t, delivered, "wallet=%q price=%q proof=%v", wallet, price, proofValid)
					require.Equal(t, http.StatusPaymentRequired, rec.Code)
				} else {
					require.True(t, delivered, "wallet=%q price=%q proof=%v", wallet, price, proofValid)
				}

				store.Close()
				facilitator.Close()
			}
		}
	}
}

func TestSearchListsButNeverGates(t *testing.T) {
	rows := []map[string]any{
		{
			"ual":              uri("did:dkg:otp/1"),
			"topic":            lit("Artificial_intelligence"),
			"name":             lit("Artificial intelligence"),
			"contributionType": lit("regular"),
		},
		{
			"ual":              uri("did:dkg:otp/2"),
			"topic":            lit("Artificial_life"),
			"name":             lit("Artificial life"),
			"contributionType": lit("User contributed"),
			"wallet":           lit("0xWallet"),
			"price":            lit("0.25"),
		},
		{
			"ual":   uri("did:dkg:otp/3"),
			"topic": lit("Artificial_neural_network"),
			"name":  lit("Artificial neural network"),
		},
	}

	store := httptest.NewServer((&fakeStore{bindings: rows}).handler())
	defer store.Close()

	router := newGateway(t, store.URL, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/assets?keyword=artificial&limit=5", nil)
	// A valid proof must make no difference on the search path.
	req.Header.Set(payment.ProofHeader, `{"sig":"x"}`)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Found bool `json:"found"`
		Count int  `json:"count"`
		Notes []struct {
			TopicID     string `json:"topicId"`
			IsPaywalled bool   `json:"isPaywalled"`
			PriceUsd    string `json:"priceUsd"`
		} `json:"notes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Found)
	require.Equal(t, 3, body.Count)
	require.Len(t, body.Notes, 3)

	require.NotContains(t, rec.Body.String(), "analysisSections")

	require.False(t, body.Notes[0].IsPaywalled)
	require.True(t, body.Notes[1].IsPaywalled)
	require.Equal(t, "0.25", body.Notes[1].PriceUsd)
}

func TestGuardRejectsLocalEndpoint(t *testing.T) {
	store := httptest.NewServer((&fakeStore{}).handler())
	defer store.Close()

	cfg := &config.Gateway{
		GraphEndpoint:      "http://localhost:8900",
		QueryTimeout:       time.Second,
		DefaultLimit:       20,
		MaxLimit:           100,
		FacilitatorTimeout: time.Second,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := gateway.NewServer(log, cfg, graph.New(store.URL, time.Second, log), payment.NewGate(nil, "", "", ""), nil, nil).Routes()

	for _, target := range []string{"/assets/Anything", "/assets?keyword=x"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestQueryFailureReadsAsNotFound(t *testing.T) {
	store := httptest.NewServer((&fakeStore{failQuery: true}).handler())
	defer store.Close()

	router := newGateway(t, store.URL, "", nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/Climate_change", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NotContains(t, rec.Body.String(), "exploded")

	var body assetBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Found)
}

func TestOpenRecordServedFromCache(t *testing.T) {
	store := httptest.NewServer((&fakeStore{bindings: []map[string]any{openRecordRow()}}).handler())

	router := newGateway(t, store.URL, "", cache.NewMemory(16, time.Minute))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/Artificial_intelligence", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Store goes away; the immutable record is still served.
	store.Close()

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/Artificial_intelligence", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body assetBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Found)
}

func TestIngestValidatesMonetization(t *testing.T) {
	store := httptest.NewServer((&fakeStore{publishID: "did:dkg:otp/900"}).handler())
	defer store.Close()

	router := newGateway(t, store.URL, "", nil)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{
			name:     "valid open record",
			body:     `{"topicId":"New_topic","title":"New topic"}`,
			wantCode: http.StatusCreated,
		},
		{
			name:     "valid monetized record",
			body:     `{"topicId":"New_topic","contributionType":"User contributed","monetization":{"walletAddress":"0xabc","priceUsd":0.5}}`,
			wantCode: http.StatusCreated,
		},
		{
			name:     "wallet without price",
			body:     `{"topicId":"New_topic","monetization":{"walletAddress":"0xabc"}}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "price without wallet",
			body:     `{"topicId":"New_topic","monetization":{"priceUsd":1}}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing topic id",
			body:     `{"title":"No topic"}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "malformed body",
			body:     `{"topicId":`,
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/assets", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			require.Equal(t, tt.wantCode, rec.Code)

			if tt.wantCode == http.StatusCreated {
				var resp struct {
					Identifier string `json:"identifier"`
				}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				require.Equal(t, "did:dkg:otp/900", resp.Identifier)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	store := httptest.NewServer((&fakeStore{}).handler())
	defer store.Close()

	router := newGateway(t, store.URL, "", nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
