package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/ringscan/internal/analysis"
	"github.com/opensource-finance/ringscan/internal/bus"
	"github.com/opensource-finance/ringscan/internal/cache"
	"github.com/opensource-finance/ringscan/internal/domain"
	"github.com/opensource-finance/ringscan/internal/repository"
	"github.com/opensource-finance/ringscan/internal/rules"
)

const triangleCSV = "transaction_id,sender_id,receiver_id,amount,timestamp\n" +
	"T1,ACC_A,ACC_B,100,2025-03-01 10:00:00\n" +
	"T2,ACC_B,ACC_C,100,2025-03-01 11:00:00\n" +
	"T3,ACC_C,ACC_A,100,2025-03-01 12:00:00\n"

// analyzeResponse mirrors the public JSON shape of POST /analyze.
type analyzeResponse struct {
	AnalysisID         string                     `json:"analysis_id"`
	SuspiciousAccounts []domain.SuspiciousAccount `json:"suspicious_accounts"`
	FraudRings         []domain.FraudRing         `json:"fraud_rings"`
	GraphEdges         []domain.Edge              `json:"graph_edges"`
	Summary            domain.Summary             `json:"summary"`
}

type testEnv struct {
	server *Server
	repo   domain.Repository
	bus    *bus.ChannelBus
}

// createTestServer creates a fully wired server backed by a temp SQLite file.
func createTestServer(t *testing.T, maxUpload int64) *testEnv {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	pipeline, err := analysis.NewPipeline(domain.DefaultDetectionConfig())
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	engine, _ := rules.NewEngine(5)
	if err := engine.LoadRules(rules.DefaultAlertRules()); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	lru := cache.NewLRUCache(16)
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	service := &analysis.Service{
		Pipeline: pipeline,
		Rules:    engine,
		Reports:  cache.NewReportCache(lru, time.Minute),
		Repo:     repo,
		Bus:      eventBus,
	}

	return &testEnv{
		server: NewServer(cfg, service, repo, lru, eventBus, engine, "test-v1", maxUpload),
		repo:   repo,
		bus:    eventBus,
	}
}

func postCSV(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/csv")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func TestAnalyzeEndpoint(t *testing.T) {
	t.Run("RawCSV", func(t *testing.T) {
		env := createTestServer(t, 0)

		rr := postCSV(t, env.server, triangleCSV)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp analyzeResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.AnalysisID == "" {
			t.Error("expected analysis_id")
		}
		if len(resp.FraudRings) != 3 {
			t.Errorf("expected 3 fraud rings, got %d", len(resp.FraudRings))
		}
		if resp.FraudRings[0].RingID != "RING_001" {
			t.Errorf("expected RING_001, got %s", resp.FraudRings[0].RingID)
		}
		if len(resp.GraphEdges) != 3 {
			t.Errorf("expected 3 edges, got %d", len(resp.GraphEdges))
		}
		if resp.Summary.TotalAccountsAnalyzed != 3 {
			t.Errorf("expected 3 accounts, got %d", resp.Summary.TotalAccountsAnalyzed)
		}
		if resp.Summary.SuspiciousAccountsFlagged != 3 {
			t.Errorf("expected 3 suspicious accounts, got %d", resp.Summary.SuspiciousAccountsFlagged)
		}
		if rr.Header().Get(CacheHeader) != "MISS" {
			t.Errorf("expected cache miss, got %q", rr.Header().Get(CacheHeader))
		}
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected request id header")
		}
	})

	t.Run("MultipartUpload", func(t *testing.T) {
		env := createTestServer(t, 0)

		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, _ := mw.CreateFormFile("file", "ledger.csv")
		part.Write([]byte(triangleCSV))
		mw.Close()

		req := httptest.NewRequest(http.MethodPost, "/analyze", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp analyzeResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Summary.FraudRingsDetected != 3 {
			t.Errorf("expected 3 rings, got %d", resp.Summary.FraudRingsDetected)
		}
	})

	t.Run("MultipartWithoutFile", func(t *testing.T) {
		env := createTestServer(t, 0)

		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		mw.WriteField("note", "no file here")
		mw.Close()

		req := httptest.NewRequest(http.MethodPost, "/analyze", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("RepeatedUploadIsCached", func(t *testing.T) {
		env := createTestServer(t, 0)

		first := postCSV(t, env.server, triangleCSV)
		second := postCSV(t, env.server, triangleCSV)

		if second.Header().Get(CacheHeader) != "HIT" {
			t.Errorf("expected cache hit, got %q", second.Header().Get(CacheHeader))
		}

		var a, b analyzeResponse
		json.Unmarshal(first.Body.Bytes(), &a)
		json.Unmarshal(second.Body.Bytes(), &b)
		if a.AnalysisID != b.AnalysisID {
			t.Errorf("expected same analysis id, got %s and %s", a.AnalysisID, b.AnalysisID)
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		env := createTestServer(t, 0)

		rr := postCSV(t, env.server, "transaction_id,sender_id,receiver_id,amount,timestamp\n")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var raw map[string]json.RawMessage
		json.Unmarshal(rr.Body.Bytes(), &raw)
		for _, key := range []string{"suspicious_accounts", "fraud_rings", "graph_edges"} {
			if string(raw[key]) != "[]" {
				t.Errorf("expected %s to be [], got %s", key, raw[key])
			}
		}
	})

	t.Run("InvalidRecord", func(t *testing.T) {
		env := createTestServer(t, 0)

		rr := postCSV(t, env.server, "transaction_id,sender_id,receiver_id,amount,timestamp\nT1,A,B,abc,x\n")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "line 2") {
			t.Errorf("expected line number in error, got %s", rr.Body.String())
		}
	})

	t.Run("MissingColumn", func(t *testing.T) {
		env := createTestServer(t, 0)

		rr := postCSV(t, env.server, "sender_id,receiver_id\nA,B\n")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("EmptyBody", func(t *testing.T) {
		env := createTestServer(t, 0)

		rr := postCSV(t, env.server, "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("TooLarge", func(t *testing.T) {
		env := createTestServer(t, 32)

		rr := postCSV(t, env.server, triangleCSV)
		if rr.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected status 413, got %d", rr.Code)
		}
	})

	t.Run("DetectorFailure", func(t *testing.T) {
		env := createTestServer(t, 0)
		env.server.Handler().service.Pipeline.Detectors.AmountAnomalies = func([]domain.Transaction, float64) []string {
			panic("boom")
		}

		rr := postCSV(t, env.server, triangleCSV)
		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}

func TestAnalysesEndpoints(t *testing.T) {
	env := createTestServer(t, 0)

	rr := postCSV(t, env.server, triangleCSV)
	var created analyzeResponse
	json.Unmarshal(rr.Body.Bytes(), &created)

	t.Run("GetAnalysis", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/analyses/"+created.AnalysisID, nil)
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var got analyzeResponse
		json.Unmarshal(rr.Body.Bytes(), &got)
		if got.AnalysisID != created.AnalysisID || len(got.FraudRings) != 3 {
			t.Errorf("unexpected stored report %+v", got)
		}
	})

	t.Run("GetAnalysisNotFound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/analyses/missing", nil)
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ListAlerts", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/analyses/"+created.AnalysisID+"/alerts", nil)
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		var resp struct {
			Alerts []domain.Alert `json:"alerts"`
			Count  int            `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 3 {
			t.Errorf("expected 3 alerts, got %d", resp.Count)
		}
		for _, a := range resp.Alerts {
			if a.RuleID != "ring-member" {
				t.Errorf("unexpected rule %s", a.RuleID)
			}
		}
	})

	t.Run("ListAnalyses", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/analyses?limit=5", nil)
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		var resp struct {
			Analyses []domain.ReportSummary `json:"analyses"`
			Count    int                    `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 || resp.Analyses[0].ID != created.AnalysisID {
			t.Errorf("unexpected listing %+v", resp)
		}
	})

	t.Run("ListAnalysesBadLimit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/analyses?limit=zero", nil)
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestSubmitBatch(t *testing.T) {
	env := createTestServer(t, 0)

	var queued atomic.Int32
	env.bus.Subscribe(context.Background(), domain.TopicBatchSubmitted, func(ctx context.Context, msg *domain.Message) error {
		if string(msg.Payload) == triangleCSV {
			queued.Add(1)
		}
		return nil
	})
	time.Sleep(10 * time.Millisecond)

	req := httptest.NewRequest(http.MethodPost, "/batches", strings.NewReader(triangleCSV))
	req.Header.Set("Content-Type", "text/csv")
	rr := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}

	deadline := time.Now().Add(time.Second)
	for queued.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if queued.Load() != 1 {
		t.Errorf("expected batch on %s", domain.TopicBatchSubmitted)
	}
}

func TestRulesEndpoints(t *testing.T) {
	env := createTestServer(t, 0)

	t.Run("ListDefaultRules", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/rules", nil)
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 2 {
			t.Errorf("expected 2 rules, got %d", resp.Count)
		}
	})

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"Valid", `{"id":"fan-in","name":"Fan-in","expression":"\"fan_in\" in patterns","severity":"low","enabled":true}`, http.StatusCreated},
		{"InvalidCEL", `{"id":"bad","expression":"score >"}`, http.StatusBadRequest},
		{"NotBool", `{"id":"num","expression":"score + 1.0"}`, http.StatusBadRequest},
		{"MissingID", `{"expression":"true"}`, http.StatusBadRequest},
		{"BadSeverity", `{"id":"sev","expression":"true","severity":"urgent"}`, http.StatusBadRequest},
		{"InvalidJSON", `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/rules", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()
			env.server.Router().ServeHTTP(rr, req)

			if rr.Code != tt.status {
				t.Errorf("expected status %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
		})
	}

	if env.server.Handler().engine.RulesCount() != 3 {
		t.Errorf("expected 3 loaded rules, got %d", env.server.Handler().engine.RulesCount())
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := createTestServer(t, 0)

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", path, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rr, req)

	var resp map[string]string
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["status"] != "healthy" || resp["version"] != "test-v1" {
		t.Errorf("unexpected health response %v", resp)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := createTestServer(t, 0)

	req := httptest.NewRequest(http.MethodOptions, "/analyze", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("unexpected allow-origin %q", rr.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestTracingMiddleware(t *testing.T) {
	t.Run("KeepsIncomingRequestID", func(t *testing.T) {
		env := createTestServer(t, 0)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rr := httptest.NewRecorder()
		env.server.Router().ServeHTTP(rr, req)

		if got := rr.Header().Get(RequestIDHeader); got != "req-42" {
			t.Errorf("expected request id req-42, got %q", got)
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected trace id header")
		}
	})

	t.Run("RecordsFirstStatus", func(t *testing.T) {
		var recorded int
		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.WriteHeader(http.StatusOK)
			if rw, ok := w.(*responseWriter); ok {
				recorded = rw.statusCode
			}
		}))

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))

		if recorded != http.StatusServiceUnavailable {
			t.Errorf("expected recorded status 503, got %d", recorded)
		}
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected response status 503, got %d", rr.Code)
		}
	})
}
