package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"deploymetrics/internal/deployment"
	"deploymetrics/internal/ingest"
	"deploymetrics/internal/store/memory"
)

// clock is the server's "now": the default reporting date is 2020-03-10
var clock = time.Date(2020, 3, 11, 9, 0, 0, 0, time.UTC)

type fakeExpander struct {
	children map[string][]string
	err      error
}

func (f *fakeExpander) DescendantApplicationIDs(ctx context.Context, applicationID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.children[applicationID], nil
}

type unreachableStore struct {
	*memory.Store
}

func (unreachableStore) Ping(ctx context.Context) error {
	return errors.New("connection refused")
}

type testEnv struct {
	server   *Server
	router   http.Handler
	expander *fakeExpander
}

func quietTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestServer(t *testing.T, opts Options) *testEnv {
	t.Helper()
	return setupTestServerWithStore(t, memory.New(), opts)
}

func setupTestServerWithStore(t *testing.T, store deployment.Store, opts Options) *testEnv {
	t.Helper()

	logger := quietTestLogger()
	expander := &fakeExpander{children: map[string][]string{
		"platform": {"payments", "search"},
	}}
	metrics := NewMetrics(nil)
	svc := deployment.NewService(store, expander, logger,
		deployment.WithRecorder(metrics),
		deployment.WithClock(func() time.Time { return clock }))

	if !opts.TestMode && opts.RateLimit == 0 {
		opts.TestMode = true
	}
	srv := NewServer(svc, metrics, opts, logger)
	srv.now = func() time.Time { return clock }

	return &testEnv{server: srv, router: srv.Router(), expander: expander}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func deploymentJSON(deploymentID, applicationID string, created time.Time, changeAges ...time.Duration) []byte {
	req := deployment.Request{
		DeploymentID:  deploymentID,
		ApplicationID: applicationID,
		RFCID:         "CHG0001",
		Created:       created,
		Source:        "ci",
	}
	for i, age := range changeAges {
		req.Changes = append(req.Changes, deployment.ChangeRequest{
			ID:        deploymentID + "-c" + string(rune('0'+i)),
			Created:   created.Add(-age),
			Source:    "git",
			EventType: "commit",
		})
	}
	data, _ := json.Marshal(req)
	return data
}

func (e *testEnv) mustStore(t *testing.T, deploymentID, applicationID string, created time.Time, changeAges ...time.Duration) deployment.Deployment {
	t.Helper()

	rr := e.do(t, "POST", "/api/v1/deployment", deploymentJSON(deploymentID, applicationID, created, changeAges...), nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 storing %s, got %d: %s", deploymentID, rr.Code, rr.Body.String())
	}

	var d deployment.Deployment
	if err := json.Unmarshal(rr.Body.Bytes(), &d); err != nil {
		t.Fatalf("Failed to decode stored deployment: %v", err)
	}
	return d
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var response map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &response)
	return response["error"]
}

func TestHandleStoreDeployment(t *testing.T) {
	env := setupTestServer(t, Options{})
	created := time.Date(2020, 3, 10, 12, 0, 0, 0, time.UTC)

	d := env.mustStore(t, "d1", "payments", created, 2*time.Hour, 6*time.Hour)

	if d.ID == "" {
		t.Error("Expected storage id to be assigned")
	}
	if d.LeadTimeSeconds != 4*3600 {
		t.Errorf("Expected lead time 14400, got %d", d.LeadTimeSeconds)
	}
	if d.LeadTimePerfLevel.String() != "ELITE" {
		t.Errorf("Expected ELITE, got %s", d.LeadTimePerfLevel)
	}
	if len(d.Changes) != 2 || d.Changes[1].LeadTimeSeconds != 6*3600 {
		t.Errorf("Unexpected changes: %+v", d.Changes)
	}
}

func TestHandleStoreDeployment_Rejects(t *testing.T) {
	created := time.Date(2020, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		body        []byte
		contentType string
		wantStatus  int
		wantError   string
	}{
		{"missing application", deploymentJSON("d1", "", created), "application/json", http.StatusBadRequest, "applicationId"},
		{"missing created", deploymentJSON("d1", "payments", time.Time{}), "application/json", http.StatusBadRequest, "created"},
		{"invalid JSON", []byte(`{"deploymentId":`), "application/json", http.StatusBadRequest, "Invalid JSON payload"},
		{"bad deployment id", deploymentJSON("d1;rm -rf", "payments", created), "application/json", http.StatusBadRequest, "Invalid deployment id"},
		{"bad application id", deploymentJSON("d1", "../payments", created), "application/json", http.StatusBadRequest, "Invalid application id"},
		{"wrong content type", deploymentJSON("d1", "payments", created), "text/plain", http.StatusUnsupportedMediaType, "Invalid content type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t, Options{})
			rr := env.do(t, "POST", "/api/v1/deployment", tt.body, map[string]string{"Content-Type": tt.contentType})

			if rr.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rr.Code)
			}
			if got := decodeError(t, rr); !strings.Contains(got, tt.wantError) {
				t.Errorf("Expected error containing %q, got %q", tt.wantError, got)
			}
		})
	}
}

func TestHandleStoreDeployment_PayloadTooLarge(t *testing.T) {
	env := setupTestServer(t, Options{})

	rr := env.do(t, "POST", "/api/v1/deployment", make([]byte, MaxPayloadBytes+1), nil)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413, got %d", rr.Code)
	}
}

func TestHandleStoreDeployment_Duplicate(t *testing.T) {
	env := setupTestServer(t, Options{})
	created := time.Date(2020, 3, 10, 12, 0, 0, 0, time.UTC)
	env.mustStore(t, "d1", "payments", created)

	rr := env.do(t, "POST", "/api/v1/deployment", deploymentJSON("d1", "search", created), nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", rr.Code)
	}
}

func TestHandleStoreDeployment_Signature(t *testing.T) {
	env := setupTestServer(t, Options{IngestSecret: testSecret})
	body := deploymentJSON("d1", "payments", time.Date(2020, 3, 10, 12, 0, 0, 0, time.UTC))

	rr := env.do(t, "POST", "/api/v1/deployment", body, nil)
	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 without signature, got %d", rr.Code)
	}

	rr = env.do(t, "POST", "/api/v1/deployment", body, map[string]string{
		SignatureHeader: MakeTestSignature(body, "wrong-secret-at-least-32-chars-long-x"),
	})
	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 with wrong signature, got %d", rr.Code)
	}

	rr = env.do(t, "POST", "/api/v1/deployment", body, map[string]string{
		SignatureHeader: MakeTestSignature(body, testSecret),
	})
	if rr.Code != http.StatusCreated {
		t.Errorf("Expected status 201 with valid signature, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleGetAndDeleteDeployment(t *testing.T) {
	env := setupTestServer(t, Options{})
	d := env.mustStore(t, "d1", "payments", time.Date(2020, 3, 10, 12, 0, 0, 0, time.UTC), time.Hour)

	rr := env.do(t, "GET", "/api/v1/deployment/"+d.ID, nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var got deployment.Deployment
	_ = json.Unmarshal(rr.Body.Bytes(), &got)
	if got.DeploymentID != "d1" || len(got.Changes) != 1 {
		t.Errorf("Unexpected deployment: %+v", got)
	}

	rr = env.do(t, "DELETE", "/api/v1/deployment/"+d.ID, nil, nil)
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", rr.Code)
	}

	for _, method := range []string{"GET", "DELETE"} {
		rr = env.do(t, method, "/api/v1/deployment/"+d.ID, nil, nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("Expected %s after delete to return 404, got %d", method, rr.Code)
		}
	}

	rr = env.do(t, "GET", "/api/v1/deployment/not-a-uuid", nil, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for malformed id, got %d", rr.Code)
	}
}

func listIDs(t *testing.T, rr *httptest.ResponseRecorder) []string {
	t.Helper()
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var deploys []deployment.Deployment
	if err := json.Unmarshal(rr.Body.Bytes(), &deploys); err != nil {
		t.Fatalf("Failed to decode listing: %v", err)
	}
	ids := make([]string, 0, len(deploys))
	for _, d := range deploys {
		ids = append(ids, d.DeploymentID)
	}
	return ids
}

func TestHandleListings(t *testing.T) {
	env := setupTestServer(t, Options{})

	env.mustStore(t, "p1", "payments", time.Date(2020, 3, 9, 12, 0, 0, 0, time.UTC))
	env.mustStore(t, "s1", "search", time.Date(2020, 3, 10, 8, 0, 0, 0, time.UTC))
	env.mustStore(t, "root1", "platform", time.Date(2020, 3, 10, 9, 0, 0, 0, time.UTC))
	env.mustStore(t, "o1", "other", time.Date(2020, 3, 10, 10, 0, 0, 0, time.UTC))
	env.mustStore(t, "p2", "payments", time.Date(2020, 3, 10, 23, 59, 59, 0, time.UTC))

	tests := []struct {
		path string
		want []string
	}{
		{"/api/v1/deployment", []string{"p1", "s1", "root1", "o1", "p2"}},
		{"/api/v1/deployment/application/payments", []string{"p1", "p2"}},
		{"/api/v1/deployment/application/payments/date/2020-03-10", []string{"p2"}},
		{"/api/v1/deployment/application/search/date/2020-03-09", []string{}},
		{"/api/v1/deployment/hierarchy/platform", []string{"p2", "root1", "s1", "p1"}},
		{"/api/v1/deployment/application/nobody", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := listIDs(t, env.do(t, "GET", tt.path, nil, nil))
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestHandleDeployFreq(t *testing.T) {
	env := setupTestServer(t, Options{})

	env.mustStore(t, "p1", "payments", time.Date(2020, 3, 10, 8, 0, 0, 0, time.UTC))
	env.mustStore(t, "s1", "search", time.Date(2020, 3, 10, 9, 0, 0, 0, time.UTC))

	tests := []struct {
		name      string
		path      string
		wantDate  string
		wantCount int
		wantLevel string
		wantUnit  string
	}{
		{"subtree elite", "/api/v1/deployment/application/platform/frequency/2020-03-10", "2020-03-10", 2, "ELITE", "DAY"},
		{"leaf high", "/api/v1/deployment/application/payments/frequency/2020-03-12", "2020-03-12", 1, "HIGH", "WEEK"},
		{"default date", "/api/v1/deployment/application/platform/frequency", "2020-03-10", 2, "ELITE", "DAY"},
		{"no data", "/api/v1/deployment/application/unknown-app/frequency/2020-03-10", "2020-03-10", 0, "UNKNOWN", "YEAR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "GET", tt.path, nil, nil)
			if rr.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
			}

			var got map[string]any
			_ = json.Unmarshal(rr.Body.Bytes(), &got)
			if got["reportingDate"] != tt.wantDate {
				t.Errorf("Expected reportingDate %s, got %v", tt.wantDate, got["reportingDate"])
			}
			if got["deploymentCount"] != float64(tt.wantCount) {
				t.Errorf("Expected count %d, got %v", tt.wantCount, got["deploymentCount"])
			}
			if got["deployFreqLevel"] != tt.wantLevel || got["timePeriod"] != tt.wantUnit {
				t.Errorf("Expected %s/%s, got %v/%v", tt.wantLevel, tt.wantUnit, got["deployFreqLevel"], got["timePeriod"])
			}
		})
	}
}

func TestHandleLeadTime(t *testing.T) {
	env := setupTestServer(t, Options{})

	env.mustStore(t, "p1", "payments", time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC), 2*time.Hour)
	env.mustStore(t, "s1", "search", time.Date(2020, 3, 9, 12, 0, 0, 0, time.UTC), 6*time.Hour, 10*time.Hour)

	rr := env.do(t, "GET", "/api/v1/deployment/application/platform/lead_time/2020-03-10", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var got map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &got)
	// mean over the three changes: (2h + 6h + 10h) / 3
	if got["leadTimeSeconds"] != float64(6*3600) || got["leadTimePerfLevel"] != "ELITE" {
		t.Errorf("Expected 21600s ELITE, got %v", got)
	}

	rr = env.do(t, "GET", "/api/v1/deployment/application/platform/lead_time", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &got)
	if got["reportingDate"] != "2020-03-10" {
		t.Errorf("Expected default reporting date 2020-03-10, got %v", got["reportingDate"])
	}
}

func TestHandleCalculations_BadInput(t *testing.T) {
	env := setupTestServer(t, Options{})

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"malformed date", "/api/v1/deployment/application/payments/frequency/2020-13-01", http.StatusBadRequest},
		{"date with time", "/api/v1/deployment/application/payments/lead_time/2020-03-10T00:00:00Z", http.StatusBadRequest},
		{"listing bad date", "/api/v1/deployment/application/payments/date/yesterday", http.StatusBadRequest},
		{"bad application id", "/api/v1/deployment/application/-payments/frequency", http.StatusBadRequest},
		{"bad hierarchy id", "/api/v1/deployment/hierarchy/pay%20ments", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "GET", tt.path, nil, nil)
			if rr.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, rr.Code)
			}
		})
	}
}

func TestHandleHierarchyFailure(t *testing.T) {
	env := setupTestServer(t, Options{})
	env.expander.err = errors.New("team service unavailable")

	for _, path := range []string{
		"/api/v1/deployment/application/platform/frequency/2020-03-10",
		"/api/v1/deployment/application/platform/lead_time/2020-03-10",
		"/api/v1/deployment/hierarchy/platform",
	} {
		rr := env.do(t, "GET", path, nil, nil)
		if rr.Code != http.StatusBadGateway {
			t.Errorf("Expected status 502 for %s, got %d", path, rr.Code)
		}
	}
}

func TestHandleHealth(t *testing.T) {
	env := setupTestServer(t, Options{})
	rr := env.do(t, "GET", "/health", nil, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	down := setupTestServerWithStore(t, unreachableStore{memory.New()}, Options{})
	rr = down.do(t, "GET", "/health", nil, nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rr.Code)
	}
}

func TestHandleMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t, Options{})
	env.mustStore(t, "p1", "payments", time.Date(2020, 3, 10, 8, 0, 0, 0, time.UTC))
	env.do(t, "GET", "/api/v1/deployment/application/payments/frequency/2020-03-10", nil, nil)

	rr := env.do(t, "GET", "/metrics", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	body := rr.Body.String()
	for _, want := range []string{
		`deploymetrics_classifications_total{metric="deployment_frequency",tier="HIGH"} 1`,
		`deploymetrics_api_http_requests_total{method="POST",route="/api/v1/deployment",status="201"} 1`,
		`deploymetrics_api_http_request_duration_seconds_bucket`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected metrics to contain %q", want)
		}
	}
}

func TestHandleGitHubWebhook(t *testing.T) {
	payload := []byte(`{
		"ref": "refs/heads/main",
		"after": "c0ffee",
		"repository": {"full_name": "acme/shop"},
		"head_commit": {"id": "c0ffee", "timestamp": "2020-03-10T12:00:00Z"},
		"commits": [{"id": "c0ffee", "timestamp": "2020-03-10T11:00:00Z"}]
	}`)

	env := setupTestServer(t, Options{WebhookSecret: testSecret})
	headers := map[string]string{
		"X-GitHub-Event":      "push",
		"X-Hub-Signature-256": MakeTestSignature(payload, testSecret),
	}

	rr := env.do(t, "POST", "/api/v1/webhook/github/shop", payload, headers)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var d deployment.Deployment
	_ = json.Unmarshal(rr.Body.Bytes(), &d)
	if d.DeploymentID != "acme/shop@c0ffee" || d.ApplicationID != "shop" || d.LeadTimeSeconds != 3600 {
		t.Errorf("Unexpected deployment: %+v", d)
	}

	// Redelivery of the same push
	rr = env.do(t, "POST", "/api/v1/webhook/github/shop", payload, headers)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 on redelivery, got %d", rr.Code)
	}
}

func TestHandleGitHubWebhook_Rejects(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/main","after":"abc","repository":{"full_name":"acme/shop"}}`)

	tests := []struct {
		name       string
		path       string
		event      string
		signature  string
		wantStatus int
	}{
		{"non-push event", "/api/v1/webhook/github/shop", "pull_request", MakeTestSignature(payload, testSecret), http.StatusOK},
		{"invalid signature", "/api/v1/webhook/github/shop", "push", MakeTestSignature(payload, "wrong-secret-at-least-32-chars-long-x"), http.StatusForbidden},
		{"missing signature", "/api/v1/webhook/github/shop", "push", "", http.StatusForbidden},
		{"bad application id", "/api/v1/webhook/github/.shop", "push", MakeTestSignature(payload, testSecret), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t, Options{WebhookSecret: testSecret})
			headers := map[string]string{"X-GitHub-Event": tt.event}
			if tt.signature != "" {
				headers["X-Hub-Signature-256"] = tt.signature
			}

			rr := env.do(t, "POST", tt.path, payload, headers)
			if rr.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestHandleGitHubWebhook_PayloadTooLarge(t *testing.T) {
	env := setupTestServer(t, Options{WebhookSecret: testSecret})
	payload := bytes.Repeat([]byte(" "), ingest.MaxPayloadBytes+1)
	headers := map[string]string{
		"X-GitHub-Event":      "push",
		"X-Hub-Signature-256": MakeTestSignature(payload, testSecret),
	}

	// Declared length trips the early check
	rr := env.do(t, "POST", "/api/v1/webhook/github/shop", payload, headers)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413, got %d: %s", rr.Code, rr.Body.String())
	}

	// Chunked bodies carry no length and are caught while reading
	req := httptest.NewRequest("POST", "/api/v1/webhook/github/shop", io.NopCloser(bytes.NewReader(payload)))
	req.ContentLength = -1
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413 for chunked body, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRateLimiting(t *testing.T) {
	env := setupTestServer(t, Options{
		RateLimit:       0.001,
		RateBurst:       100,
		IngestRateLimit: 0.001,
		IngestRateBurst: 1,
	})
	body := deploymentJSON("d1", "payments", time.Date(2020, 3, 10, 12, 0, 0, 0, time.UTC))

	if rr := env.do(t, "POST", "/api/v1/deployment", body, nil); rr.Code != http.StatusCreated {
		t.Fatalf("Expected first ingest to succeed, got %d", rr.Code)
	}
	if rr := env.do(t, "POST", "/api/v1/deployment", body, nil); rr.Code != http.StatusTooManyRequests {
		t.Errorf("Expected second ingest to be rate limited, got %d", rr.Code)
	}

	// Reads only count against the global limiter
	if rr := env.do(t, "GET", "/api/v1/deployment", nil, nil); rr.Code != http.StatusOK {
		t.Errorf("Expected read to pass, got %d", rr.Code)
	}
}
