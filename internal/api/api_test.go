package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/fraudsvc/fraudsvc/internal/assembler"
	"github.com/fraudsvc/fraudsvc/internal/bus"
	"github.com/fraudsvc/fraudsvc/internal/cache"
	"github.com/fraudsvc/fraudsvc/internal/consortium"
	"github.com/fraudsvc/fraudsvc/internal/domain"
	"github.com/fraudsvc/fraudsvc/internal/hasher"
	"github.com/fraudsvc/fraudsvc/internal/learning"
	"github.com/fraudsvc/fraudsvc/internal/policy"
	"github.com/fraudsvc/fraudsvc/internal/ratelimit"
	"github.com/fraudsvc/fraudsvc/internal/repository"
	"github.com/fraudsvc/fraudsvc/internal/rules"
	"github.com/fraudsvc/fraudsvc/internal/velocity"
)

const testAPIKey = "sk-test-tenant-a"

type testEnv struct {
	server   *httptest.Server
	repo     *repository.SQLRepository
	cache    domain.Cache
	hasher   *hasher.Hasher
	policy   *policy.Store
	velocity *velocity.Service
	client   *domain.Client
}

func newTestEnv(t *testing.T, c domain.Cache, bronzeLimit int) *testEnv {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api-test.db"),
	})
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	h, err := hasher.New("test-secret")
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}

	if c == nil {
		c = cache.NewLRU(10000)
	}
	vel := velocity.New(c, func() float64 { return float64(time.Now().UnixNano()) / 1e9 })
	cons := consortium.New(repo, time.Now)
	asm := assembler.New(h, vel, cons, c, assembler.DefaultConfig())

	registry, err := rules.NewRegistry(4)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	policyStore := policy.NewStore(domain.DefaultVerticalThresholds)
	policyStore.SetRuleWeight(domain.VerticalLending, "loan_stacking", 1.5)

	limiter := ratelimit.New(c, map[domain.ClientTier]int{
		domain.ClientTierBronze: bronzeLimit,
		domain.ClientTierSilver: 1000,
		domain.ClientTierGold:   10000,
	})

	learner := learning.New(repo, registry, policyStore)

	cfg := DefaultConfig()
	cfg.RequestDeadline = 5 * time.Second

	b := bus.NewChannelBus(64)
	t.Cleanup(func() { b.Close() })

	handler := NewHandler(repo, c, b, h, asm, registry, nil, policyStore, nil, learner, limiter, cfg)
	srv := NewServer(domain.ServerConfig{}, handler)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	client := &domain.Client{
		ID:           "tenant-a",
		Name:         "Tenant A",
		APIKeyDigest: h.Digest(hasher.KindAPIKey, testAPIKey),
		Tier:         domain.ClientTierBronze,
		Vertical:     domain.VerticalLending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := repo.CreateClient(context.Background(), client); err != nil {
		t.Fatalf("create client: %v", err)
	}

	return &testEnv{server: ts, repo: repo, cache: c, hasher: h, policy: policyStore, velocity: vel, client: client}
}

func (e *testEnv) post(t *testing.T, path string, body any, apiKey string) (*http.Response, []byte) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, _ := http.NewRequest(http.MethodPost, e.server.URL+path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, raw
}

func loanStackingRequest(txID string) domain.TransactionRequest {
	return domain.TransactionRequest{
		TransactionID:     txID,
		UserID:            "applicant-1",
		Amount:            500000,
		Currency:          "NGN",
		TransactionType:   "loan_disbursement",
		Vertical:          domain.VerticalLending,
		DeviceFingerprint: "fp-A",
		IP:                "102.89.0.1",
		Timestamp:         time.Now().UTC(),
		Features: domain.FeatureBag{
			Identity:   &domain.IdentityFeatures{Phone: domain.Str("+2348012345678")},
			Behavioral: &domain.BehavioralFeatures{AccountAgeDays: domain.Int(2)},
		},
	}
}

func TestCheckRequiresAuth(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	resp, _ := env.post(t, "/api/v1/fraud/check", loanStackingRequest("tx-1"), "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no key: got %d, want 401", resp.StatusCode)
	}

	resp, _ = env.post(t, "/api/v1/fraud/check", loanStackingRequest("tx-1"), "wrong-key")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad key: got %d, want 401", resp.StatusCode)
	}
}

func TestCheckSchemaViolation(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	req := loanStackingRequest("tx-1")
	req.UserID = ""
	resp, raw := env.post(t, "/api/v1/fraud/check", req, testAPIKey)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("got %d, want 422: %s", resp.StatusCode, raw)
	}

	var e errorResponse
	if err := json.Unmarshal(raw, &e); err != nil || e.ErrorCode == "" {
		t.Errorf("error body: %s", raw)
	}
}

func TestCheckLoanStackingDecline(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	// The applicant's phone digest has been seen at four other lenders.
	phoneDigest := env.hasher.Digest(hasher.KindPhone, "+2348012345678")
	for _, tenant := range []string{"t1", "t2", "t3", "t4"} {
		if err := env.repo.UpsertConsortiumObservation(context.Background(), phoneDigest, tenant, time.Now().Unix()); err != nil {
			t.Fatalf("seed consortium: %v", err)
		}
	}

	resp, raw := env.post(t, "/api/v1/fraud/check", loanStackingRequest("tx-s1"), testAPIKey)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d: %s", resp.StatusCode, raw)
	}

	var out checkResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if out.RiskScore < 80 {
		t.Errorf("score: got %d, want >= 80", out.RiskScore)
	}
	if out.RiskLevel != domain.LevelCritical {
		t.Errorf("level: got %s, want critical", out.RiskLevel)
	}
	if out.Decision != domain.OutcomeDecline {
		t.Errorf("decision: got %s, want decline", out.Decision)
	}

	var sawStacking, sawNewAccount bool
	for _, f := range out.Flags {
		if f.Type == "loan_stacking" {
			sawStacking = true
			// Base 35 at lending weight 1.5.
			if f.Score != 52.5 {
				t.Errorf("loan_stacking weighted score: got %f, want 52.5", f.Score)
			}
		}
		if f.Type == "new_account_large_amount" {
			sawNewAccount = true
		}
	}
	if !sawStacking || !sawNewAccount {
		t.Errorf("expected loan_stacking and new_account_large_amount, got %v", out.Flags)
	}

	// Flags come back sorted by weighted score descending.
	for i := 1; i < len(out.Flags); i++ {
		if out.Flags[i].Score > out.Flags[i-1].Score {
			t.Errorf("flags out of order at %d: %v", i, out.Flags)
		}
	}
}

func TestCheckIdempotentReplay(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	first, raw1 := env.post(t, "/api/v1/fraud/check", loanStackingRequest("tx-replay"), testAPIKey)
	second, raw2 := env.post(t, "/api/v1/fraud/check", loanStackingRequest("tx-replay"), testAPIKey)

	if first.StatusCode != http.StatusOK || second.StatusCode != http.StatusOK {
		t.Fatalf("status: %d then %d", first.StatusCode, second.StatusCode)
	}
	if !bytes.Equal(raw1, raw2) {
		t.Errorf("replay within TTL must be byte-identical:\n%s\n%s", raw1, raw2)
	}

	// The user's velocity counter moved exactly once.
	userDigest := env.hasher.Digest(hasher.KindUserID, "applicant-1")
	counts, err := env.velocity.Counts(context.Background(), env.client.ID, domain.ScopeUser, userDigest)
	if err != nil {
		t.Fatalf("velocity: %v", err)
	}
	if counts[domain.Window1h] != 1 {
		t.Errorf("velocity after replay: got %d, want 1", counts[domain.Window1h])
	}
}

func TestCheckRateLimited(t *testing.T) {
	env := newTestEnv(t, nil, 2)

	env.post(t, "/api/v1/fraud/check", loanStackingRequest("tx-a"), testAPIKey)
	env.post(t, "/api/v1/fraud/check", loanStackingRequest("tx-b"), testAPIKey)
	resp, raw := env.post(t, "/api/v1/fraud/check", loanStackingRequest("tx-c"), testAPIKey)

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("got %d, want 429: %s", resp.StatusCode, raw)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("429 must carry Retry-After")
	}
}

// downCache fails every operation, simulating a cache outage.
type downCache struct{}

var errCacheDown = errors.New("cache down")

func (downCache) Get(context.Context, string, string) ([]byte, bool, error) {
	return nil, false, errCacheDown
}
func (downCache) Set(context.Context, string, string, []byte, time.Duration) error {
	return errCacheDown
}
func (downCache) Delete(context.Context, string, string) error { return errCacheDown }
func (downCache) IncrementCounter(context.Context, string, string, time.Duration) (int64, error) {
	return 0, errCacheDown
}
func (downCache) VelocityAdd(context.Context, string, string, string, float64, time.Duration) error {
	return errCacheDown
}
func (downCache) VelocityCount(context.Context, string, string, float64) (int64, error) {
	return 0, errCacheDown
}
func (downCache) Ping(context.Context) error { return errCacheDown }
func (downCache) Close() error               { return nil }

func TestCheckCacheOutageDegraded(t *testing.T) {
	env := newTestEnv(t, downCache{}, 100)

	resp, raw := env.post(t, "/api/v1/fraud/check", loanStackingRequest("tx-s4"), testAPIKey)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cache outage must still score: got %d: %s", resp.StatusCode, raw)
	}

	var out checkResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.Degraded {
		t.Error("response must be marked degraded")
	}

	// Velocity-dependent flags may be gone, but context-only flags hold.
	var sawNewAccount bool
	for _, f := range out.Flags {
		if f.Type == "new_account_large_amount" {
			sawNewAccount = true
		}
	}
	if !sawNewAccount {
		t.Errorf("new_account_large_amount must survive a cache outage, got %v", out.Flags)
	}
	if out.Decision == "" {
		t.Error("decision must still be computed")
	}
}

func TestFeedbackFlow(t *testing.T) {
	env := newTestEnv(t, nil, 100)
	ctx := context.Background()

	// Feedback for an unknown transaction is a 404.
	resp, _ := env.post(t, "/api/v1/feedback", map[string]any{
		"transaction_id": "missing", "actual_outcome": "fraud",
	}, testAPIKey)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("got %d, want 404", resp.StatusCode)
	}

	record := &domain.TransactionRecord{
		TenantID:      "tenant-a",
		TransactionID: "tx-fb",
		UserDigest:    "digest-user",
		Amount:        250000,
		Currency:      "NGN",
		Vertical:      domain.VerticalLending,
		Flags: []domain.Flag{
			{RuleName: "sim_swap_pattern", Severity: domain.SeverityCritical, BaseScore: 45},
		},
		ContextDigests: map[string]string{"device": "digest-device"},
		Score:          70,
		Level:          domain.LevelHigh,
		Decision:       domain.OutcomeDecline,
		CreatedAt:      time.Now().UTC(),
	}
	if err := env.repo.SaveTransaction(ctx, record); err != nil {
		t.Fatalf("save: %v", err)
	}

	resp, raw := env.post(t, "/api/v1/feedback", map[string]any{
		"transaction_id": "tx-fb", "actual_outcome": "fraud", "fraud_type": "sim_swap",
	}, testAPIKey)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d: %s", resp.StatusCode, raw)
	}

	acc, err := env.repo.GetRuleAccuracy(ctx, "sim_swap_pattern", domain.VerticalLending)
	if err != nil {
		t.Fatalf("rule accuracy: %v", err)
	}
	if acc.TruePositives != 1 {
		t.Errorf("TP: got %d, want 1", acc.TruePositives)
	}
	if acc.WeightMultiplier < domain.MinWeight || acc.WeightMultiplier > domain.MaxWeight {
		t.Errorf("weight out of bounds: %f", acc.WeightMultiplier)
	}

	entry, err := env.repo.GetConsortiumEntry(ctx, "digest-device")
	if err != nil {
		t.Fatalf("consortium: %v", err)
	}
	if entry.FraudConfirmations != 1 {
		t.Errorf("fraud confirmations: got %d, want 1", entry.FraudConfirmations)
	}

	// Repeating the same outcome is an idempotent success.
	resp, _ = env.post(t, "/api/v1/feedback", map[string]any{
		"transaction_id": "tx-fb", "actual_outcome": "fraud",
	}, testAPIKey)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("repeat feedback: got %d, want 200", resp.StatusCode)
	}

	// A contradicting outcome conflicts; the first feedback wins.
	resp, _ = env.post(t, "/api/v1/feedback", map[string]any{
		"transaction_id": "tx-fb", "actual_outcome": "legitimate",
	}, testAPIKey)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("conflicting feedback: got %d, want 409", resp.StatusCode)
	}
}

func TestBatchCheck(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	bad := loanStackingRequest("tx-bad")
	bad.Amount = -5

	body := map[string]any{
		"transactions": []domain.TransactionRequest{
			loanStackingRequest("tx-batch-1"),
			bad,
			loanStackingRequest("tx-batch-2"),
		},
	}
	resp, raw := env.post(t, "/api/v1/fraud/check/batch", body, testAPIKey)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d: %s", resp.StatusCode, raw)
	}

	var out batchCheckResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Results) != 3 {
		t.Fatalf("results: got %d, want 3", len(out.Results))
	}
	if out.Results[0].Response == nil || out.Results[2].Response == nil {
		t.Error("valid elements must carry responses")
	}
	if out.Results[1].Error == nil {
		t.Error("invalid element must carry an error")
	}
}

func TestVerticalsEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/api/v1/verticals", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("verticals: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("verticals: got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, env.server.URL+"/api/v1/verticals/lending/config", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("vertical config: %v", err)
	}
	defer resp2.Body.Close()

	var cfg verticalConfigDTO
	if err := json.NewDecoder(resp2.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Threshold != 65 {
		t.Errorf("lending threshold: got %d, want 65", cfg.Threshold)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil, 100)

	resp, err := http.Get(env.server.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health: got %d", resp.StatusCode)
	}
}
