package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fraudsvc/fraudsvc/internal/assembler"
	"github.com/fraudsvc/fraudsvc/internal/decision"
	"github.com/fraudsvc/fraudsvc/internal/domain"
	"github.com/fraudsvc/fraudsvc/internal/hasher"
	"github.com/fraudsvc/fraudsvc/internal/learning"
	"github.com/fraudsvc/fraudsvc/internal/ml"
	"github.com/fraudsvc/fraudsvc/internal/policy"
	"github.com/fraudsvc/fraudsvc/internal/ratelimit"
	"github.com/fraudsvc/fraudsvc/internal/rules"
	"github.com/fraudsvc/fraudsvc/internal/webhook"
)

// Config holds the handler's request-scoped tunables.
type Config struct {
	RequestDeadline time.Duration
	MLTimeout       time.Duration
	ResultTTL       time.Duration
	TopKFlags       int
	MaxBatchSize    int
	RulesetVersion  string
}

// DefaultConfig returns the stock deadlines and limits.
func DefaultConfig() Config {
	return Config{
		RequestDeadline: 500 * time.Millisecond,
		MLTimeout:       50 * time.Millisecond,
		ResultTTL:       5 * time.Minute,
		TopKFlags:       0,
		MaxBatchSize:    1000,
		RulesetVersion:  "v1",
	}
}

// Handler wires every scoring-pipeline dependency together: rate limit,
// idempotency cache, context assembly, rule fan-out, ML, aggregation,
// async persistence.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	hasher     *hasher.Hasher
	assembler  *assembler.Assembler
	registry   *rules.Registry
	custom     *rules.CustomRuleEngine
	policy     *policy.Store
	mlAdapter  ml.Adapter
	learning   *learning.Processor
	limiter    *ratelimit.Limiter
	cfg        Config
}

func NewHandler(
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
	h *hasher.Hasher,
	asm *assembler.Assembler,
	registry *rules.Registry,
	custom *rules.CustomRuleEngine,
	policyStore *policy.Store,
	mlAdapter ml.Adapter,
	learningProcessor *learning.Processor,
	limiter *ratelimit.Limiter,
	cfg Config,
) *Handler {
	if mlAdapter == nil {
		mlAdapter = ml.NullAdapter{}
	}
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		hasher:    h,
		assembler: asm,
		registry:  registry,
		custom:    custom,
		policy:    policyStore,
		mlAdapter: mlAdapter,
		learning:  learningProcessor,
		limiter:   limiter,
		cfg:       cfg,
	}
}

// ResolveAPIKey implements authResolver: digest the caller's key and
// look up the owning tenant. Callers never assert their own tenant id.
func (h *Handler) ResolveAPIKey(ctx context.Context, apiKey string) (*domain.Client, error) {
	digest := h.hasher.Digest(hasher.KindAPIKey, apiKey)
	client, err := h.repo.GetClientByAPIKeyDigest(ctx, digest)
	if err != nil {
		return nil, domain.ErrUnauthorized
	}
	return client, nil
}

// Check handles POST /api/v1/fraud/check.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	client := GetClient(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestDeadline)
	defer cancel()

	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput, "malformed JSON body", GetRequestID(r.Context()))
		return
	}

	if verr := validateTransactionRequest(req); verr != "" {
		writeError(w, http.StatusUnprocessableEntity, domain.KindSchemaViolation, verr, GetRequestID(r.Context()))
		return
	}

	if res := h.limiter.Allow(ctx, client.ID, client.Tier); !res.Admitted {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(res.RetryAfter.Seconds())))
		writeError(w, http.StatusTooManyRequests, domain.KindRateLimited, "rate limit exceeded", GetRequestID(r.Context()))
		return
	}

	resp, err := h.score(ctx, client, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CheckBatch handles POST /api/v1/fraud/check/batch, bounded at
// cfg.MaxBatchSize elements with one rate-limit debit per element.
func (h *Handler) CheckBatch(w http.ResponseWriter, r *http.Request) {
	client := GetClient(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestDeadline)
	defer cancel()

	var batch batchCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput, "malformed JSON body", GetRequestID(r.Context()))
		return
	}
	if len(batch.Transactions) > h.cfg.MaxBatchSize {
		writeError(w, http.StatusUnprocessableEntity, domain.KindSchemaViolation,
			fmt.Sprintf("batch exceeds maximum of %d transactions", h.cfg.MaxBatchSize), GetRequestID(r.Context()))
		return
	}

	results := make([]batchCheckResult, len(batch.Transactions))
	for i, req := range batch.Transactions {
		if verr := validateTransactionRequest(req); verr != "" {
			results[i] = batchCheckResult{TransactionID: req.TransactionID, Error: &errorResponse{
				ErrorCode: string(domain.KindSchemaViolation), Message: verr, RequestID: GetRequestID(r.Context()),
			}}
			continue
		}

		if res := h.limiter.Allow(ctx, client.ID, client.Tier); !res.Admitted {
			results[i] = batchCheckResult{TransactionID: req.TransactionID, Error: &errorResponse{
				ErrorCode: string(domain.KindRateLimited), Message: "rate limit exceeded", RequestID: GetRequestID(r.Context()),
			}}
			continue
		}

		resp, err := h.score(ctx, client, req)
		if err != nil {
			results[i] = batchCheckResult{TransactionID: req.TransactionID, Error: &errorResponse{
				ErrorCode: string(domain.KindCoreFailure), Message: "scoring failed", RequestID: GetRequestID(r.Context()),
			}}
			continue
		}
		results[i] = batchCheckResult{TransactionID: req.TransactionID, Response: resp}
	}

	writeJSON(w, http.StatusOK, batchCheckResponse{Results: results})
}

// score is the shared scoring pipeline behind both Check and CheckBatch:
// idempotency lookup, context assembly, rule + custom + ML evaluation,
// aggregation, async persistence/webhook enqueue.
func (h *Handler) score(ctx context.Context, client *domain.Client, req domain.TransactionRequest) (*checkResponse, error) {
	start := time.Now()
	idempotencyKey := "result:" + req.TransactionID

	if cached, ok, err := h.cache.Get(ctx, client.ID, idempotencyKey); err == nil && ok {
		var resp checkResponse
		if json.Unmarshal(cached, &resp) == nil {
			return &resp, nil
		}
	}

	ec := h.assembler.Assemble(ctx, client.ID, req)

	flags := h.registry.Evaluate(ec, func(ruleName string) bool {
		cfg, ok := h.policy.Get(ec.Vertical)
		if !ok {
			return true
		}
		return cfg.Enabled(ruleName)
	})
	if h.custom != nil {
		flags = append(flags, h.custom.Evaluate(ec)...)
	}

	var pred *ml.Prediction
	mlCtx, mlCancel := context.WithTimeout(ctx, h.cfg.MLTimeout)
	p, err := h.mlAdapter.Predict(mlCtx, ec)
	mlCancel()
	if err == nil {
		pred = &p
	}

	vcfg, ok := h.policy.Get(ec.Vertical)
	if !ok {
		vcfg = domain.VerticalConfig{Vertical: ec.Vertical, Threshold: domain.DefaultVerticalThresholds[ec.Vertical]}
	}

	d := decision.Aggregate(flags, ec.Vertical, pred, vcfg, h.cfg.TopKFlags, ec.Degraded)

	resp := &checkResponse{
		TransactionID:    req.TransactionID,
		RiskScore:        d.Score,
		RiskLevel:        d.Level,
		Decision:         d.Outcome,
		Flags:            toFlagDTOs(d.Flags),
		Recommendation:   d.Recommendation,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		Degraded:         d.Degraded,
	}

	if payload, err := json.Marshal(resp); err == nil {
		_ = h.cache.Set(ctx, client.ID, idempotencyKey, payload, h.cfg.ResultTTL)
	}

	h.enqueuePersistence(ctx, client, req, ec, d, resp.ProcessingTimeMS)
	if webhook.ShouldNotify(d) && client.WebhookURL != "" {
		h.enqueueWebhook(ctx, client, req.TransactionID, d)
	}

	return resp, nil
}

func (h *Handler) enqueuePersistence(ctx context.Context, client *domain.Client, req domain.TransactionRequest, ec *domain.EvaluationContext, d domain.Decision, latencyMS int64) {
	record := domain.TransactionRecord{
		TenantID:        client.ID,
		TransactionID:   req.TransactionID,
		UserDigest:      ec.Digests["user"],
		Amount:          req.Amount,
		Currency:        req.Currency,
		TransactionType: req.TransactionType,
		Vertical:        req.Vertical,
		ContextDigests:  ec.Digests,
		Score:           d.Score,
		Level:           d.Level,
		Decision:        d.Outcome,
		Flags:           d.Flags,
		LatencyMS:       latencyMS,
		RulesetVersion:  h.cfg.RulesetVersion,
		Degraded:        d.Degraded,
		CreatedAt:       time.Now(),
	}

	payload, err := json.Marshal(struct {
		TenantID string                   `json:"tenant_id"`
		Record   domain.TransactionRecord `json:"record"`
	}{TenantID: client.ID, Record: record})
	if err != nil {
		return
	}
	_ = h.bus.Publish(ctx, "_global", domain.TopicPersistTransaction, payload)
}

func (h *Handler) enqueueWebhook(ctx context.Context, client *domain.Client, transactionID string, d domain.Decision) {
	evt := webhook.Event{
		Event:         "fraud.decision",
		TransactionID: transactionID,
		RiskScore:     d.Score,
		RiskLevel:     d.Level,
		Decision:      d.Outcome,
		Flags:         d.Flags,
		Timestamp:     time.Now().Unix(),
	}
	job := struct {
		TenantID string        `json:"tenant_id"`
		Endpoint string        `json:"endpoint"`
		Secret   string        `json:"secret"`
		Event    webhook.Event `json:"event"`
	}{TenantID: client.ID, Endpoint: client.WebhookURL, Secret: client.WebhookSigningSecret, Event: evt}

	payload, err := json.Marshal(job)
	if err != nil {
		return
	}
	_ = h.bus.Publish(ctx, "_global", domain.TopicWebhookDispatch, payload)
}

// Feedback handles POST /api/v1/feedback.
func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	client := GetClient(r.Context())

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput, "malformed JSON body", GetRequestID(r.Context()))
		return
	}
	if req.TransactionID == "" {
		writeError(w, http.StatusUnprocessableEntity, domain.KindSchemaViolation, "transaction_id is required", GetRequestID(r.Context()))
		return
	}
	if req.ActualOutcome != domain.OutcomeFraud && req.ActualOutcome != domain.OutcomeLegitimate {
		writeError(w, http.StatusUnprocessableEntity, domain.KindSchemaViolation, "actual_outcome must be fraud or legitimate", GetRequestID(r.Context()))
		return
	}

	if err := h.learning.Feedback(r.Context(), client.ID, req.TransactionID, req.ActualOutcome, req.FraudType); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// ListVerticals handles GET /api/v1/verticals.
func (h *Handler) ListVerticals(w http.ResponseWriter, r *http.Request) {
	snap := h.policy.All()
	out := make([]verticalConfigDTO, 0, len(domain.AllVerticals))
	for _, v := range domain.AllVerticals {
		out = append(out, verticalConfigDTO{Vertical: v, Threshold: snap[v].Threshold})
	}
	writeJSON(w, http.StatusOK, map[string]any{"verticals": out})
}

// GetVerticalConfig handles GET /api/v1/verticals/{v}/config.
func (h *Handler) GetVerticalConfig(w http.ResponseWriter, r *http.Request) {
	v := domain.Vertical(chi.URLParam(r, "vertical"))
	cfg, ok := h.policy.Get(v)
	if !ok {
		writeError(w, http.StatusNotFound, domain.KindNotFound, "unknown vertical", GetRequestID(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, verticalConfigDTO{
		Vertical:    cfg.Vertical,
		Threshold:   cfg.Threshold,
		RuleWeights: cfg.RuleWeights,
		RuleEnabled: cfg.RuleEnabled,
	})
}

// Health handles GET /health, no auth required.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if err := h.repo.Ping(r.Context()); err != nil {
		status = "degraded"
	}
	if err := h.cache.Ping(r.Context()); err != nil {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func validateTransactionRequest(req domain.TransactionRequest) string {
	if req.TransactionID == "" {
		return "transaction_id is required"
	}
	if req.UserID == "" {
		return "user_id is required"
	}
	if req.Amount <= 0 {
		return "amount must be positive"
	}
	if req.Vertical == "" {
		return "vertical is required"
	}
	valid := false
	for _, v := range domain.AllVerticals {
		if v == req.Vertical {
			valid = true
			break
		}
	}
	if !valid {
		return "vertical is not recognised"
	}
	return ""
}

// newRequestID generates the internal correlation id; transaction_id is
// caller-supplied, but error responses and traces still need their own.
func newRequestID() string { return uuid.New().String() }
