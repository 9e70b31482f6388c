// Package assembler builds the typed EvaluationContext every rule reads:
// it digests identifiers, pulls velocity/consortium/device numbers from
// the cache and durable store, and computes the derived booleans rules
// depend on. Any missing input becomes "unknown," never a default value.
package assembler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fraudsvc/fraudsvc/internal/consortium"
	"github.com/fraudsvc/fraudsvc/internal/domain"
	"github.com/fraudsvc/fraudsvc/internal/hasher"
	"github.com/fraudsvc/fraudsvc/internal/velocity"
)

// Config holds the operator-tunable thresholds for derived booleans.
type Config struct {
	NewAccountDays           int
	VeryNewAccountDays       int
	DormantDays              int
	RoundAmountDivisors      []float64
	ImpossibleTravelSpeedKMH float64
	DeviceSharedThreshold    int
	DeviceSharedWindow       time.Duration
	LastLocationTTL          time.Duration
	NightStartHour           int
	NightEndHour             int
	BusinessHoursStartHour   int
	BusinessHoursEndHour     int
}

// DefaultConfig returns the stock thresholds plus the round-amount set
// and business-hours convention used across the rule catalogue.
func DefaultConfig() Config {
	return Config{
		NewAccountDays:           7,
		VeryNewAccountDays:       3,
		DormantDays:              90,
		RoundAmountDivisors:      []float64{100, 500, 1000, 5000, 10000, 50000, 100000},
		ImpossibleTravelSpeedKMH: 900,
		DeviceSharedThreshold:    3,
		DeviceSharedWindow:       24 * time.Hour,
		LastLocationTTL:          30 * 24 * time.Hour,
		NightStartHour:           2,
		NightEndHour:             5,
		BusinessHoursStartHour:   9,
		BusinessHoursEndHour:     17,
	}
}

// Assembler builds an EvaluationContext for one request.
type Assembler struct {
	hasher     *hasher.Hasher
	velocity   *velocity.Service
	consortium *consortium.Service
	cache      domain.Cache
	cfg        Config
	now        func() time.Time
}

func New(h *hasher.Hasher, v *velocity.Service, c *consortium.Service, cache domain.Cache, cfg Config) *Assembler {
	return &Assembler{hasher: h, velocity: v, consortium: c, cache: cache, cfg: cfg, now: time.Now}
}

// consortiumDigestKinds are the identifier kinds the consortium index
// tracks; order here is the order ConsortiumTenantsTouched/FraudConfirmations
// keys use.
var consortiumDigestKinds = []string{
	hasher.KindPhone, hasher.KindEmail, hasher.KindDeviceID, hasher.KindNationalID, hasher.KindWallet,
}

// Assemble builds the EvaluationContext for req. It has no error return:
// a missing feature or an unreachable dependency (cache or store) leaves
// the affected fields "unknown", and a dependency failure also marks the
// context Degraded.
func (a *Assembler) Assemble(ctx context.Context, tenantID string, req domain.TransactionRequest) *domain.EvaluationContext {
	ec := &domain.EvaluationContext{
		TenantID: tenantID,
		Vertical: req.Vertical,
		Request:  req,
		Digests:  make(map[string]string, 8),
		Velocity: make(map[domain.Scope]domain.VelocityCounts, 4),

		ConsortiumTenantsTouched:     make(map[string]int, len(consortiumDigestKinds)),
		ConsortiumFraudConfirmations: make(map[string]int64, len(consortiumDigestKinds)),
	}

	a.digestIdentifiers(ec, req)
	a.populateLocalTime(ec, req)
	a.populateDerivedBasics(ec, req)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); a.populateVelocity(ctx, ec, tenantID, req) }()
	go func() { defer wg.Done(); a.populateConsortium(ctx, ec) }()
	go func() { defer wg.Done(); a.populateDeviceAndTravel(ctx, ec, tenantID, req) }()
	wg.Wait()

	return ec
}

func (a *Assembler) digestIdentifiers(ec *domain.EvaluationContext, req domain.TransactionRequest) {
	if req.DeviceFingerprint != "" {
		ec.Digests["device"] = a.hasher.Digest(hasher.KindDeviceID, req.DeviceFingerprint)
	} else if req.DeviceID != "" {
		ec.Digests["device"] = a.hasher.Digest(hasher.KindDeviceID, req.DeviceID)
	}
	if req.IP != "" {
		ec.Digests["ip"] = a.hasher.Digest(hasher.KindIP, req.IP)
	}
	if req.UserID != "" {
		ec.Digests["user"] = a.hasher.Digest(hasher.KindUserID, req.UserID)
	}

	id := req.Features.Identity
	if id != nil {
		if id.Email.Present {
			ec.Digests["email"] = a.hasher.Digest(hasher.KindEmail, id.Email.Value)
		}
		if id.Phone.Present {
			ec.Digests["phone"] = a.hasher.Digest(hasher.KindPhone, id.Phone.Value)
		}
		if id.NationalID.Present {
			ec.Digests["national_id"] = a.hasher.Digest(hasher.KindNationalID, id.NationalID.Value)
		}
	}
	if fn := req.Features.Funding; fn != nil {
		if fn.WalletAddress.Present {
			ec.Digests["wallet"] = a.hasher.Digest(hasher.KindWallet, fn.WalletAddress.Value)
		}
		if fn.CardBIN.Present {
			ec.Digests["card_bin_last4"] = a.hasher.Digest(hasher.KindCardBIN, fn.CardBIN.Value)
		}
	}
}

// populateLocalTime uses the transaction's recorded local time verbatim
// when the caller marks it local, else UTC. Never the server's zone.
func (a *Assembler) populateLocalTime(ec *domain.EvaluationContext, req domain.TransactionRequest) {
	if req.TimestampIsLocal {
		ec.LocalTime = req.Timestamp
		return
	}
	ec.LocalTime = req.Timestamp.UTC()
}

func (a *Assembler) populateDerivedBasics(ec *domain.EvaluationContext, req domain.TransactionRequest) {
	t := ec.LocalTime
	hour := t.Hour()
	ec.IsNight = domain.KnownTrue()
	if hour < a.cfg.NightStartHour || hour >= a.cfg.NightEndHour {
		ec.IsNight = domain.KnownFalse()
	}

	wd := t.Weekday()
	ec.IsWeekend = boolKnown(wd == time.Saturday || wd == time.Sunday)

	businessHour := hour >= a.cfg.BusinessHoursStartHour && hour < a.cfg.BusinessHoursEndHour
	ec.IsBusinessHours = boolKnown(businessHour && wd != time.Saturday && wd != time.Sunday)

	ec.IsRoundAmount = boolKnown(isRoundAmount(req.Amount, a.cfg.RoundAmountDivisors))

	if beh := req.Features.Behavioral; beh != nil && beh.AccountAgeDays.Present {
		age := beh.AccountAgeDays.Value
		ec.IsNewAccount = boolKnown(age < a.cfg.NewAccountDays)
		ec.IsVeryNewAccount = boolKnown(age < a.cfg.VeryNewAccountDays)
	} else {
		ec.IsNewAccount = domain.Unknown()
		ec.IsVeryNewAccount = domain.Unknown()
	}

	if beh := req.Features.Behavioral; beh != nil && beh.LastActivity.Present {
		dormantDays := t.Sub(beh.LastActivity.Value).Hours() / 24
		ec.IsDormantReactivation = boolKnown(dormantDays >= float64(a.cfg.DormantDays))
	} else {
		ec.IsDormantReactivation = domain.Unknown()
	}
}

func isRoundAmount(amount float64, divisors []float64) bool {
	if amount <= 0 {
		return false
	}
	for _, d := range divisors {
		if d <= 0 {
			continue
		}
		if amount >= d {
			ratio := amount / d
			if ratio == float64(int64(ratio)) {
				return true
			}
		}
	}
	return false
}

func boolKnown(v bool) domain.Known {
	if v {
		return domain.KnownTrue()
	}
	return domain.KnownFalse()
}

func (a *Assembler) populateVelocity(ctx context.Context, ec *domain.EvaluationContext, tenantID string, req domain.TransactionRequest) {
	eventID := fmt.Sprintf("%s:%d", req.TransactionID, a.now().UnixNano())

	type job struct {
		scope   domain.Scope
		subject string
	}
	jobs := []job{{domain.ScopeTenant, tenantID}}
	if req.UserID != "" {
		jobs = append(jobs, job{domain.ScopeUser, ec.Digests["user"]})
	}
	if d, ok := ec.Digests["device"]; ok {
		jobs = append(jobs, job{domain.ScopeDevice, d})
	}
	if d, ok := ec.Digests["ip"]; ok {
		jobs = append(jobs, job{domain.ScopeIP, d})
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			counts, err := a.velocity.Counts(ctx, tenantID, j.scope, j.subject)
			if err != nil {
				slog.Warn("assembler: velocity read degraded", "scope", j.scope, "error", err)
				mu.Lock()
				ec.Degraded = true
				ec.DegradedReasons = append(ec.DegradedReasons, "velocity:"+string(j.scope))
				mu.Unlock()
			}
			a.velocity.Record(ctx, tenantID, j.scope, j.subject, eventID)
			mu.Lock()
			ec.Velocity[j.scope] = counts
			mu.Unlock()
		}(j)
	}
	wg.Wait()
}

func (a *Assembler) populateConsortium(ctx context.Context, ec *domain.EvaluationContext) {
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, kind := range consortiumDigestKinds {
		digest, ok := ec.Digests[digestMapKey(kind)]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(kind, digest string) {
			defer wg.Done()
			// Read-only on the hot path; the observation write happens
			// async in the worker after the response is sent.
			tenants, fraud, err := a.consortium.Lookup(ctx, digest)
			if err != nil {
				slog.Warn("assembler: consortium lookup degraded", "kind", kind, "error", err)
				mu.Lock()
				ec.Degraded = true
				ec.DegradedReasons = append(ec.DegradedReasons, "consortium:"+kind)
				mu.Unlock()
				return
			}
			mu.Lock()
			ec.ConsortiumTenantsTouched[kind] = tenants
			ec.ConsortiumFraudConfirmations[kind] = fraud
			mu.Unlock()
		}(kind, digest)
	}
	wg.Wait()
}

func digestMapKey(hasherKind string) string {
	switch hasherKind {
	case hasher.KindPhone:
		return "phone"
	case hasher.KindEmail:
		return "email"
	case hasher.KindDeviceID:
		return "device"
	case hasher.KindNationalID:
		return "national_id"
	case hasher.KindWallet:
		return "wallet"
	default:
		return hasherKind
	}
}

type lastLocation struct {
	Lat float64   `json:"lat"`
	Lon float64   `json:"lon"`
	At  time.Time `json:"at"`
}

func (a *Assembler) populateDeviceAndTravel(ctx context.Context, ec *domain.EvaluationContext, tenantID string, req domain.TransactionRequest) {
	a.populateDevice(ctx, ec, tenantID)
	a.populateImpossibleTravel(ctx, ec, tenantID, req)
}

func (a *Assembler) populateDevice(ctx context.Context, ec *domain.EvaluationContext, tenantID string) {
	deviceDigest, ok := ec.Digests["device"]
	if !ok {
		ec.IsNewDevice = domain.Unknown()
		ec.IsDeviceShared = domain.Unknown()
		return
	}
	userDigest := ec.Digests["user"]

	key := "device_seen:" + deviceDigest
	_, seenBefore, err := a.cache.Get(ctx, tenantID, key)
	if err != nil {
		slog.Warn("assembler: device-seen lookup degraded", "error", err)
		ec.Degraded = true
		ec.DegradedReasons = append(ec.DegradedReasons, "device_seen")
		ec.IsNewDevice = domain.Unknown()
	} else {
		ec.IsNewDevice = boolKnown(!seenBefore)
	}
	_ = a.cache.Set(ctx, tenantID, key, []byte("1"), a.cfg.LastLocationTTL)

	usersKey := "device_users:" + deviceDigest
	if userDigest != "" {
		if err := a.cache.VelocityAdd(ctx, tenantID, usersKey, userDigest, float64(a.now().Unix()), a.cfg.DeviceSharedWindow); err != nil {
			slog.Warn("assembler: device-shared record degraded", "error", err)
		}
	}
	since := float64(a.now().Add(-a.cfg.DeviceSharedWindow).Unix())
	count, err := a.cache.VelocityCount(ctx, tenantID, usersKey, since)
	if err != nil {
		slog.Warn("assembler: device-shared count degraded", "error", err)
		ec.Degraded = true
		ec.DegradedReasons = append(ec.DegradedReasons, "device_shared")
		ec.IsDeviceShared = domain.Unknown()
		return
	}
	ec.DeviceSharedCount = int(count)
	ec.IsDeviceShared = boolKnown(int(count) >= a.cfg.DeviceSharedThreshold)
}

// populateImpossibleTravel compares the current transaction's IP-derived
// coordinates against the last known location for this user. Distance is
// Haversine, never a planar approximation. If either endpoint's
// coordinates are unknown, the result is false-and-unknown, not true.
func (a *Assembler) populateImpossibleTravel(ctx context.Context, ec *domain.EvaluationContext, tenantID string, req domain.TransactionRequest) {
	net := req.Features.Network
	if net == nil || !net.CoordinatesKnown || req.UserID == "" {
		ec.IsImpossibleTravel = domain.Unknown()
		return
	}

	userDigest := ec.Digests["user"]
	key := "last_location:" + userDigest

	raw, ok, err := a.cache.Get(ctx, tenantID, key)
	defer func() {
		// Speed is implied between transaction timestamps, so the stored
		// sighting carries the transaction's time, not the wall clock.
		payload, _ := json.Marshal(lastLocation{Lat: net.Coordinates.Latitude, Lon: net.Coordinates.Longitude, At: req.Timestamp})
		_ = a.cache.Set(ctx, tenantID, key, payload, a.cfg.LastLocationTTL)
	}()
	if err != nil {
		slog.Warn("assembler: last-location lookup degraded", "error", err)
		ec.Degraded = true
		ec.DegradedReasons = append(ec.DegradedReasons, "impossible_travel")
		ec.IsImpossibleTravel = domain.Unknown()
		return
	}
	if !ok {
		ec.IsImpossibleTravel = domain.Unknown()
		return
	}

	var prev lastLocation
	if err := json.Unmarshal(raw, &prev); err != nil {
		ec.IsImpossibleTravel = domain.Unknown()
		return
	}

	elapsed := req.Timestamp.Sub(prev.At)
	if elapsed <= 0 {
		ec.IsImpossibleTravel = domain.Unknown()
		return
	}

	distance := haversineKM(prev.Lat, prev.Lon, net.Coordinates.Latitude, net.Coordinates.Longitude)
	impliedSpeed := distance / elapsed.Hours()
	ec.IsImpossibleTravel = boolKnown(impliedSpeed > a.cfg.ImpossibleTravelSpeedKMH)
}
