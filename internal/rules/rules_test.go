package rules

import (
	"testing"

	"github.com/fraudsvc/fraudsvc/internal/domain"
)

// Per-rule checks are exercised directly so each trigger condition is
// pinned down without the fan-out machinery in the way.

func TestNewAccountLargeAmount(t *testing.T) {
	ec := &domain.EvaluationContext{
		Request:      domain.TransactionRequest{Amount: 500000},
		IsNewAccount: domain.KnownTrue(),
	}
	f, fired := checkNewAccountLargeAmount(ec)
	if !fired {
		t.Fatal("expected flag")
	}
	if f.Severity != domain.SeverityHigh || f.BaseScore != 25 {
		t.Errorf("got severity=%s base=%f", f.Severity, f.BaseScore)
	}

	// Unknown account age must not fire, even on a huge amount.
	ec.IsNewAccount = domain.Unknown()
	if _, fired := checkNewAccountLargeAmount(ec); fired {
		t.Error("unknown account age must not fire")
	}

	ec.IsNewAccount = domain.KnownTrue()
	ec.Request.Amount = 50
	if _, fired := checkNewAccountLargeAmount(ec); fired {
		t.Error("small amount must not fire")
	}
}

func TestLoanStacking(t *testing.T) {
	ec := &domain.EvaluationContext{
		ConsortiumTenantsTouched: map[string]int{"phone": 4},
	}
	f, fired := checkLoanStacking(ec)
	if !fired {
		t.Fatal("expected loan_stacking for phone digest at 4 tenants")
	}
	if f.Severity != domain.SeverityCritical {
		t.Errorf("severity: got %s, want critical", f.Severity)
	}
	if f.Metadata["identifier_kind"] != "phone" || f.Metadata["tenants_touched"] != 4 {
		t.Errorf("metadata: %v", f.Metadata)
	}

	ec.ConsortiumTenantsTouched = map[string]int{"phone": 2}
	if _, fired := checkLoanStacking(ec); fired {
		t.Error("2 tenants is below the stacking threshold")
	}

	ec.ConsortiumTenantsTouched = nil
	if _, fired := checkLoanStacking(ec); fired {
		t.Error("no consortium data must not fire")
	}
}

func TestSimSwapPattern(t *testing.T) {
	ec := &domain.EvaluationContext{
		Request: domain.TransactionRequest{
			TransactionType: "loan_disbursement",
			Amount:          250000,
			Features: domain.FeatureBag{
				Identity: &domain.IdentityFeatures{PhoneChangedRecently: domain.Bool(true)},
			},
		},
		IsNewDevice: domain.KnownTrue(),
	}

	f, fired := checkSimSwapPattern(ec)
	if !fired {
		t.Fatal("expected sim_swap_pattern")
	}
	if f.Severity != domain.SeverityCritical || f.BaseScore != 45 || f.Confidence != 0.88 {
		t.Errorf("got severity=%s base=%f confidence=%f", f.Severity, f.BaseScore, f.Confidence)
	}

	// Any missing leg of the pattern suppresses the flag.
	ec.Request.TransactionType = "purchase"
	if _, fired := checkSimSwapPattern(ec); fired {
		t.Error("non-cash-out type must not fire")
	}
	ec.Request.TransactionType = "withdrawal"
	ec.IsNewDevice = domain.Unknown()
	if _, fired := checkSimSwapPattern(ec); fired {
		t.Error("unknown device novelty must not fire")
	}
	ec.IsNewDevice = domain.KnownTrue()
	ec.Request.Features.Identity = nil
	if _, fired := checkSimSwapPattern(ec); fired {
		t.Error("absent identity features must not fire")
	}
}

func TestImpossibleTravelTrustsAssembler(t *testing.T) {
	ec := &domain.EvaluationContext{IsImpossibleTravel: domain.KnownTrue()}
	f, fired := checkImpossibleTravel(ec)
	if !fired {
		t.Fatal("expected impossible_travel")
	}
	if f.Severity != domain.SeverityCritical {
		t.Errorf("severity: got %s, want critical", f.Severity)
	}

	// Unknown is not true: missing coordinates must never imply travel.
	ec.IsImpossibleTravel = domain.Unknown()
	if _, fired := checkImpossibleTravel(ec); fired {
		t.Error("unknown travel verdict must not fire")
	}
}

func TestUserVelocityWindows(t *testing.T) {
	ec := &domain.EvaluationContext{
		Velocity: map[domain.Scope]domain.VelocityCounts{
			domain.ScopeUser: {domain.Window1m: 6},
		},
	}

	check := makeUserVelocityCheck(userVelocityPairs[0])
	f, fired := check(ec)
	if !fired {
		t.Fatal("expected user_velocity_1m at 6 events")
	}
	if f.Metadata["count"] != int64(6) {
		t.Errorf("metadata count: %v", f.Metadata["count"])
	}

	ec.Velocity[domain.ScopeUser][domain.Window1m] = 5
	if _, fired := check(ec); fired {
		t.Error("exactly the threshold must not fire")
	}

	// Absent velocity map (cache down) means unknown, not zero-and-fire.
	ec.Velocity = nil
	if _, fired := check(ec); fired {
		t.Error("missing velocity data must not fire")
	}
}

func TestFirstTransactionLargeAmount(t *testing.T) {
	ec := &domain.EvaluationContext{
		Request: domain.TransactionRequest{Amount: 75000},
		Velocity: map[domain.Scope]domain.VelocityCounts{
			domain.ScopeUser: {domain.Window7d: 0},
		},
	}
	if _, fired := checkFirstTransactionLargeAmount(ec); !fired {
		t.Error("expected first_transaction_large_amount")
	}

	ec.Velocity[domain.ScopeUser][domain.Window7d] = 2
	if _, fired := checkFirstTransactionLargeAmount(ec); fired {
		t.Error("user with history must not fire")
	}
}

func TestDeviceRules(t *testing.T) {
	t.Run("SharedDevice", func(t *testing.T) {
		ec := &domain.EvaluationContext{IsDeviceShared: domain.KnownTrue(), DeviceSharedCount: 5}
		f, fired := checkDeviceSharedMultiUser(ec)
		if !fired {
			t.Fatal("expected device_shared_multi_user")
		}
		if f.Metadata["distinct_users"] != 5 {
			t.Errorf("metadata: %v", f.Metadata)
		}
	})

	t.Run("FingerprintHistoryFraud", func(t *testing.T) {
		ec := &domain.EvaluationContext{ConsortiumFraudConfirmations: map[string]int64{"device": 2}}
		if _, fired := checkDeviceFingerprintHistoryFraud(ec); !fired {
			t.Error("expected device_fingerprint_history_fraud")
		}
		ec.ConsortiumFraudConfirmations["device"] = 0
		if _, fired := checkDeviceFingerprintHistoryFraud(ec); fired {
			t.Error("zero confirmations must not fire")
		}
	})

	t.Run("DeviceVelocity", func(t *testing.T) {
		ec := &domain.EvaluationContext{
			Velocity: map[domain.Scope]domain.VelocityCounts{
				domain.ScopeDevice: {domain.Window1h: 6},
			},
		}
		if _, fired := checkDeviceVelocity(ec); !fired {
			t.Error("expected device_velocity at 6/h")
		}
	})
}

func TestGeoNetworkRules(t *testing.T) {
	t.Run("CountryMismatch", func(t *testing.T) {
		ec := &domain.EvaluationContext{
			Request: domain.TransactionRequest{Features: domain.FeatureBag{
				Network: &domain.NetworkFeatures{
					Country:         domain.Str("NG"),
					DeclaredCountry: domain.Str("GB"),
				},
			}},
		}
		if _, fired := checkCountryMismatch(ec); !fired {
			t.Error("expected country_mismatch")
		}

		// One side absent: unknown, no flag.
		ec.Request.Features.Network.DeclaredCountry = domain.OptionalString{}
		if _, fired := checkCountryMismatch(ec); fired {
			t.Error("absent declared country must not fire")
		}
	})

	t.Run("VPNProxy", func(t *testing.T) {
		ec := &domain.EvaluationContext{
			Request: domain.TransactionRequest{Features: domain.FeatureBag{
				Network: &domain.NetworkFeatures{IsVPNOrProxy: domain.Bool(false)},
			}},
		}
		if _, fired := checkVPNProxyIP(ec); fired {
			t.Error("known-false must not fire")
		}
		ec.Request.Features.Network.IsVPNOrProxy = domain.Bool(true)
		if _, fired := checkVPNProxyIP(ec); !fired {
			t.Error("expected vpn_proxy_ip")
		}
	})
}

func TestBettingGamingRules(t *testing.T) {
	t.Run("BonusAbuse", func(t *testing.T) {
		ec := &domain.EvaluationContext{
			IsDeviceShared: domain.KnownTrue(),
			IsNewAccount:   domain.KnownTrue(),
			DeviceSharedCount: 4,
		}
		if _, fired := checkBonusAbuseDeviceShared(ec); !fired {
			t.Error("expected bonus_abuse_device_shared")
		}
		ec.IsNewAccount = domain.KnownFalse()
		if _, fired := checkBonusAbuseDeviceShared(ec); fired {
			t.Error("established account must not fire")
		}
	})

	t.Run("WithdrawalWithoutWagering", func(t *testing.T) {
		ec := &domain.EvaluationContext{
			Request: domain.TransactionRequest{
				TransactionType: "withdrawal",
				Features: domain.FeatureBag{
					Funding: &domain.FundingFeatures{WageringAmount: domain.Num(0)},
				},
			},
		}
		if _, fired := checkWithdrawalWithoutWagering(ec); !fired {
			t.Error("expected withdrawal_without_wagering")
		}

		// Absent wagering data is unknown, not zero.
		ec.Request.Features.Funding.WageringAmount = domain.OptionalFloat64{}
		if _, fired := checkWithdrawalWithoutWagering(ec); fired {
			t.Error("absent wagering amount must not fire")
		}
	})
}

func TestCryptoRules(t *testing.T) {
	t.Run("NewWalletHighValue", func(t *testing.T) {
		ec := &domain.EvaluationContext{
			Request: domain.TransactionRequest{
				Amount: 8000,
				Features: domain.FeatureBag{
					Funding: &domain.FundingFeatures{IsNewWallet: domain.Bool(true)},
				},
			},
		}
		if _, fired := checkNewWalletHighValue(ec); !fired {
			t.Error("expected new_wallet_high_value")
		}
	})

	t.Run("SuspiciousWallet", func(t *testing.T) {
		ec := &domain.EvaluationContext{ConsortiumFraudConfirmations: map[string]int64{"wallet": 1}}
		f, fired := checkKnownSuspiciousWallet(ec)
		if !fired {
			t.Fatal("expected known_suspicious_wallet")
		}
		if f.Severity != domain.SeverityCritical {
			t.Errorf("severity: got %s", f.Severity)
		}
	})

	t.Run("P2PVelocity", func(t *testing.T) {
		ec := &domain.EvaluationContext{
			Request: domain.TransactionRequest{TransactionType: "p2p_transfer"},
			Velocity: map[domain.Scope]domain.VelocityCounts{
				domain.ScopeUser: {domain.Window1h: 9},
			},
		}
		if _, fired := checkP2PVelocity(ec); !fired {
			t.Error("expected p2p_velocity")
		}
	})
}

func TestMarketplaceRules(t *testing.T) {
	ec := &domain.EvaluationContext{
		Request: domain.TransactionRequest{
			Amount: 3000,
			Features: domain.FeatureBag{
				MerchantAbuse: &domain.MerchantAbuseFeatures{
					SellerAgeDays: domain.Int(3),
					SellerRating:  domain.Num(2.1),
				},
			},
		},
	}

	if _, fired := checkNewSellerHighValue(ec); !fired {
		t.Error("expected new_seller_high_value")
	}
	if _, fired := checkLowRatedSeller(ec); !fired {
		t.Error("expected low_rated_seller")
	}

	ec.Request.Features.MerchantAbuse.SellerAgeDays = domain.Int(60)
	if _, fired := checkNewSellerHighValue(ec); fired {
		t.Error("established seller must not fire")
	}
}

func TestPaymentsRules(t *testing.T) {
	t.Run("BINReputation", func(t *testing.T) {
		ec := &domain.EvaluationContext{
			Request: domain.TransactionRequest{Features: domain.FeatureBag{
				Funding: &domain.FundingFeatures{CardBIN: domain.Str("4111111234")},
			}},
		}
		if _, fired := checkCardBINReputation(ec); !fired {
			t.Error("expected card_bin_reputation for a listed prefix")
		}
		ec.Request.Features.Funding.CardBIN = domain.Str("371449")
		if _, fired := checkCardBINReputation(ec); fired {
			t.Error("unlisted BIN must not fire")
		}
	})

	t.Run("ShippingMismatch", func(t *testing.T) {
		ec := &domain.EvaluationContext{
			Request: domain.TransactionRequest{
				Amount: 900,
				Features: domain.FeatureBag{
					Transaction: &domain.TransactionFeatures{ShippingEqualsBilling: domain.Bool(false)},
				},
			},
		}
		if _, fired := checkShippingBillingMismatchHighValue(ec); !fired {
			t.Error("expected shipping_billing_mismatch_high_value")
		}

		// Matching addresses or an absent field both stay quiet.
		ec.Request.Features.Transaction.ShippingEqualsBilling = domain.Bool(true)
		if _, fired := checkShippingBillingMismatchHighValue(ec); fired {
			t.Error("matching addresses must not fire")
		}
		ec.Request.Features.Transaction.ShippingEqualsBilling = domain.OptionalBool{}
		if _, fired := checkShippingBillingMismatchHighValue(ec); fired {
			t.Error("absent field must not fire")
		}
	})
}
