package rules

import "github.com/fraudsvc/fraudsvc/internal/domain"

func registerGeoNetworkRules(b *builder) {
	b.add(domain.Rule{
		Name:              "vpn_proxy_ip",
		Category:          "geo_network",
		Severity:          domain.SeverityLow,
		BaseScore:         10,
		DefaultConfidence: 0.5,
		Verticals:         allVerticals,
		Check:             checkVPNProxyIP,
	})
	b.add(domain.Rule{
		Name:              "impossible_travel",
		Category:          "geo_network",
		Severity:          domain.SeverityCritical,
		BaseScore:         40,
		DefaultConfidence: 0.85,
		Verticals:         allVerticals,
		Check:             checkImpossibleTravel,
	})
	b.add(domain.Rule{
		Name:              "country_mismatch",
		Category:          "geo_network",
		Severity:          domain.SeverityMedium,
		BaseScore:         16,
		DefaultConfidence: 0.6,
		Verticals:         allVerticals,
		Check:             checkCountryMismatch,
	})
}

func checkVPNProxyIP(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	net := ctx.Request.Features.Network
	if net == nil || !net.IsVPNOrProxy.Present || !net.IsVPNOrProxy.Value {
		return noFlag()
	}
	return fire("vpn_proxy_ip", domain.SeverityLow, 10, 0.5,
		"request originated from a known VPN or proxy exit node", nil)
}

// checkImpossibleTravel trusts only the assembler's derived verdict: it
// never recomputes distance itself, so it inherits the unknown-not-false
// rule the assembler already applies when an endpoint lacks coordinates.
func checkImpossibleTravel(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	if !ctx.IsImpossibleTravel.Known || !ctx.IsImpossibleTravel.Value {
		return noFlag()
	}
	return fire("impossible_travel", domain.SeverityCritical, 40, 0.85,
		"implied travel speed between consecutive transactions exceeds any commercial mode of transport", nil)
}

func checkCountryMismatch(ctx *domain.EvaluationContext) (*domain.Flag, bool) {
	net := ctx.Request.Features.Network
	if net == nil || !net.Country.Present || !net.DeclaredCountry.Present {
		return noFlag()
	}
	if net.Country.Value == net.DeclaredCountry.Value {
		return noFlag()
	}
	return fire("country_mismatch", domain.SeverityMedium, 16, 0.6,
		"IP-geolocated country differs from the account's declared country",
		map[string]any{"ip_country": net.Country.Value, "declared_country": net.DeclaredCountry.Value})
}
