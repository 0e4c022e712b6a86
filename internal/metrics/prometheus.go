package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	AccessTokensIssuedTotal  prometheus.Counter
	RefreshTokensIssuedTotal prometheus.Counter
	TokensRevokedTotal       prometheus.Counter
	QuotaEvictionsTotal      prometheus.Counter
	ValidationsTotal         *prometheus.CounterVec
	GrantExchangesTotal      *prometheus.CounterVec
)

// Init initializes and registers the custom Prometheus metrics. It should
// be called once at application startup; passing nil skips registration
// (useful in tests).
func Init(reg prometheus.Registerer) {
	AccessTokensIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oauth_access_tokens_issued_total",
		Help: "Total number of access tokens issued.",
	})
	RefreshTokensIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oauth_refresh_tokens_issued_total",
		Help: "Total number of refresh tokens issued.",
	})
	TokensRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oauth_tokens_revoked_total",
		Help: "Total number of tokens revoked, cascades included.",
	})
	QuotaEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oauth_quota_evictions_total",
		Help: "Total number of FIFO quota evictions.",
	})
	ValidationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_token_validations_total",
		Help: "Token validation outcomes on the resource-server path.",
	}, []string{"outcome"})
	GrantExchangesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_grant_exchanges_total",
		Help: "Grant exchanges by grant type and outcome.",
	}, []string{"grant_type", "outcome"})

	if reg == nil {
		return
	}
	for _, c := range []prometheus.Collector{
		AccessTokensIssuedTotal,
		RefreshTokensIssuedTotal,
		TokensRevokedTotal,
		QuotaEvictionsTotal,
		ValidationsTotal,
		GrantExchangesTotal,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("failed to register metric")
		}
	}
}

func init() {
	// Metrics are usable without explicit registration so library users and
	// tests do not have to call Init first.
	Init(nil)
}
