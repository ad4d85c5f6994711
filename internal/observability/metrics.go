package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Verdict sources.
const (
	SourceClassifier = "classifier"
	SourceTextCache  = "text_cache"
	SourceImageCache = "image_cache"
	SourceReport     = "report"
)

var (
	spamVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ngguard_spam_verdicts_total",
			Help: "Confirmed spam verdicts by source",
		},
		[]string{"source"},
	)

	limiterRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ngguard_limiter_rejections_total",
			Help: "Classification requests rejected by the rate limiter",
		},
		[]string{"reason"},
	)

	enforcementTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ngguard_enforcement_total",
			Help: "Disciplinary actions by outcome",
		},
		[]string{"action", "result"},
	)

	shieldActivationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ngguard_shield_activations_total",
			Help: "Join flood shield activations",
		},
	)

	shieldRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ngguard_shield_rejections_total",
			Help: "Joiners rejected while the shield was active",
		},
	)

	impersonationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ngguard_impersonation_checks_total",
			Help: "Impersonation verdicts",
		},
		[]string{"outcome"},
	)

	classificationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ngguard_classification_duration_seconds",
			Help:    "Time spent in classifier calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)
)

func registerMetrics(registerer prometheus.Registerer) {
	registerer.MustRegister(
		spamVerdictsTotal,
		limiterRejectionsTotal,
		enforcementTotal,
		shieldActivationsTotal,
		shieldRejectionsTotal,
		impersonationTotal,
		classificationDuration,
	)
}

func RecordSpamVerdict(source string) {
	spamVerdictsTotal.WithLabelValues(source).Inc()
}

func RecordLimiterRejection(reason string) {
	limiterRejectionsTotal.WithLabelValues(reason).Inc()
}

func RecordEnforcement(action, result string) {
	enforcementTotal.WithLabelValues(action, result).Inc()
}

func RecordShieldActivation() {
	shieldActivationsTotal.Inc()
}

func RecordShieldRejection() {
	shieldRejectionsTotal.Inc()
}

func RecordImpersonation(outcome string) {
	impersonationTotal.WithLabelValues(outcome).Inc()
}

// StartClassification returns a function recording the call duration.
func StartClassification() func(status string) {
	start := time.Now()
	return func(status string) {
		classificationDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}
