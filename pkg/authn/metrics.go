package authn

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	LoginsStarted   prometheus.Counter
	LoginsCompleted prometheus.Counter
	LoginFailures   *prometheus.CounterVec
	TokenRefreshes  prometheus.Counter
	RefreshFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LoginsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "skyview",
			Subsystem: "authn",
			Name:      "logins_started_total",
			Help:      "Authorization flows started.",
		}),
		LoginsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "skyview",
			Subsystem: "authn",
			Name:      "logins_completed_total",
			Help:      "Authorization flows completed with a session.",
		}),
		LoginFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skyview",
			Subsystem: "authn",
			Name:      "login_failures_total",
			Help:      "Authorization flow failures by kind.",
		}, []string{"kind"}),
		TokenRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "skyview",
			Subsystem: "authn",
			Name:      "token_refreshes_total",
			Help:      "Successful token refreshes.",
		}),
		RefreshFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "skyview",
			Subsystem: "authn",
			Name:      "refresh_failures_total",
			Help:      "Failed token refreshes.",
		}),
	}
}
