package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ruslanovk/vpnshop-sync/internal/models"
)

var (
	syncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpnshop_sync_runs_total",
		Help: "Количество проходов синхронизации по результату.",
	}, []string{"result"})

	syncAccountsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpnshop_sync_accounts_total",
		Help: "Операции над аккаунтами за все проходы.",
	}, []string{"action"})

	syncDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vpnshop_sync_duration_seconds",
		Help:    "Длительность прохода синхронизации.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	syncLastRunTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vpnshop_sync_last_run_timestamp_seconds",
		Help: "Время завершения последнего прохода.",
	})
)

func observePass(report *models.SyncReport, durationSeconds float64, err error) {
	syncDurationSeconds.Observe(durationSeconds)
	syncLastRunTimestamp.SetToCurrentTime()

	if err != nil {
		syncRunsTotal.WithLabelValues("failure").Inc()
		return
	}
	syncRunsTotal.WithLabelValues("success").Inc()

	syncAccountsTotal.WithLabelValues("created").Add(float64(report.Created))
	syncAccountsTotal.WithLabelValues("updated").Add(float64(report.Updated))
	syncAccountsTotal.WithLabelValues("retired").Add(float64(report.Retired))
	syncAccountsTotal.WithLabelValues("error").Add(float64(report.Errors))
}
