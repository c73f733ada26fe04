package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SyncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "livetv_sync_duration_seconds",
		Help:    "Duration of a full live-TV sync cycle",
		Buckets: prometheus.DefBuckets,
	})
	SyncUsersProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livetv_sync_users_processed_total",
		Help: "Users processed across all sync cycles",
	})
	SyncUserFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livetv_sync_user_failures_total",
		Help: "Per-user sync failures",
	})
	FetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livetv_fetch_errors_total",
		Help: "Upstream fetch failures by kind",
	}, []string{"kind"}) // upstream, network, timeout
	ChannelsInserted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livetv_channels_inserted_total",
		Help: "Channel records bulk-inserted",
	})
	ProgramsInserted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livetv_programs_inserted_total",
		Help: "Program records bulk-inserted",
	})
	ProgrammesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livetv_programmes_dropped_total",
		Help: "XMLTV programmes dropped during normalization",
	}, []string{"reason"}) // unknown_channel, bad_time, duplicate
)

// MustRegister registers all engine collectors on the given registerer.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		SyncDuration,
		SyncUsersProcessed,
		SyncUserFailures,
		FetchErrors,
		ChannelsInserted,
		ProgramsInserted,
		ProgrammesDropped,
	)
}
