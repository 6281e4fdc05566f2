package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_messages_ingested_total",
			Help: "Total number of ingest calls by result",
		},
		[]string{"result"},
	)

	ChangeEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messenger_change_events_total",
			Help: "Total number of inserts observed on the message store",
		},
	)

	NotificationsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_notifications_published_total",
			Help: "Total number of notification bus publishes by result",
		},
		[]string{"result"},
	)

	RealtimeClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "messenger_realtime_clients",
			Help: "Number of websocket clients attached to the realtime relay",
		},
	)

	WorkerActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "messenger_observer_workers_active",
			Help: "Number of active observer publish workers",
		},
	)
)

// Init registers metrics with Prometheus
func Init() {
	prometheus.MustRegister(MessagesIngested)
	prometheus.MustRegister(ChangeEvents)
	prometheus.MustRegister(NotificationsPublished)
	prometheus.MustRegister(RealtimeClients)
	prometheus.MustRegister(WorkerActive)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
