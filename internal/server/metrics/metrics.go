package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gophcollab"

var (
	// GroupsFormed количество сформированных групп по размеру
	GroupsFormed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "grouping",
		Name:      "groups_formed_total",
		Help:      "Number of groups formed, by size.",
	}, []string{"size"})

	// PoolSize текущее количество ожидающих участников
	PoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "grouping",
		Name:      "pool_size",
		Help:      "Number of participants waiting for a group.",
	})

	// DocumentEntries количество принятых и отклоненных записей документов
	DocumentEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "documents",
		Name:      "entries_total",
		Help:      "Replicated document entries received, by result.",
	}, []string{"result"})

	// ChannelMessages количество сообщений канала сессии по типу и результату
	ChannelMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "channel",
		Name:      "messages_total",
		Help:      "Session channel messages, by type and result.",
	}, []string{"type", "result"})

	// ChannelConnections текущее количество подключений канала сессии
	ChannelConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "channel",
		Name:      "connections",
		Help:      "Open session channel connections.",
	})

	// EventSubscribers текущее количество подписчиков SSE
	EventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "subscribers",
		Help:      "Open group assignment event streams.",
	})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration, by route pattern and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// Handler отдает метрики в формате Prometheus
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTP записывает длительность HTTP запроса
func ObserveHTTP(method, route string, status int, d time.Duration) {
	httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
