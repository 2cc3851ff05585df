package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"datadesk/internal/db"
	"datadesk/internal/models"
)

var (
	requestsDesc = prometheus.NewDesc(
		"datadesk_requests",
		"Number of stored requests by status",
		[]string{"status"},
		nil,
	)
	submissionsDesc = prometheus.NewDesc(
		"datadesk_submissions",
		"Number of department submissions by completion",
		[]string{"completed"},
		nil,
	)
	rowsDesc = prometheus.NewDesc(
		"datadesk_rows",
		"Number of stored rows, initial rows included",
		nil,
		nil,
	)

	submissionsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "datadesk_submissions_received_total",
		Help: "Submissions accepted through the API",
	}, []string{"completed"})

	notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "datadesk_notifications_total",
		Help: "Notification outcomes by kind",
		// reason is empty for delivered mail
	}, []string{"kind", "outcome", "reason"})
)

// RequestCollector is a custom Prometheus collector that reads request
// counts from the store on each scrape.
type RequestCollector struct {
	store   db.Store
	timeout time.Duration
}

// NewRequestCollector creates a collector over store.
func NewRequestCollector(store db.Store) *RequestCollector {
	return &RequestCollector{store: store, timeout: 5 * time.Second}
}

// Describe sends the metric descriptors to the channel.
func (c *RequestCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- requestsDesc
	ch <- submissionsDesc
	ch <- rowsDesc
}

// Collect lists the stored requests and emits them as gauges.
func (c *RequestCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	requests, err := c.store.ListRequests(ctx)
	if err != nil {
		slog.Error("failed to collect request metrics", "error", err)
		return
	}

	byStatus := map[string]int{
		models.StatusInProgress: 0,
		models.StatusCompleted:  0,
	}
	byCompleted := map[bool]int{true: 0, false: 0}
	rows := 0
	for i := range requests {
		byStatus[requests[i].Status]++
		rows += len(requests[i].InitialRows)
		for _, s := range requests[i].Submissions {
			byCompleted[s.Completed]++
			rows += len(s.Rows)
		}
	}

	for status, n := range byStatus {
		ch <- prometheus.MustNewConstMetric(requestsDesc, prometheus.GaugeValue, float64(n), status)
	}
	for completed, n := range byCompleted {
		ch <- prometheus.MustNewConstMetric(submissionsDesc, prometheus.GaugeValue, float64(n), strconv.FormatBool(completed))
	}
	ch <- prometheus.MustNewConstMetric(rowsDesc, prometheus.GaugeValue, float64(rows))
}

// Register adds the collector and the counters to reg.
func Register(reg prometheus.Registerer, store db.Store) error {
	for _, c := range []prometheus.Collector{NewRequestCollector(store), submissionsReceived, notifications} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

var initOnce sync.Once

// Init registers everything with the default registry.
// Must be called once at startup.
func Init(store db.Store) {
	initOnce.Do(func() {
		if err := Register(prometheus.DefaultRegisterer, store); err != nil {
			slog.Error("failed to register metrics", "error", err)
		}
	})
}

// RecordSubmission counts an accepted submission.
func RecordSubmission(completed bool) {
	submissionsReceived.WithLabelValues(strconv.FormatBool(completed)).Inc()
}

// RecordNotification counts the final outcome of a notification.
func RecordNotification(kind string, delivered bool, reason string) {
	outcome := "failed"
	if delivered {
		outcome = "delivered"
		reason = ""
	}
	notifications.WithLabelValues(kind, outcome, reason).Inc()
}
