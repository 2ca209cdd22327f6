package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "studiobook"

var (
	once sync.Once

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "API requests by transport, endpoint and result code.",
		},
		[]string{"transport", "endpoint", "code"},
	)

	bookingsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_created_total",
			Help:      "Bookings created by status.",
		},
		[]string{"status"},
	)

	bookingsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_rejected_total",
			Help:      "Booking attempts rejected by error kind.",
		},
		[]string{"kind"},
	)

	bookingsCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_cancelled_total",
			Help:      "Bookings cancelled.",
		},
	)

	lessonsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lessons_generated_total",
			Help:      "Generation outcomes per slot.",
		},
		[]string{"outcome"},
	)

	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Background jobs by type and result.",
		},
		[]string{"type", "result"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			requests,
			bookingsCreated,
			bookingsRejected,
			bookingsCancelled,
			lessonsGenerated,
			jobsProcessed,
		)
	})
}

// IncRequest counts one API request. transport is "http" or "grpc".
func IncRequest(transport, endpoint, code string) {
	requests.WithLabelValues(transport, endpoint, code).Inc()
}

func AddBookings(status string, n int) {
	bookingsCreated.WithLabelValues(status).Add(float64(n))
}

func IncBookingRejected(kind string) {
	bookingsRejected.WithLabelValues(kind).Inc()
}

func IncBookingCancelled() {
	bookingsCancelled.Inc()
}

// AddGeneration records the counts of one generation run.
func AddGeneration(created, skipped, conflicts, cleared int) {
	lessonsGenerated.WithLabelValues("created").Add(float64(created))
	lessonsGenerated.WithLabelValues("skipped").Add(float64(skipped))
	lessonsGenerated.WithLabelValues("conflict").Add(float64(conflicts))
	lessonsGenerated.WithLabelValues("cleared").Add(float64(cleared))
}

func IncJob(jobType, result string) {
	jobsProcessed.WithLabelValues(jobType, result).Inc()
}
