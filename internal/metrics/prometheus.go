package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Escrow metrics
	jobsCreatedTotal      prometheus.Counter
	bidsAcceptedTotal     prometheus.Counter
	bidsRejectedTotal     *prometheus.CounterVec
	jobsExecutedTotal     prometheus.Counter
	jobsWithdrawnTotal    prometheus.Counter
	transferFailuresTotal prometheus.Counter
	invocationsTotal      *prometheus.CounterVec
	invocationDuration    prometheus.Histogram

	// Event pipeline metrics
	bufferSize       prometheus.Gauge
	bufferCapacity   prometheus.Gauge
	emitErrorsTotal  prometheus.Counter
	eventsInFlight   prometheus.Gauge
	journalErrsTotal prometheus.Counter

	// Monitor metrics
	jobsByPhase *prometheus.GaugeVec
	valueHeld   prometheus.Gauge
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initEscrowMetrics(reg)
	s.initPipelineMetrics(reg)
	s.initMonitorMetrics(reg)
	return s
}

func (s *PrometheusSink) initEscrowMetrics(reg prometheus.Registerer) {
	s.jobsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delayedjobs_escrow_jobs_created_total",
		Help: "Total number of jobs created.",
	})
	s.bidsAcceptedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delayedjobs_escrow_bids_accepted_total",
		Help: "Total number of accepted bids.",
	})
	s.bidsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delayedjobs_escrow_bids_rejected_total",
		Help: "Total number of rejected bids by reason.",
	}, []string{"reason"})
	s.jobsExecutedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delayedjobs_escrow_jobs_executed_total",
		Help: "Total number of jobs executed.",
	})
	s.jobsWithdrawnTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delayedjobs_escrow_jobs_withdrawn_total",
		Help: "Total number of creator withdrawals.",
	})
	s.transferFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delayedjobs_escrow_transfer_failures_total",
		Help: "Total number of failed outbound value transfers.",
	})
	s.invocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delayedjobs_escrow_invocations_total",
		Help: "Total number of job invocations by outcome.",
	}, []string{"outcome"})
	s.invocationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "delayedjobs_escrow_invocation_duration_seconds",
		Help:    "Job invocation latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.register(reg, s.jobsCreatedTotal, "delayedjobs_escrow_jobs_created_total")
	s.register(reg, s.bidsAcceptedTotal, "delayedjobs_escrow_bids_accepted_total")
	s.register(reg, s.bidsRejectedTotal, "delayedjobs_escrow_bids_rejected_total")
	s.register(reg, s.jobsExecutedTotal, "delayedjobs_escrow_jobs_executed_total")
	s.register(reg, s.jobsWithdrawnTotal, "delayedjobs_escrow_jobs_withdrawn_total")
	s.register(reg, s.transferFailuresTotal, "delayedjobs_escrow_transfer_failures_total")
	s.register(reg, s.invocationsTotal, "delayedjobs_escrow_invocations_total")
	s.register(reg, s.invocationDuration, "delayedjobs_escrow_invocation_duration_seconds")
}

func (s *PrometheusSink) initPipelineMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "delayedjobs_eventbus_buffer_size",
		Help: "Current number of events in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "delayedjobs_eventbus_buffer_capacity",
		Help: "Capacity of the event bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delayedjobs_eventbus_emit_errors_total",
		Help: "Total number of emit errors (context done while buffer full).",
	})
	s.eventsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "delayedjobs_journal_events_in_flight",
		Help: "Number of events currently being journaled.",
	})
	s.journalErrsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "delayedjobs_journal_write_errors_total",
		Help: "Total number of journal write errors.",
	})

	s.register(reg, s.bufferSize, "delayedjobs_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "delayedjobs_eventbus_buffer_capacity")
	s.register(reg, s.emitErrorsTotal, "delayedjobs_eventbus_emit_errors_total")
	s.register(reg, s.eventsInFlight, "delayedjobs_journal_events_in_flight")
	s.register(reg, s.journalErrsTotal, "delayedjobs_journal_write_errors_total")
}

func (s *PrometheusSink) initMonitorMetrics(reg prometheus.Registerer) {
	s.jobsByPhase = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "delayedjobs_jobs",
		Help: "Number of jobs by lifecycle phase.",
	}, []string{"phase"})
	s.valueHeld = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "delayedjobs_value_held",
		Help: "Total value currently held by the escrow across all jobs.",
	})

	s.register(reg, s.jobsByPhase, "delayedjobs_jobs")
	s.register(reg, s.valueHeld, "delayedjobs_value_held")
}

// register attempts to register a collector, logging any errors without
// propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Escrow metrics implementation

func (s *PrometheusSink) JobCreated() {
	s.jobsCreatedTotal.Inc()
}

func (s *PrometheusSink) BidAccepted() {
	s.bidsAcceptedTotal.Inc()
}

func (s *PrometheusSink) BidRejected(reason string) {
	s.bidsRejectedTotal.WithLabelValues(reason).Inc()
}

func (s *PrometheusSink) JobExecuted() {
	s.jobsExecutedTotal.Inc()
}

func (s *PrometheusSink) JobWithdrawn() {
	s.jobsWithdrawnTotal.Inc()
}

func (s *PrometheusSink) TransferFailed() {
	s.transferFailuresTotal.Inc()
}

func (s *PrometheusSink) InvocationCompleted(success bool, duration time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	s.invocationsTotal.WithLabelValues(outcome).Inc()
	s.invocationDuration.Observe(duration.Seconds())
}

// Event pipeline metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

func (s *PrometheusSink) EventsInFlightIncr() {
	s.eventsInFlight.Inc()
}

func (s *PrometheusSink) EventsInFlightDecr() {
	s.eventsInFlight.Dec()
}

func (s *PrometheusSink) JournalWriteError() {
	s.journalErrsTotal.Inc()
}

// Monitor metrics implementation

func (s *PrometheusSink) JobsByPhaseUpdate(phase string, count int) {
	s.jobsByPhase.WithLabelValues(phase).Set(float64(count))
}

func (s *PrometheusSink) ValueHeldUpdate(value float64) {
	s.valueHeld.Set(value)
}
