package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		jobsAcceptedTotal,
		jobSubmissionsTotal,
		jobPollsTotal,
		jobsFinishedTotal,
		jobsTracked,
		jobDispatchDroppedTotal,
		jobsReconciledTotal,
	)
}

var (
	jobsAcceptedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_jobs_accepted_total",
			Help: "Generation requests accepted and persisted, by provider.",
		},
		[]string{"provider"},
	)

	// outcome: accepted|retry|failed|exhausted|invalid
	jobSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_job_submissions_total",
			Help: "Provider submission attempts by outcome.",
		},
		[]string{"provider", "outcome"},
	)

	// status: pending|processing|succeeded|failed|error
	jobPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_job_polls_total",
			Help: "Provider status polls by normalized status.",
		},
		[]string{"provider", "status"},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_jobs_finished_total",
			Help: "Jobs that reached a terminal state, by state and error kind.",
		},
		[]string{"provider", "state", "kind"},
	)

	jobsTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "generation_jobs_tracked",
			Help: "Non-terminal jobs in the scheduler working set.",
		},
	)

	jobDispatchDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "generation_job_dispatch_dropped_total",
			Help: "Due jobs left for the next tick because the worker pool was full.",
		},
	)

	jobsReconciledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "generation_jobs_reconciled_total",
			Help: "Jobs adopted from the store by the reconciler.",
		},
	)
)

func IncJobAccepted(provider string) {
	jobsAcceptedTotal.WithLabelValues(norm(provider)).Inc()
}

func IncJobSubmission(provider, outcome string) {
	jobSubmissionsTotal.WithLabelValues(norm(provider), norm(outcome)).Inc()
}

func IncJobPoll(provider, status string) {
	jobPollsTotal.WithLabelValues(norm(provider), norm(status)).Inc()
}

func IncJobFinished(provider, state, kind string) {
	jobsFinishedTotal.WithLabelValues(norm(provider), norm(state), norm(kind)).Inc()
}

func SetJobsTracked(n int) {
	jobsTracked.Set(float64(n))
}

func IncDispatchDropped() {
	jobDispatchDroppedTotal.Inc()
}

func AddJobsReconciled(n int) {
	jobsReconciledTotal.Add(float64(n))
}
