package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	taskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qfarm_task_runs_total",
		Help: "Scheduled task executions by task and result (ok, error, panic)",
	}, []string{"task", "result"})

	schedulerResting = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "qfarm_scheduler_resting",
		Help: "1 while the scheduler of an account is in a rest period",
	}, []string{"account"})

	schedulerTasks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "qfarm_scheduler_tasks",
		Help: "Registered tasks per scheduler",
	}, []string{"account"})
)

func RecordTaskRun(task, result string) {
	taskRuns.WithLabelValues(task, result).Inc()
}

func SetResting(account string, resting bool) {
	v := 0.0
	if resting {
		v = 1
	}
	schedulerResting.WithLabelValues(account).Set(v)
}

func SetTaskCount(account string, n int) {
	schedulerTasks.WithLabelValues(account).Set(float64(n))
}
