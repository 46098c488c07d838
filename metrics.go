// metrics.go
package secretariat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wizardsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "secretariat",
		Subsystem: "wizard",
		Name:      "sessions_active",
		Help:      "Number of open wizard sessions",
	})
	wizardTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secretariat",
		Subsystem: "wizard",
		Name:      "transitions_total",
		Help:      "Wizard step transitions by kind and result",
	}, []string{"transition", "result"})
	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secretariat",
		Subsystem: "wizard",
		Name:      "submissions_total",
		Help:      "Appointment submissions by strategy and result",
	}, []string{"strategy", "result"})
	attachmentUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secretariat",
		Subsystem: "attachments",
		Name:      "uploads_total",
		Help:      "Attachment uploads by result",
	}, []string{"result"})
	validationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secretariat",
		Subsystem: "review",
		Name:      "validations_total",
		Help:      "Review card validations by outcome",
	}, []string{"outcome"})
)

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
