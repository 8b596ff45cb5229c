package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckIns counts successful check-ins by resulting status.
	CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_checkins_total",
		Help: "Check-ins recorded, labelled by status.",
	}, []string{"status"})

	// CheckInRejections counts rejected check-ins by reason.
	CheckInRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_checkin_rejections_total",
		Help: "Check-ins rejected by the status engine, labelled by reason.",
	}, []string{"reason"})

	// MatchVerdicts counts face verification outcomes.
	MatchVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_match_verdicts_total",
		Help: "Face match verdicts, labelled match/no_match/no_enrollments.",
	}, []string{"verdict"})

	// SweepMarked counts absent records created by the auto-absent sweep.
	SweepMarked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sweep_absent_marked_total",
		Help: "Absent records created by the auto-absent sweep.",
	})
)
