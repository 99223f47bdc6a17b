package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DirectoryMetrics instruments the operation pipeline. A nil
// *DirectoryMetrics is valid and records nothing, so callers never have to
// branch on whether metrics are enabled.
type DirectoryMetrics struct {
	interceptorInvocations *prometheus.CounterVec
	referralHits           *prometheus.CounterVec
	cursorOpened           prometheus.Counter
	changelogRevision      prometheus.Gauge
	partitionOps           *prometheus.CounterVec
	operationErrors        *prometheus.CounterVec
}

// NewDirectoryMetrics creates the pipeline metrics set, or returns nil when
// metrics are not enabled (InitRegistry not called).
func NewDirectoryMetrics() *DirectoryMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &DirectoryMetrics{
		interceptorInvocations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dirsrv_interceptor_invocations_total",
				Help: "Total interceptor stage invocations by stage name and operation kind",
			},
			[]string{"stage", "op"},
		),
		referralHits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dirsrv_referral_hits_total",
				Help: "Total referral matches by kind (exact, ancestor)",
			},
			[]string{"kind"},
		),
		cursorOpened: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dirsrv_cursor_opened_total",
				Help: "Total search cursors opened",
			},
		),
		changelogRevision: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dirsrv_changelog_revision",
				Help: "Current change-log head revision",
			},
		),
		partitionOps: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dirsrv_partition_operations_total",
				Help: "Total partition-level storage operations by backend and operation",
			},
			[]string{"backend", "op"},
		),
		operationErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dirsrv_operation_errors_total",
				Help: "Total failed operations by error code",
			},
			[]string{"code"},
		),
	}
}

// RecordStageInvocation counts one interceptor stage execution.
func (m *DirectoryMetrics) RecordStageInvocation(stage, op string) {
	if m == nil {
		return
	}
	m.interceptorInvocations.WithLabelValues(stage, op).Inc()
}

// RecordReferralHit counts one referral match ("exact" or "ancestor").
func (m *DirectoryMetrics) RecordReferralHit(kind string) {
	if m == nil {
		return
	}
	m.referralHits.WithLabelValues(kind).Inc()
}

// RecordCursorOpened counts one opened search cursor.
func (m *DirectoryMetrics) RecordCursorOpened() {
	if m == nil {
		return
	}
	m.cursorOpened.Inc()
}

// SetChangelogRevision records the change-log head after an append or revert.
func (m *DirectoryMetrics) SetChangelogRevision(rev uint64) {
	if m == nil {
		return
	}
	m.changelogRevision.Set(float64(rev))
}

// RecordPartitionOp counts one storage-level call.
func (m *DirectoryMetrics) RecordPartitionOp(backend, op string) {
	if m == nil {
		return
	}
	m.partitionOps.WithLabelValues(backend, op).Inc()
}

// RecordOperationError counts one failed operation by taxonomy code.
func (m *DirectoryMetrics) RecordOperationError(code string) {
	if m == nil {
		return
	}
	m.operationErrors.WithLabelValues(code).Inc()
}
