package metrics

import "github.com/sf7293/task-assigner/internal/domain"

// Nop discards every event.
type Nop struct{}

var _ domain.MetricsRecorder = Nop{}

func (Nop) RecordDispatch(_ domain.JobKind, _ string, _ float64)  {}
func (Nop) RecordJobResult(_ domain.JobKind, _ string, _ float64) {}
func (Nop) RecordSweep(_, _ int)                                  {}
func (Nop) RecordBulkChunk(_, _, _ int)                           {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r domain.MetricsRecorder) domain.MetricsRecorder {
	if r == nil {
		return Nop{}
	}
	return r
}
