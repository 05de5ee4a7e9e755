package domain

// MetricsRecorder receives assignment pipeline events. Implementations must be safe for concurrent use.
type MetricsRecorder interface {
	RecordDispatch(kind JobKind, outcome string, seconds float64)
	RecordJobResult(kind JobKind, outcome string, seconds float64)
	RecordSweep(found, failed int)
	RecordBulkChunk(assigned, stillUnassigned, skipped int)
}
