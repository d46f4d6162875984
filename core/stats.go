package core

import (
	"golang.org/x/sys/cpu"

	"github.com/searchktools/fast-uring/core/http"
)

// Stats counts worker activity. Only the owning worker writes it; the padding
// keeps counters of workers allocated side by side off each other's lines.
type Stats struct {
	_ cpu.CacheLinePad

	Accepted         uint64
	Refused          uint64
	Closed           uint64
	TimedOut         uint64
	Requests         uint64
	ProtocolErrors   uint64
	HandlerPanics    uint64
	StaleCompletions uint64
	PartialSends     uint64
	ZeroCopySends    uint64
	ContinueSent     uint64
	Pipelined        uint64 // requests framed from bytes left over by the previous one

	// Responses by status class, index 1 to 5
	Responses [6]uint64

	_ cpu.CacheLinePad
}

func (s *Stats) countStatus(status http.Status) {
	if c := status.Class(); c > 0 && c < len(s.Responses) {
		s.Responses[c]++
	}
}

// Stats returns a copy of the worker counters
func (w *Worker) Stats() Stats { return w.stats }

// StatsFrom returns the snapshot of the worker serving the response behind rw.
// ok is false when rw was not produced by a Worker.
func StatsFrom(rw http.ResponseWriter) (Snapshot, bool) {
	r, ok := rw.(*responseWriter)
	if !ok || r.w == nil {
		return Snapshot{}, false
	}
	return r.w.Snapshot(), true
}
