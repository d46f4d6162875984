package core

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/searchktools/fast-uring/core/pools"
)

// Snapshot is a point-in-time view of one worker
type Snapshot struct {
	Worker      int                  `json:"worker"`
	Connections pools.SlabStats      `json:"connections"`
	Pool        pools.BlockPoolStats `json:"pool"`
	Counters    Counters             `json:"counters"`
	GC          pools.GCStats        `json:"gc"`
}

// Counters is the exported form of Stats
type Counters struct {
	Accepted         uint64    `json:"accepted"`
	Refused          uint64    `json:"refused"`
	Closed           uint64    `json:"closed"`
	TimedOut         uint64    `json:"timed_out"`
	Requests         uint64    `json:"requests"`
	ProtocolErrors   uint64    `json:"protocol_errors"`
	HandlerPanics    uint64    `json:"handler_panics"`
	StaleCompletions uint64    `json:"stale_completions"`
	PartialSends     uint64    `json:"partial_sends"`
	ZeroCopySends    uint64    `json:"zero_copy_sends"`
	ContinueSent     uint64    `json:"continue_sent"`
	Pipelined        uint64    `json:"pipelined"`
	Responses        [5]uint64 `json:"responses_by_class"`
}

// Snapshot collects the worker, slab and pool counters
func (w *Worker) Snapshot() Snapshot {
	s := &w.stats
	snap := Snapshot{
		Worker:      w.id,
		Connections: w.conns.Stats(),
		Pool:        w.pool.Stats(),
		GC:          pools.GetGCStats(),
		Counters: Counters{
			Accepted:         s.Accepted,
			Refused:          s.Refused,
			Closed:           s.Closed,
			TimedOut:         s.TimedOut,
			Requests:         s.Requests,
			ProtocolErrors:   s.ProtocolErrors,
			HandlerPanics:    s.HandlerPanics,
			StaleCompletions: s.StaleCompletions,
			PartialSends:     s.PartialSends,
			ZeroCopySends:    s.ZeroCopySends,
			ContinueSent:     s.ContinueSent,
			Pipelined:        s.Pipelined,
		},
	}
	copy(snap.Counters.Responses[:], s.Responses[1:])
	return snap
}

// JSON returns the snapshot as indented JSON
func (s Snapshot) JSON() string {
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}

// Struct converts the snapshot into a protobuf Struct
func (s Snapshot) Struct() (*structpb.Struct, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

// ProtoJSON returns the protobuf JSON encoding of the snapshot
func (s Snapshot) ProtoJSON() ([]byte, error) {
	st, err := s.Struct()
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(st)
}

// Proto returns the protobuf wire encoding of the snapshot
func (s Snapshot) Proto() ([]byte, error) {
	st, err := s.Struct()
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

// Text returns the snapshot as human-readable text
func (s Snapshot) Text() string {
	c := s.Counters
	return fmt.Sprintf(`Worker %d
========

Connections:
  In use:    %d / %d
  Accepted:  %d
  Refused:   %d
  Closed:    %d
  Timed out: %d

Requests:
  Served:          %d
  Protocol errors: %d
  Handler panics:  %d
  Pipelined:       %d
  1xx/2xx/3xx/4xx/5xx: %d/%d/%d/%d/%d

Sends:
  Partial:   %d
  Zero-copy: %d

Block pool:
  Free blocks:   %d / %d
  Allocs:        %d
  Failures:      %d
  Overflow live: %d (%d bytes)

Go heap:
  Alloc:      %d bytes
  GC cycles:  %d
  Last pause: %v
`,
		s.Worker,
		s.Connections.InUse, s.Connections.Capacity,
		c.Accepted, c.Refused, c.Closed, c.TimedOut,
		c.Requests, c.ProtocolErrors, c.HandlerPanics, c.Pipelined,
		c.Responses[0], c.Responses[1], c.Responses[2], c.Responses[3], c.Responses[4],
		c.PartialSends, c.ZeroCopySends,
		s.Pool.FreeBlocks, s.Pool.Blocks, s.Pool.Allocs, s.Pool.Failures,
		s.Pool.OverflowLive, s.Pool.OverflowBytes,
		s.GC.HeapAlloc, s.GC.NumGC, s.GC.LastPause,
	)
}
