// Package topk tracks the statements executed most often across all handles
// of a process, using a sliding-window heavy-hitters sketch.
package topk

import (
	"sync"

	"github.com/keilerkonzept/topk/sliding"
)

// SketchParams configures the sliding window sketch.
type SketchParams struct {
	K          int    // number of statements tracked
	WindowSize int    // ticks kept in the sliding window
	Width      int    // count-min width
	Depth      int    // count-min depth
	TickSize   uint64 // executions per tick

	// MaxSharePercent is the share of the window above which a statement is
	// reported as hot by Record.
	MaxSharePercent int
}

// DefaultParams fits a few hundred distinct statements per process.
func DefaultParams() SketchParams {
	return SketchParams{
		K:               16,
		WindowSize:      10,
		Width:           1024,
		Depth:           3,
		TickSize:        500,
		MaxSharePercent: 50,
	}
}

// TopKSketch is safe for concurrent use by several handles.
type TopKSketch struct {
	mu              sync.Mutex
	sketch          *sliding.Sketch
	tickSize        uint64 // executions per tick
	tickReq         uint64 // executions since last tick
	tickCount       uint64 // ticks processed
	maxSharePercent int
	threshold       uint32 // precomputed from window capacity and share
}

func New(params SketchParams) *TopKSketch {
	if params.TickSize == 0 {
		params.TickSize = 500
	}
	if params.MaxSharePercent <= 0 || params.MaxSharePercent > 100 {
		params.MaxSharePercent = 50
	}
	instance := sliding.New(params.K, params.WindowSize,
		sliding.WithWidth(params.Width),
		sliding.WithDepth(params.Depth),
	)

	windowCapacity := uint64(params.WindowSize) * params.TickSize
	return &TopKSketch{
		sketch:          instance,
		tickSize:        params.TickSize,
		maxSharePercent: params.MaxSharePercent,
		threshold:       uint32(windowCapacity * uint64(params.MaxSharePercent) / 100),
	}
}

// Record counts one execution of statement. At every tick boundary it
// returns the statements whose count in the window is above the share
// threshold, otherwise nil.
func (cs *TopKSketch) Record(statement string) []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.sketch.Incr(statement)
	cs.tickReq++

	if cs.tickReq < cs.tickSize {
		return nil
	}
	cs.sketch.Tick()
	cs.tickCount++
	cs.tickReq = 0

	var hot []string
	for _, item := range cs.sketch.SortedSlice() {
		if item.Count <= cs.threshold {
			break // sorted, nothing further qualifies
		}
		hot = append(hot, item.Item)
	}
	return hot
}

// Top returns up to n statements ordered by their count in the window.
func (cs *TopKSketch) Top(n int) []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	items := cs.sketch.SortedSlice()
	out := make([]string, 0, min(n, len(items)))
	for _, item := range items {
		if len(out) == n {
			break
		}
		if item.Count == 0 {
			continue
		}
		out = append(out, item.Item)
	}
	return out
}

// Ticks reports how many ticks have been processed.
func (cs *TopKSketch) Ticks() uint64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.tickCount
}
