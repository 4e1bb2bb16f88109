package nodeset

import (
	"context"
	"time"

	"github.com/petal-labs/nodeflow/catalog"
	"github.com/petal-labs/nodeflow/core"
)

// TickerType is a streaming zero-input node that emits params["count"]
// incrementing integer ticks (default 3), one every params["interval_ms"]
// (default 0), honoring ctx cancellation between emissions. It is the
// engine's minimal streaming-mode exemplar.
const TickerType = "Ticker"

type tickerNode struct {
	core.BaseNode
}

func NewTicker(id int, params map[string]any) core.Node {
	outputs := []core.OutputSlot{{Name: "tick", Type: core.TypeNumber}}
	return &tickerNode{BaseNode: core.NewBaseNode(id, nil, outputs, params)}
}

func (n *tickerNode) Start(ctx context.Context, inputs core.Inputs) (<-chan core.StreamItem, error) {
	count := 3
	if v, ok := toInt(n.Params()["count"]); ok {
		count = v
	}
	interval := time.Duration(0)
	if v, ok := toInt(n.Params()["interval_ms"]); ok {
		interval = time.Duration(v) * time.Millisecond
	}

	out := make(chan core.StreamItem, 1)
	go func() {
		defer close(out)
		for i := 1; i <= count; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			last := i == count
			select {
			case out <- core.StreamItem{Result: core.Result{"tick": i}, Done: last}:
			case <-ctx.Done():
				return
			}
			if !last && interval > 0 {
				timer := time.NewTimer(interval)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return
				}
			}
		}
	}()
	return out, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// RegisterStreaming installs Ticker.
func RegisterStreaming(cat *catalog.Catalog) {
	cat.Register(TickerType, func(id int, params map[string]any) (core.Node, error) {
		return NewTicker(id, params), nil
	})
}
