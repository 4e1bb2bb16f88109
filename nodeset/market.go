package nodeset

import (
	"context"
	"fmt"

	"github.com/petal-labs/nodeflow/catalog"
	"github.com/petal-labs/nodeflow/core"
)

// AssetInputType is a zero-input node producing an AssetSymbol value from
// its params (e.g. {"symbol": "BTC-USD", "class": "crypto"}). Real
// market-data fetching is out of scope; this node only
// carries the identifier through the graph for downstream nodes to key on.
const AssetInputType = "AssetInput"

type assetInputNode struct {
	core.BaseNode
}

func NewAssetInput(id int, params map[string]any) core.Node {
	outputs := []core.OutputSlot{{Name: "symbol", Type: core.TypeAssetSymbol}}
	return &assetInputNode{BaseNode: core.NewBaseNode(id, nil, outputs, params)}
}

func (n *assetInputNode) Execute(ctx context.Context, inputs core.Inputs) (core.Result, error) {
	symbol, _ := n.Params()["symbol"].(string)
	class, _ := n.Params()["class"].(string)
	return core.Result{"symbol": core.AssetSymbolValue{Symbol: symbol, Class: core.AssetClass(class)}}, nil
}

// MarketQuoteType is a stub data-provider node: given an AssetSymbol input
// (optionally constrained to RequiredAssetClass), it produces a fixed OHLCV
// bar. The real market-data REST specifics (Binance/Polygon) are an
// external collaborator out of this engine's scope.
const MarketQuoteType = "MarketQuote"

type marketQuoteNode struct {
	core.BaseNode
}

func NewMarketQuote(id int, params map[string]any) core.Node {
	requiredClass, _ := params["required_asset_class"].(string)
	inputs := []core.InputSlot{
		{Name: "symbol", Type: core.TypeAssetSymbol, RequiredAssetClass: core.AssetClass(requiredClass)},
	}
	outputs := []core.OutputSlot{{Name: "bar", Type: core.TypeOHLCV}}
	return &marketQuoteNode{BaseNode: core.NewBaseNode(id, inputs, outputs, params)}
}

func (n *marketQuoteNode) Execute(ctx context.Context, inputs core.Inputs) (core.Result, error) {
	sym, _ := inputs["symbol"].(core.AssetSymbolValue)
	bar := map[string]any{
		"symbol": sym.Symbol,
		"open":   100.0, "high": 101.0, "low": 99.0, "close": 100.5, "volume": 1000.0,
	}
	return core.Result{"bar": bar}, nil
}

// SimpleIndicatorType computes a single representative derived value from
// an OHLCV bar (close-open spread) rather than any of the named indicator
// formulas the out-of-scope list calls out by name (ADX, RSI, ATR, MESA
// stochastic, Hurst, VBP, moving averages).
const SimpleIndicatorType = "SimpleIndicator"

type simpleIndicatorNode struct {
	core.BaseNode
}

func NewSimpleIndicator(id int, params map[string]any) core.Node {
	inputs := []core.InputSlot{{Name: "bar", Type: core.TypeOHLCV}}
	outputs := []core.OutputSlot{{Name: "line", Type: core.TypeIndicatorLine}}
	return &simpleIndicatorNode{BaseNode: core.NewBaseNode(id, inputs, outputs, params)}
}

func (n *simpleIndicatorNode) Execute(ctx context.Context, inputs core.Inputs) (core.Result, error) {
	bar, ok := inputs["bar"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("bar input not an OHLCV mapping")
	}
	close, _ := bar["close"].(float64)
	open, _ := bar["open"].(float64)
	return core.Result{"line": close - open}, nil
}

// RegisterMarket installs AssetInput, MarketQuote, and SimpleIndicator.
func RegisterMarket(cat *catalog.Catalog) {
	cat.Register(AssetInputType, func(id int, params map[string]any) (core.Node, error) {
		return NewAssetInput(id, params), nil
	})
	cat.Register(MarketQuoteType, func(id int, params map[string]any) (core.Node, error) {
		return NewMarketQuote(id, params), nil
	})
	cat.Register(SimpleIndicatorType, func(id int, params map[string]any) (core.Node, error) {
		return NewSimpleIndicator(id, params), nil
	})
}
