package nodeset

import (
	"context"
	"testing"

	"github.com/petal-labs/nodeflow/core"
)

func TestAssetInputCarriesSymbolAndClass(t *testing.T) {
	n := NewAssetInput(1, map[string]any{"symbol": "BTC-USD", "class": "crypto"})
	result, err := n.(core.BatchNode).Execute(context.Background(), core.Inputs{})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	sym := result["symbol"].(core.AssetSymbolValue)
	if sym.Symbol != "BTC-USD" || sym.Class != core.AssetClass("crypto") {
		t.Errorf("symbol = %+v", sym)
	}
}

func TestMarketQuoteProducesBar(t *testing.T) {
	n := NewMarketQuote(1, nil)
	sym := core.AssetSymbolValue{Symbol: "AAPL", Class: "equity"}
	result, err := n.(core.BatchNode).Execute(context.Background(), core.Inputs{"symbol": sym})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	bar := result["bar"].(map[string]any)
	if bar["symbol"] != "AAPL" {
		t.Errorf("bar[symbol] = %v, want AAPL", bar["symbol"])
	}
	if _, ok := bar["close"].(float64); !ok {
		t.Error("bar should carry a float close price")
	}
}

func TestMarketQuoteRequiredAssetClass(t *testing.T) {
	n := NewMarketQuote(1, map[string]any{"required_asset_class": "crypto"})
	schema := n.InputSchema()
	if len(schema) != 1 || schema[0].RequiredAssetClass != "crypto" {
		t.Errorf("schema = %+v", schema)
	}
}

func TestSimpleIndicatorComputesSpread(t *testing.T) {
	n := NewSimpleIndicator(1, nil)
	bar := map[string]any{"open": 100.0, "close": 102.5}
	result, err := n.(core.BatchNode).Execute(context.Background(), core.Inputs{"bar": bar})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if result["line"] != 2.5 {
		t.Errorf("line = %v, want 2.5", result["line"])
	}
}

func TestSimpleIndicatorRejectsWrongShapedInput(t *testing.T) {
	n := NewSimpleIndicator(1, nil)
	_, err := n.(core.BatchNode).Execute(context.Background(), core.Inputs{"bar": "not a bar"})
	if err == nil {
		t.Fatal("expected an error for a non-mapping bar input")
	}
}
