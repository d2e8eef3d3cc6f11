package catalog

import "testing"

func TestKnownAndChannels(t *testing.T) {
	if !Known("binance") {
		t.Error("expected binance to be known")
	}
	if Known("not-an-exchange") {
		t.Error("expected unknown exchange to be unknown")
	}

	if !ValidChannel("binance", "trade") {
		t.Error("expected binance/trade to be valid")
	}
	if ValidChannel("binance", "not-a-channel") {
		t.Error("expected binance/not-a-channel to be invalid")
	}
	if ValidChannel("not-an-exchange", "trade") {
		t.Error("expected unknown exchange to reject all channels")
	}
}

func TestFilterable(t *testing.T) {
	if Filterable("bitfinex") {
		t.Error("expected bitfinex to be non-filterable")
	}
	if Filterable("bitfinex-derivatives") {
		t.Error("expected bitfinex-derivatives to be non-filterable")
	}
	if !Filterable("binance") {
		t.Error("expected binance to be filterable")
	}
}

func TestExchangesSorted(t *testing.T) {
	exs := Exchanges()
	for i := 1; i < len(exs); i++ {
		if exs[i-1] > exs[i] {
			t.Fatalf("Exchanges() not sorted: %v", exs)
		}
	}
}
