package common

import (
	"strings"
	"testing"

	"coin-shop-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

func TestParseCatalog(t *testing.T) {
	data := []byte(`
items:
  - id: mug
    name: GDSC Mug
    category: merch
    coin_price: 60
    stock: 10
  - id: sticker-pack
    name: Sticker Pack
    coin_price: 15
    stock: 0
`)
	items, err := ParseCatalog(data)
	if err != nil {
		t.Fatalf("ParseCatalog failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	params := items[0].Params()
	if params.Id != "mug" || params.CoinPrice != 60 || params.Stock != 10 || params.Category != "merch" {
		t.Errorf("Unexpected params: %+v", params)
	}
}

func TestParseCatalogRejectsInvalidItems(t *testing.T) {
	tests := map[string]string{
		"missing id":     "items:\n  - name: Mug\n    coin_price: 5\n",
		"zero price":     "items:\n  - id: mug\n    name: Mug\n    coin_price: 0\n",
		"negative stock": "items:\n  - id: mug\n    name: Mug\n    coin_price: 5\n    stock: -1\n",
		"duplicate id":   "items:\n  - id: mug\n    name: Mug\n    coin_price: 5\n  - id: mug\n    name: Mug 2\n    coin_price: 5\n",
	}
	for name, data := range tests {
		if _, err := ParseCatalog([]byte(data)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestFormatCoins(t *testing.T) {
	tests := []struct {
		coins int64
		want  string
	}{
		{0, "0 coins"},
		{999, "999 coins"},
		{12500, "12,500 coins"},
		{1234567, "1,234,567 coins"},
		{-4000, "-4,000 coins"},
	}
	for _, tt := range tests {
		if got := FormatCoins(tt.coins); got != tt.want {
			t.Errorf("FormatCoins(%d) = %q, want %q", tt.coins, got, tt.want)
		}
	}
}

func TestProgressBar(t *testing.T) {
	bar := ProgressBar(models.RankProgress{ProgressPercent: decimal.NewFromInt(50)}, 10)
	if !strings.HasPrefix(bar, "[█████░░░░░]") || !strings.HasSuffix(bar, "50.0%") {
		t.Errorf("Unexpected bar: %q", bar)
	}
}
