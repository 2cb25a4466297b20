package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderBook representa el libro de órdenes de un token.
type OrderBook struct {
	TokenID   string
	Bids      []BookEntry // ordenados mayor a menor precio
	Asks      []BookEntry // ordenados menor a mayor precio
	Timestamp time.Time   // momento del snapshot según el feed (zero si no lo informa)
}

// BookEntry es un nivel de precio en el orderbook.
type BookEntry struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Empty devuelve true si el book no tiene niveles en ningún lado.
func (ob OrderBook) Empty() bool {
	return len(ob.Bids) == 0 && len(ob.Asks) == 0
}

// BestBid devuelve el mejor precio de compra (mayor bid).
// ok=false si no hay bids.
func (ob OrderBook) BestBid() (decimal.Decimal, bool) {
	if len(ob.Bids) == 0 {
		return decimal.Zero, false
	}
	return ob.Bids[0].Price, true
}

// BestAsk devuelve el mejor precio de venta (menor ask).
// ok=false si no hay asks.
func (ob OrderBook) BestAsk() (decimal.Decimal, bool) {
	if len(ob.Asks) == 0 {
		return decimal.Zero, false
	}
	return ob.Asks[0].Price, true
}

// Midpoint devuelve el punto medio entre best bid y best ask.
// Solo está definido con ambos lados cotizados.
func (ob OrderBook) Midpoint() (decimal.Decimal, bool) {
	bid, okBid := ob.BestBid()
	ask, okAsk := ob.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// ImpliedPrice devuelve la probabilidad implícita del token:
// midpoint si hay dos lados, best bid si solo hay bids, best ask si solo hay asks.
func (ob OrderBook) ImpliedPrice() (decimal.Decimal, bool) {
	if mid, ok := ob.Midpoint(); ok {
		return mid, true
	}
	if bid, ok := ob.BestBid(); ok {
		return bid, true
	}
	return ob.BestAsk()
}

// Spread devuelve el spread del book (ask - bid), o cero si falta un lado.
func (ob OrderBook) Spread() decimal.Decimal {
	bid, okBid := ob.BestBid()
	ask, okAsk := ob.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero
	}
	return ask.Sub(bid)
}

// BidDepth suma el tamaño (en shares) de los primeros levels niveles de bids.
// levels <= 0 suma todo el lado.
func (ob OrderBook) BidDepth(levels int) decimal.Decimal {
	return sumSize(ob.Bids, levels)
}

// AskDepth suma el tamaño (en shares) de los primeros levels niveles de asks.
func (ob OrderBook) AskDepth(levels int) decimal.Decimal {
	return sumSize(ob.Asks, levels)
}

func sumSize(entries []BookEntry, levels int) decimal.Decimal {
	if levels <= 0 || levels > len(entries) {
		levels = len(entries)
	}
	total := decimal.Zero
	for _, e := range entries[:levels] {
		total = total.Add(e.Size)
	}
	return total
}

// MarketSnapshot agrupa los books de ambos tokens de un mercado leídos en un
// mismo instante. Es de solo lectura: el pipeline nunca lo modifica.
type MarketSnapshot struct {
	ConditionID string
	Yes         OrderBook
	No          OrderBook
	ObservedAt  time.Time
}

// Book devuelve el book del token que paga si el outcome es yes (o no).
func (s MarketSnapshot) Book(yes bool) OrderBook {
	if yes {
		return s.Yes
	}
	return s.No
}

// NewMarketSnapshot arma un snapshot a partir de los books de ambos tokens.
// ObservedAt es el más viejo de los dos timestamps; si el feed no informa
// timestamp se usa fetchedAt.
func NewMarketSnapshot(conditionID string, yes, no OrderBook, fetchedAt time.Time) MarketSnapshot {
	observed := fetchedAt
	for _, ts := range []time.Time{yes.Timestamp, no.Timestamp} {
		if !ts.IsZero() && ts.Before(observed) {
			observed = ts
		}
	}
	return MarketSnapshot{
		ConditionID: conditionID,
		Yes:         yes,
		No:          no,
		ObservedAt:  observed,
	}
}
