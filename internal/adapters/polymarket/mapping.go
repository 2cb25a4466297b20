package polymarket

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

// mapGammaMarket convierte un gammaMarket DTO a domain.Market.
// Si clobTokenIds no trae exactamente dos tokens el mercado queda sin tokens
// y el resolver lo trata como no encontrado.
func mapGammaMarket(gm gammaMarket) domain.Market {
	m := domain.Market{
		ConditionID: strings.ToLower(gm.ConditionID),
		QuestionID:  strings.ToLower(gm.QuestionID),
		MarketID:    gm.ID,
		Question:    gm.Question,
		NegRisk:     gm.NegRisk,
		Active:      gm.Active,
		Closed:      gm.Closed,
		TickSize:    domain.DefaultTickSize,
		MinPrice:    domain.DefaultMinPrice,
		MaxPrice:    domain.DefaultMaxPrice,
	}

	if tick, err := decimal.NewFromString(gm.OrderPriceMinTickSize.String()); err == nil && tick.IsPositive() {
		m.TickSize = tick
		m.MinPrice = tick
		m.MaxPrice = decimal.NewFromInt(1).Sub(tick)
	}

	var tokenIDs, outcomes []string
	if err := decodeStringArray(gm.ClobTokenIDs, &tokenIDs); err != nil || len(tokenIDs) != 2 {
		slog.Debug("gamma: market without a token pair", "condition", gm.ConditionID, "raw", gm.ClobTokenIDs)
		return m
	}
	if err := decodeStringArray(gm.Outcomes, &outcomes); err != nil || len(outcomes) != 2 {
		outcomes = []string{"Yes", "No"}
	}
	for i := range m.Tokens {
		m.Tokens[i] = domain.Token{TokenID: tokenIDs[i], Outcome: outcomes[i]}
	}
	return m
}

// decodeStringArray decodifica un array JSON embebido en un string ("[\"a\",\"b\"]").
func decodeStringArray(raw string, out *[]string) error {
	if raw == "" {
		*out = nil
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

// mapOrderBooks convierte la respuesta batch de /books a un map tokenID→OrderBook.
func mapOrderBooks(raw []orderBookResponse) map[string]domain.OrderBook {
	result := make(map[string]domain.OrderBook, len(raw))
	for _, r := range raw {
		result[r.AssetID] = domain.OrderBook{
			TokenID:   r.AssetID,
			Bids:      mapBookEntries(r.Bids, false),
			Asks:      mapBookEntries(r.Asks, true),
			Timestamp: parseMillis(r.Timestamp),
		}
	}
	return result
}

// mapBookEntries convierte entries raw a domain.BookEntry y los ordena.
// ascending=true → menor a mayor (asks), ascending=false → mayor a menor (bids).
func mapBookEntries(raw []bookEntryRaw, ascending bool) []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(raw))
	for _, r := range raw {
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(r.Size)
		if err != nil {
			continue
		}
		if !price.IsPositive() || !size.IsPositive() {
			continue
		}
		entries = append(entries, domain.BookEntry{Price: price, Size: size})
	}

	sort.Slice(entries, func(i, j int) bool {
		if ascending {
			return entries[i].Price.LessThan(entries[j].Price)
		}
		return entries[i].Price.GreaterThan(entries[j].Price)
	})

	return entries
}

// parseMillis convierte un timestamp unix en milisegundos (o segundos) a time.Time.
func parseMillis(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ts <= 0 {
		return time.Time{}
	}
	if ts > 1e12 {
		return time.UnixMilli(ts).UTC()
	}
	return time.Unix(ts, 0).UTC()
}
