package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

const gammaMarketsPath = "/markets"

// LookupMarket busca en Gamma el mercado que identifica ref.
// Implementa ports.MarketCatalog.
//
// Lista vacía o 4xx → domain.ErrNotFound. 429, 5xx y errores de red agotados
// los reintentos → domain.ErrTransient.
func (c *Client) LookupMarket(ctx context.Context, ref domain.MarketRef) (domain.Market, error) {
	q := url.Values{}
	switch ref.Kind {
	case domain.RefConditionID:
		q.Set("condition_ids", ref.Value)
	case domain.RefQuestionID:
		q.Set("question_ids", ref.Value)
	case domain.RefMarketID:
		q.Set("id", ref.Value)
	default:
		return domain.Market{}, fmt.Errorf("gamma.LookupMarket %s: %w: unsupported identifier", ref, domain.ErrNotFound)
	}
	q.Set("limit", "1")

	u := c.gammaBase + gammaMarketsPath + "?" + q.Encode()

	var resp gammaMarketsResponse
	if err := c.get(ctx, c.gammaLimiter, u, &resp); err != nil {
		if statusCode(err) != 0 {
			return domain.Market{}, fmt.Errorf("gamma.LookupMarket %s: %w: %w", ref, domain.ErrNotFound, err)
		}
		return domain.Market{}, fmt.Errorf("gamma.LookupMarket %s: %w", ref, err)
	}

	for _, gm := range resp {
		if !matches(gm, ref) {
			continue
		}
		m := mapGammaMarket(gm)
		slog.Debug("gamma: market resolved",
			"ref", ref.String(),
			"condition", m.ConditionID,
			"neg_risk", m.NegRisk,
			"tick", m.TickSize.String(),
		)
		return m, nil
	}
	return domain.Market{}, fmt.Errorf("gamma.LookupMarket %s: %w", ref, domain.ErrNotFound)
}

// matches descarta resultados que Gamma devuelve cuando ignora el filtro.
func matches(gm gammaMarket, ref domain.MarketRef) bool {
	switch ref.Kind {
	case domain.RefConditionID:
		return strings.EqualFold(gm.ConditionID, ref.Value)
	case domain.RefQuestionID:
		return strings.EqualFold(gm.QuestionID, ref.Value)
	case domain.RefMarketID:
		return gm.ID == ref.Value
	}
	return false
}
