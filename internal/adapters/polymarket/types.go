package polymarket

import "encoding/json"

// DTOs raw de la API de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// --- CLOB API ---

// orderBookRequest es el body del POST /books batch.
type orderBookRequest struct {
	TokenID string `json:"token_id"`
}

// orderBookResponse es la respuesta de un item en POST /books.
type orderBookResponse struct {
	Market    string         `json:"market"`
	AssetID   string         `json:"asset_id"`
	Timestamp string         `json:"timestamp"` // unix millis como string
	Bids      []bookEntryRaw `json:"bids"`
	Asks      []bookEntryRaw `json:"asks"`
	TickSize  string         `json:"tick_size"`
	NegRisk   bool           `json:"neg_risk"`
}

// bookEntryRaw es un nivel de precio raw de la API (strings para mayor precisión).
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// --- Gamma API ---

// gammaMarketsResponse es la respuesta de GET /markets de Gamma.
type gammaMarketsResponse []gammaMarket

// gammaMarket contiene la metadata de un mercado.
// Gamma devuelve clobTokenIds y outcomes como arrays JSON codificados en string,
// y algunos campos numéricos como strings, por eso json.Number.
type gammaMarket struct {
	ID                    string      `json:"id"`
	ConditionID           string      `json:"conditionId"`
	QuestionID            string      `json:"questionID"`
	Question              string      `json:"question"`
	Slug                  string      `json:"slug"`
	ClobTokenIDs          string      `json:"clobTokenIds"`
	Outcomes              string      `json:"outcomes"`
	OrderPriceMinTickSize json.Number `json:"orderPriceMinTickSize"`
	NegRisk               bool        `json:"negRisk"`
	EnableOrderBook       bool        `json:"enableOrderBook"`
	Active                bool        `json:"active"`
	Closed                bool        `json:"closed"`
}
