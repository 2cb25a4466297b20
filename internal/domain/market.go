package domain

import "github.com/shopspring/decimal"

var (
	// DefaultTickSize se usa cuando el catálogo no informa el tick del mercado.
	DefaultTickSize = decimal.RequireFromString("0.01")
	// DefaultMinPrice y DefaultMaxPrice son los límites que acepta el CLOB.
	DefaultMinPrice = decimal.RequireFromString("0.01")
	DefaultMaxPrice = decimal.RequireFromString("0.99")
)

// Market representa un mercado de predicción binario en Polymarket.
// El pipeline lo consulta pero nunca es dueño de él.
type Market struct {
	ConditionID string
	QuestionID  string
	MarketID    string // id numérico de Gamma
	Question    string
	Tokens      [2]Token
	TickSize    decimal.Decimal
	NegRisk     bool
	MinPrice    decimal.Decimal
	MaxPrice    decimal.Decimal
	Active      bool
	Closed      bool
}

// Token es uno de los dos lados del mercado (YES/NO).
type Token struct {
	TokenID string
	Outcome string // "Yes" | "No"
}

// YesToken devuelve el token YES del mercado.
func (m Market) YesToken() Token {
	for _, t := range m.Tokens {
		if t.Outcome == "Yes" {
			return t
		}
	}
	return m.Tokens[0]
}

// NoToken devuelve el token NO del mercado.
func (m Market) NoToken() Token {
	for _, t := range m.Tokens {
		if t.Outcome == "No" {
			return t
		}
	}
	return m.Tokens[1]
}

// Tick devuelve el tick size efectivo del mercado.
func (m Market) Tick() decimal.Decimal {
	if m.TickSize.IsPositive() {
		return m.TickSize
	}
	return DefaultTickSize
}

// PriceBounds devuelve [min, max] de precio aceptado para órdenes.
func (m Market) PriceBounds() (decimal.Decimal, decimal.Decimal) {
	lo, hi := m.MinPrice, m.MaxPrice
	if !lo.IsPositive() {
		lo = DefaultMinPrice
	}
	if !hi.IsPositive() {
		hi = DefaultMaxPrice
	}
	return lo, hi
}

// TruncateQuestion devuelve la pregunta del mercado truncada a maxLen caracteres.
// Si la pregunta está vacía usa los primeros caracteres del conditionID como fallback.
func TruncateQuestion(question, conditionID string, maxLen int) string {
	q := question
	if q == "" {
		if len(conditionID) > 20 {
			q = conditionID[:20] + "..."
		} else {
			q = conditionID
		}
	}
	if len(q) > maxLen {
		q = q[:maxLen-3] + "..."
	}
	return q
}
