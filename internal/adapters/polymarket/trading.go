package polymarket

// trading.go — Order submission via Polymarket CLOB API.
//
// Implements ports.OrderExecutor using AuthClient for L1/L2 auth.
// Every order is a GTC limit BUY at the tick-rounded entry price.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

// clobOrderRequest is the JSON body sent to POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

// TradingClient implements ports.OrderExecutor.
type TradingClient struct {
	auth *AuthClient
}

// NewTradingClient creates a TradingClient.
func NewTradingClient(auth *AuthClient) *TradingClient {
	return &TradingClient{auth: auth}
}

// PlaceOrder signs and submits req to the CLOB.
//
// Errors: a 4xx, a signing failure or an exchange-side rejection wrap
// domain.ErrOrderValidation; network failures, 429 and 5xx wrap
// domain.ErrTransient.
func (tc *TradingClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.PlacedOrder, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("trading.PlaceOrder: creds: %w", err)
	}

	signed, err := tc.auth.buildSignedOrder(req)
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("trading.PlaceOrder: %w: sign: %w", domain.ErrOrderValidation, err)
	}

	orderType := req.OrderType
	if orderType == "" {
		orderType = domain.OrderTypeGTC
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       req.TokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          string(req.Side),
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     tc.auth.apiKey(),
		OrderType: orderType,
	}

	var resp clobOrderResponse
	if err := tc.auth.doL2(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		if statusCode(err) != 0 {
			return domain.PlacedOrder{}, fmt.Errorf("trading.PlaceOrder: %w: %w", domain.ErrOrderValidation, err)
		}
		return domain.PlacedOrder{}, fmt.Errorf("trading.PlaceOrder: %w", err)
	}

	if !resp.Success || resp.ErrorMsg != "" {
		return domain.PlacedOrder{}, fmt.Errorf("trading.PlaceOrder: %w: clob error: %s", domain.ErrOrderValidation, resp.ErrorMsg)
	}

	return domain.PlacedOrder{
		ExchangeOrderID: resp.OrderID,
		Status:          resp.Status,
	}, nil
}
