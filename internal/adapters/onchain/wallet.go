package onchain

// wallet.go — read-only checks of the trading wallet before live mode starts.
//
// A BUY on the CLOB settles in USDC.e, so the funder needs both a balance and
// an ERC20 allowance for the exchange contract that will match the order
// (the regular CTF exchange or the neg-risk exchange).

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	// USDC.e collateral on Polygon
	usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

	// Exchanges that pull collateral on BUY
	NormalExchange  = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	NegRiskExchange = "0xC5d563A36AE78145C45a50134d48A1215220f80a"

	usdcDecimals = 6
)

var erc20ABI abi.ABI

func init() {
	var err error
	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "balanceOf",
			"type": "function",
			"inputs": [{"name": "account", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "allowance",
			"type": "function",
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"outputs": [{"name": "", "type": "uint256"}]
		}
	]`))
	if err != nil {
		panic("erc20 abi parse: " + err.Error())
	}
}

// contractCaller is the subset of ethclient.Client the wallet needs.
type contractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Wallet reads collateral state for one address.
type Wallet struct {
	chain   contractCaller
	address common.Address
	token   common.Address
}

// NewWallet creates a Wallet for the funder address.
func NewWallet(chain contractCaller, address common.Address) *Wallet {
	return &Wallet{chain: chain, address: address, token: common.HexToAddress(usdcEAddress)}
}

// Address returns the funder address.
func (w *Wallet) Address() common.Address {
	return w.address
}

// Balance returns the USDC.e balance in dollars.
func (w *Wallet) Balance(ctx context.Context) (decimal.Decimal, error) {
	raw, err := w.callUint(ctx, "balanceOf", w.address)
	if err != nil {
		return decimal.Zero, fmt.Errorf("onchain.Balance: %w", err)
	}
	return decimal.NewFromBigInt(raw, -usdcDecimals), nil
}

// Allowance returns how much USDC.e the exchange may pull, in dollars.
func (w *Wallet) Allowance(ctx context.Context, negRisk bool) (decimal.Decimal, error) {
	spender := common.HexToAddress(NormalExchange)
	if negRisk {
		spender = common.HexToAddress(NegRiskExchange)
	}
	raw, err := w.callUint(ctx, "allowance", w.address, spender)
	if err != nil {
		return decimal.Zero, fmt.Errorf("onchain.Allowance %s: %w", spender.Hex(), err)
	}
	return decimal.NewFromBigInt(raw, -usdcDecimals), nil
}

// callUint runs a view call on the token that returns a single uint256.
func (w *Wallet) callUint(ctx context.Context, method string, args ...any) (*big.Int, error) {
	callData, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	result, err := w.chain.CallContract(ctx, ethereum.CallMsg{
		To:   &w.token,
		Data: callData,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, classify(err))
	}

	vals, err := erc20ABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	n, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected type %T", method, vals[0])
	}
	return n, nil
}
