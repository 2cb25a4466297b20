package onchain

// oracle.go — Settle events of the UMA OptimisticOracleV2 on Polygon.
//
// The UMA CTF adapter used by Polymarket requests prices from the OOv2;
// every finalized request emits:
//
//   Settle(address indexed requester, address indexed proposer,
//          address indexed disputer, bytes32 identifier, uint256 timestamp,
//          bytes ancillaryData, int256 price, uint256 payout)

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

// DefaultOracleAddress is the OptimisticOracleV2 on Polygon.
const DefaultOracleAddress = "0xeE3Afe347D5C74317041E2618C49534dAf887c24"

var (
	oracleABI   abi.ABI
	settleTopic common.Hash
)

func init() {
	var err error
	oracleABI, err = abi.JSON(strings.NewReader(`[
		{
			"anonymous": false,
			"name": "Settle",
			"type": "event",
			"inputs": [
				{"indexed": true,  "name": "requester",     "type": "address"},
				{"indexed": true,  "name": "proposer",      "type": "address"},
				{"indexed": true,  "name": "disputer",      "type": "address"},
				{"indexed": false, "name": "identifier",    "type": "bytes32"},
				{"indexed": false, "name": "timestamp",     "type": "uint256"},
				{"indexed": false, "name": "ancillaryData", "type": "bytes"},
				{"indexed": false, "name": "price",         "type": "int256"},
				{"indexed": false, "name": "payout",        "type": "uint256"}
			]
		}
	]`))
	if err != nil {
		panic("oracle abi parse: " + err.Error())
	}
	settleTopic = oracleABI.Events["Settle"].ID
}

// settleData holds the non-indexed fields of a Settle log.
type settleData struct {
	Identifier    [32]byte
	Timestamp     *big.Int
	AncillaryData []byte
	Price         *big.Int
	Payout        *big.Int
}

// chainReader is the subset of ethclient.Client the oracle needs.
type chainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// OracleClient implements ports.EventSource over a JSON-RPC endpoint.
type OracleClient struct {
	chain  chainReader
	oracle common.Address
}

// NewOracleClient wraps an existing RPC client.
func NewOracleClient(client *ethclient.Client, oracleAddress string) (*OracleClient, error) {
	return newOracleClient(client, oracleAddress)
}

func newOracleClient(chain chainReader, oracleAddress string) (*OracleClient, error) {
	if oracleAddress == "" {
		oracleAddress = DefaultOracleAddress
	}
	if !common.IsHexAddress(oracleAddress) {
		return nil, fmt.Errorf("onchain.NewOracleClient: %w: invalid oracle address %q", domain.ErrFatalConfig, oracleAddress)
	}
	return &OracleClient{chain: chain, oracle: common.HexToAddress(oracleAddress)}, nil
}

// Dial connects to the Polygon RPC.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain.Dial %s: %w", rpcURL, err)
	}
	return client, nil
}

// LatestBlock returns the chain head.
func (oc *OracleClient) LatestBlock(ctx context.Context) (uint64, error) {
	n, err := oc.chain.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("onchain.LatestBlock: %w", classify(err))
	}
	return n, nil
}

// FetchSettlements returns every Settle log in [from, to], in chain order.
// Logs that fail to unpack are dropped with a warning; a malformed log is
// not a reason to stall the cursor.
func (oc *OracleClient) FetchSettlements(ctx context.Context, from, to uint64) ([]domain.RawSettlement, error) {
	logs, err := oc.chain.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{oc.oracle},
		Topics:    [][]common.Hash{{settleTopic}},
	})
	if err != nil {
		return nil, fmt.Errorf("onchain.FetchSettlements %d-%d: %w", from, to, classify(err))
	}

	out := make([]domain.RawSettlement, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		raw, err := decodeSettle(lg)
		if err != nil {
			slog.Warn("onchain: undecodable Settle log",
				"tx", lg.TxHash.Hex(),
				"log_index", lg.Index,
				"err", err,
			)
			continue
		}
		out = append(out, raw)
	}
	return out, nil
}

func decodeSettle(lg types.Log) (domain.RawSettlement, error) {
	if len(lg.Topics) < 2 || lg.Topics[0] != settleTopic {
		return domain.RawSettlement{}, errors.New("not a Settle log")
	}

	var data settleData
	if err := oracleABI.UnpackIntoInterface(&data, "Settle", lg.Data); err != nil {
		return domain.RawSettlement{}, fmt.Errorf("unpack: %w", err)
	}

	var ts uint64
	if data.Timestamp != nil && data.Timestamp.IsUint64() {
		ts = data.Timestamp.Uint64()
	}

	return domain.RawSettlement{
		TxHash:           lg.TxHash.Hex(),
		LogIndex:         lg.Index,
		BlockNumber:      lg.BlockNumber,
		Requester:        common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
		Identifier:       identifierString(data.Identifier),
		RequestTimestamp: ts,
		AncillaryData:    data.AncillaryData,
		ResolvedPrice:    data.Price,
	}, nil
}

// identifierString renders a bytes32 price identifier such as "YES_OR_NO_QUERY".
func identifierString(id [32]byte) string {
	return strings.TrimRight(string(id[:]), "\x00")
}

// classify marks RPC failures as transient. Cancellation passes through.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTransient, err)
}
