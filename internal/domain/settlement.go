package domain

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// RawSettlement is an oracle Settle log as delivered by the event source,
// before any interpretation of its payload.
type RawSettlement struct {
	TxHash           string
	LogIndex         uint
	BlockNumber      uint64
	Requester        string
	Identifier       string
	RequestTimestamp uint64
	AncillaryData    []byte
	ResolvedPrice    *big.Int // 18-decimal fixed point
}

// ID returns the "txHash:logIndex" identity of the log.
func (r RawSettlement) ID() string {
	return EventID(r.TxHash, r.LogIndex)
}

// MarketRefKind names which identifier the ancillary data carried.
type MarketRefKind string

const (
	RefConditionID MarketRefKind = "condition_id"
	RefQuestionID  MarketRefKind = "question_id"
	RefMarketID    MarketRefKind = "market_id"
)

// MarketRef is the market identifier extracted from a settlement's ancillary data.
type MarketRef struct {
	Kind  MarketRefKind
	Value string
}

func (r MarketRef) String() string {
	return string(r.Kind) + "=" + r.Value
}

// SettlementEvent is a decoded settlement. Immutable once decoded.
type SettlementEvent struct {
	TxHash           string
	LogIndex         uint
	BlockNumber      uint64
	MarketQuestionID string
	Ref              MarketRef
	Title            string
	ResolvedOutcome  decimal.Decimal // in [0, 1]
	ObservedAt       time.Time
}

// ID returns the "txHash:logIndex" identity of the event.
func (e SettlementEvent) ID() string {
	return EventID(e.TxHash, e.LogIndex)
}

// IdempotencyKey is stable for the lifetime of the event, across retries and restarts.
func (e SettlementEvent) IdempotencyKey() string {
	return IdempotencyKey(e.TxHash, e.LogIndex)
}

// EventID formats the unique identity of an oracle log.
func EventID(txHash string, logIndex uint) string {
	return fmt.Sprintf("%s:%d", txHash, logIndex)
}

// IdempotencyKey returns hex(keccak256(txHash || uint64be(logIndex))).
func IdempotencyKey(txHash string, logIndex uint) string {
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(logIndex))
	h := crypto.Keccak256(common.HexToHash(txHash).Bytes(), idx[:])
	return common.Bytes2Hex(h)
}
