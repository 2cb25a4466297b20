package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const testTx = "0x8f3e3b1c9a2d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7"

func TestIdempotencyKey_Stable(t *testing.T) {
	k1 := IdempotencyKey(testTx, 3)
	k2 := IdempotencyKey(testTx, 3)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
	assert.NotEqual(t, k1, IdempotencyKey(testTx, 4))
}

func TestSettlementEvent_Identity(t *testing.T) {
	ev := SettlementEvent{TxHash: testTx, LogIndex: 7}
	assert.Equal(t, testTx+":7", ev.ID())
	assert.Equal(t, IdempotencyKey(testTx, 7), ev.IdempotencyKey())

	raw := RawSettlement{TxHash: testTx, LogIndex: 7}
	assert.Equal(t, ev.ID(), raw.ID())
}

func TestExecutionResult_Flags(t *testing.T) {
	assert.True(t, ExecutionResult{Status: StatusSubmitted}.Exposed())
	assert.True(t, ExecutionResult{Status: StatusSimulated}.Exposed())
	assert.False(t, ExecutionResult{Status: StatusFailed}.Exposed())
	assert.True(t, ExecutionResult{Status: StatusFailed, Attempts: 2}.Attempted())
	assert.False(t, ExecutionResult{Status: StatusFailed}.Attempted())
	assert.False(t, ExecutionResult{Status: StatusRejected}.Attempted())
}
