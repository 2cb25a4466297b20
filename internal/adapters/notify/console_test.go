package notify_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/settlebot/internal/adapters/notify"
	"github.com/alejandrodnm/settlebot/internal/domain"
)

func makeResult(status domain.ExecutionStatus, price, size string, attempts int) domain.ExecutionResult {
	return domain.ExecutionResult{
		EventID: "0x" + strings.Repeat("ab", 32) + ":3",
		Order: domain.OrderRequest{
			TokenID:        "71321045679252212594626385532706912750332728571942532289631379312455583992563",
			Side:           domain.SideBuy,
			Price:          decimal.RequireFromString(price),
			Size:           decimal.RequireFromString(size),
			IdempotencyKey: "k",
		},
		Status:      status,
		Attempts:    attempts,
		CompletedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestConsole_NotifyExecutions_Table(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	failed := makeResult(domain.StatusFailed, "0.50", "20", 3)
	failed.Error = "submission failed: 503"
	results := []domain.ExecutionResult{
		makeResult(domain.StatusSubmitted, "0.88", "11.36", 1),
		failed,
	}

	err := n.NotifyExecutions(context.Background(), results)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "SUB:1 FAIL:1")
	assert.Contains(t, out, "SUBMITTED")
	assert.Contains(t, out, "0.88")
	assert.Contains(t, out, "$10.00")
	assert.Contains(t, out, "exposed $10.00 | to reconcile $10.00")
	assert.Contains(t, out, "submission failed")
}

func TestConsole_NotifyExecutions_Compact(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)

	results := []domain.ExecutionResult{makeResult(domain.StatusSimulated, "0.88", "11.36", 0)}
	require.NoError(t, n.NotifyExecutions(context.Background(), results))

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "SIM:1")
	assert.Contains(t, out, "@0.88 x11.36")
	assert.Contains(t, out, "…", "long token ids are shortened")
}

func TestConsole_NotifyExecutions_Empty(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	require.NoError(t, n.NotifyExecutions(context.Background(), nil))
	assert.Contains(t, buf.String(), "no executions to report")
}
