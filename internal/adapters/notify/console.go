package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

// Console implementa ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
	now   func() time.Time
}

// NewConsole crea un notificador que escribe a stdout.
// table=true imprime la tabla completa; si no, una línea por lote.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table, now: time.Now}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table, now: time.Now}
}

// NotifyExecutions imprime las ejecuciones en el modo configurado.
func (c *Console) NotifyExecutions(_ context.Context, results []domain.ExecutionResult) error {
	stamp := c.now().Format("15:04:05")
	if len(results) == 0 {
		fmt.Fprintf(c.out, "[%s] no executions to report\n", stamp)
		return nil
	}

	if c.table {
		c.printFull(stamp, results)
	} else {
		c.printCompact(stamp, results)
	}
	return nil
}

// printCompact imprime lo esencial en una línea.
func (c *Console) printCompact(stamp string, results []domain.ExecutionResult) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %d exec → %s", stamp, len(results), statusCounts(results))

	shown := 0
	for _, r := range results {
		if shown >= 4 {
			fmt.Fprintf(&sb, " | +%d more", len(results)-shown)
			break
		}
		fmt.Fprintf(&sb, " | %s %s @%s x%s", shortStatus(r.Status), shortID(r.Order.TokenID),
			r.Order.Price.StringFixed(2), r.Order.Size.String())
		shown++
	}

	fmt.Fprintln(c.out, sb.String())
}

// printFull imprime la tabla y el resumen de notional.
func (c *Console) printFull(stamp string, results []domain.ExecutionResult) {
	fmt.Fprintf(c.out, "\n[%s] %d executions | %s\n", stamp, len(results), statusCounts(results))

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Status", "Event", "Token", "Side", "Price", "Size", "Notional", "Order ID", "Tries", "Completed", "Error")

	for i, r := range results {
		completed := "-"
		if !r.CompletedAt.IsZero() {
			completed = r.CompletedAt.UTC().Format("01-02 15:04:05")
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			string(r.Status),
			shortID(r.EventID),
			shortID(r.Order.TokenID),
			string(r.Order.Side),
			r.Order.Price.String(),
			r.Order.Size.String(),
			"$"+r.Order.Notional().StringFixed(2),
			orDash(shortID(r.ExchangeOrderID)),
			fmt.Sprintf("%d", r.Attempts),
			completed,
			orDash(truncate(r.Error, 40)),
		)
	}
	table.Render()

	c.printSummary(results)
}

// printSummary imprime el notional expuesto y el que requiere reconciliar.
func (c *Console) printSummary(results []domain.ExecutionResult) {
	exposed, unresolved := decimal.Zero, decimal.Zero
	for _, r := range results {
		switch {
		case r.Exposed():
			exposed = exposed.Add(r.Order.Notional())
		case r.Status == domain.StatusPending, r.Status == domain.StatusFailed && r.Attempts > 0:
			unresolved = unresolved.Add(r.Order.Notional())
		}
	}
	fmt.Fprintf(c.out, "  exposed $%s | to reconcile $%s\n", exposed.StringFixed(2), unresolved.StringFixed(2))
	if unresolved.IsPositive() {
		fmt.Fprintln(c.out, "  ! check open orders on the exchange for the rows above before rerunning")
	}
}

var statusOrder = []domain.ExecutionStatus{
	domain.StatusSubmitted,
	domain.StatusSimulated,
	domain.StatusFailed,
	domain.StatusPending,
	domain.StatusRejected,
}

func statusCounts(results []domain.ExecutionResult) string {
	counts := make(map[domain.ExecutionStatus]int)
	for _, r := range results {
		counts[r.Status]++
	}
	parts := make([]string, 0, len(statusOrder))
	for _, st := range statusOrder {
		if n := counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", shortStatus(st), n))
		}
	}
	return strings.Join(parts, " ")
}

func shortStatus(s domain.ExecutionStatus) string {
	switch s {
	case domain.StatusSubmitted:
		return "SUB"
	case domain.StatusSimulated:
		return "SIM"
	case domain.StatusFailed:
		return "FAIL"
	case domain.StatusPending:
		return "PEND"
	case domain.StatusRejected:
		return "REJ"
	}
	return string(s)
}

// shortID acorta hashes e ids largos: 0x1234ab…cdef.
func shortID(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:8] + "…" + s[len(s)-6:]
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
