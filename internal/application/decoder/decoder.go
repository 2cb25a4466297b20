// Package decoder turns raw oracle Settle logs into settlement events.
package decoder

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

const maxTitleLen = 200

var (
	// key=value or key: value, keys in order of preference.
	refPatterns = []struct {
		kind domain.MarketRefKind
		re   *regexp.Regexp
	}{
		{domain.RefConditionID, regexp.MustCompile(`(?i)\bcondition_?id\s*[:=]\s*"?([0-9a-zA-Z]+)`)},
		{domain.RefQuestionID, regexp.MustCompile(`(?i)\bquestion_?id\s*[:=]\s*"?([0-9a-zA-Z]+)`)},
		{domain.RefMarketID, regexp.MustCompile(`(?i)\bmarket_?id\s*[:=]\s*"?([0-9a-zA-Z]+)`)},
	}
	titlePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)\btitle\s*[:=]\s*(.*?)(?:,\s*[a-z_]+\s*:|$)`),
		regexp.MustCompile(`(?is)\bq\s*[:=]\s*(.*?)(?:,\s*[a-z_]+\s*:|$)`),
	}
	hex32Pattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)
	digits       = regexp.MustCompile(`^[0-9]+$`)

	// OptimisticOracleV2 returns this price for requests settled "too early".
	tooEarlyPrice = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 255))
	one           = decimal.NewFromInt(1)
)

// Decoder parses RawSettlement payloads. It holds no state besides the clock.
type Decoder struct {
	now func() time.Time
}

// New creates a Decoder. now stamps ObservedAt; nil uses time.Now.
func New(now func() time.Time) *Decoder {
	if now == nil {
		now = time.Now
	}
	return &Decoder{now: now}
}

// Decode extracts the market identifier and resolved outcome from raw.
// Every failure wraps domain.ErrDecode and is permanent for the event.
func (d *Decoder) Decode(raw domain.RawSettlement) (domain.SettlementEvent, error) {
	if !hex32Pattern.MatchString(raw.TxHash) {
		return domain.SettlementEvent{}, decodeErr(raw, "invalid tx hash %q", raw.TxHash)
	}
	if len(raw.AncillaryData) == 0 {
		return domain.SettlementEvent{}, decodeErr(raw, "empty ancillary data")
	}

	outcome, err := resolvedOutcome(raw.ResolvedPrice)
	if err != nil {
		return domain.SettlementEvent{}, decodeErr(raw, "%v", err)
	}

	// stray bytes are dropped, not fatal
	text := strings.ToValidUTF8(string(raw.AncillaryData), "")
	ref, err := parseRef(text)
	if err != nil {
		return domain.SettlementEvent{}, decodeErr(raw, "%v", err)
	}
	if ref.Value == "" {
		ref, err = adapterQuestionID(raw.AncillaryData)
		if err != nil {
			return domain.SettlementEvent{}, decodeErr(raw, "%v", err)
		}
	}

	return domain.SettlementEvent{
		TxHash:           strings.ToLower(raw.TxHash),
		LogIndex:         raw.LogIndex,
		BlockNumber:      raw.BlockNumber,
		MarketQuestionID: ref.Value,
		Ref:              ref,
		Title:            parseTitle(text),
		ResolvedOutcome:  outcome,
		ObservedAt:       d.now().UTC(),
	}, nil
}

// resolvedOutcome converts the 18-decimal oracle price to [0, 1].
func resolvedOutcome(price *big.Int) (decimal.Decimal, error) {
	if price == nil {
		return decimal.Zero, fmt.Errorf("missing resolved price")
	}
	if price.Cmp(tooEarlyPrice) == 0 {
		return decimal.Zero, fmt.Errorf("request settled too early")
	}
	v := decimal.NewFromBigInt(price, -18)
	if v.IsNegative() || v.GreaterThan(one) {
		return decimal.Zero, fmt.Errorf("resolved price %s outside [0,1]", v)
	}
	return v, nil
}

// parseRef finds the first identifier present, by preference. An empty
// Value with nil error means no identifier key was present.
func parseRef(text string) (domain.MarketRef, error) {
	for _, p := range refPatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value, err := normalize(p.kind, m[1])
		if err != nil {
			return domain.MarketRef{}, err
		}
		return domain.MarketRef{Kind: p.kind, Value: value}, nil
	}
	return domain.MarketRef{}, nil
}

func normalize(kind domain.MarketRefKind, v string) (string, error) {
	switch kind {
	case domain.RefMarketID:
		if !digits.MatchString(v) {
			return "", fmt.Errorf("malformed %s %q", kind, v)
		}
		return v, nil
	default:
		if !hex32Pattern.MatchString(v) {
			return "", fmt.Errorf("malformed %s %q", kind, v)
		}
		return "0x" + strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(v, "0x"), "0X")), nil
	}
}

// adapterQuestionID handles requests made through the UMA CTF adapter, which
// carry no explicit key: their question id is keccak256 of the ancillary data
// (the adapter appends "initializer:<address>" before requesting).
func adapterQuestionID(ancillary []byte) (domain.MarketRef, error) {
	if !strings.Contains(string(ancillary), "initializer:") {
		return domain.MarketRef{}, fmt.Errorf("no market identifier in ancillary data")
	}
	id := common.BytesToHash(crypto.Keccak256(ancillary)).Hex()
	return domain.MarketRef{Kind: domain.RefQuestionID, Value: id}, nil
}

func parseTitle(text string) string {
	for _, re := range titlePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		title := strings.TrimSpace(m[1])
		if len(title) > maxTitleLen {
			cut := maxTitleLen
			for cut > 0 && !utf8.RuneStart(title[cut]) {
				cut--
			}
			title = title[:cut]
		}
		return title
	}
	return ""
}

func decodeErr(raw domain.RawSettlement, format string, args ...any) error {
	return fmt.Errorf("decoder.Decode %s: %w: %s", raw.ID(), domain.ErrDecode, fmt.Sprintf(format, args...))
}
