package polymarket

// auth.go — Polymarket CLOB authenticated client.
//
// Implements two-level authentication:
//   L1: EIP-712 signature with wallet private key → derive API credentials
//   L2: HMAC-SHA256 signing of every authenticated request

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/polymarket/go-order-utils/pkg/builder"
	gomodel "github.com/polymarket/go-order-utils/pkg/model"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

const (
	polygonChainID = int64(137)

	// CLOB EIP-712 auth domain
	clobDomainName    = "ClobAuthDomain"
	clobDomainVersion = "1"
	// Message signed for deriving API keys
	clobAuthMessage = "This message attests that I control the given wallet"

	// Taker address: zero address = public order
	zeroAddress = "0x0000000000000000000000000000000000000000"

	// USDC.e and conditional tokens both use 6 decimals on-chain.
	amountDecimals = 6
)

// apiCredentials holds the CLOB API credentials derived from a wallet.
type apiCredentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// AuthClient wraps the base Client with L1/L2 auth capabilities.
type AuthClient struct {
	*Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	now        func() time.Time

	mu    sync.Mutex
	creds *apiCredentials
}

// NewAuthClient creates an authenticated trading client on top of base.
// privateKeyHex may carry a 0x prefix.
func NewAuthClient(base *Client, privateKeyHex string) (*AuthClient, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("auth: %w: invalid private key", domain.ErrFatalConfig)
	}

	return &AuthClient{
		Client:     base,
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		now:        time.Now,
	}, nil
}

// Address returns the wallet address.
func (ac *AuthClient) Address() common.Address {
	return ac.address
}

// EnsureCreds derives API credentials via L1 auth. Called once on startup;
// credentials are cached for the life of the process.
func (ac *AuthClient) EnsureCreds(ctx context.Context) error {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if ac.creds != nil {
		return nil
	}

	ts := strconv.FormatInt(ac.now().Unix(), 10)
	sig, err := ac.signClobAuth(ts, "0")
	if err != nil {
		return fmt.Errorf("auth: sign l1: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ac.clobBase+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("auth: derive-api-key request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", ac.address.Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", ts)
	req.Header.Set("POLY_NONCE", "0")

	body, err := ac.send(req)
	if err != nil {
		return fmt.Errorf("auth: derive-api-key: %w", err)
	}

	var creds apiCredentials
	if err := json.Unmarshal(body, &creds); err != nil {
		return fmt.Errorf("auth: parse creds: %w", err)
	}
	if creds.APIKey == "" || creds.Secret == "" {
		return errors.New("auth: derive-api-key returned empty credentials")
	}
	ac.creds = &creds
	return nil
}

func (ac *AuthClient) apiKey() string {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if ac.creds == nil {
		return ""
	}
	return ac.creds.APIKey
}

// EIP-712 type hashes (computed once).
var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId)",
	))
	clobAuthTypeHash = crypto.Keccak256Hash([]byte(
		"ClobAuth(address address,string timestamp,uint256 nonce,string message)",
	))
	clobAuthDomainSeparator = func() common.Hash {
		var buf []byte
		buf = append(buf, eip712DomainTypeHash.Bytes()...)
		buf = append(buf, crypto.Keccak256Hash([]byte(clobDomainName)).Bytes()...)
		buf = append(buf, crypto.Keccak256Hash([]byte(clobDomainVersion)).Bytes()...)
		buf = append(buf, common.LeftPadBytes(big.NewInt(polygonChainID).Bytes(), 32)...)
		return crypto.Keccak256Hash(buf)
	}()
)

// signClobAuth signs the ClobAuth EIP-712 typed data for L1 auth.
func (ac *AuthClient) signClobAuth(timestamp, nonce string) (string, error) {
	nonceInt, ok := new(big.Int).SetString(nonce, 10)
	if !ok {
		return "", fmt.Errorf("invalid nonce: %s", nonce)
	}

	structHash := crypto.Keccak256Hash(
		clobAuthTypeHash.Bytes(),
		common.LeftPadBytes(ac.address.Bytes(), 32),
		crypto.Keccak256([]byte(timestamp)),
		common.LeftPadBytes(nonceInt.Bytes(), 32),
		crypto.Keccak256([]byte(clobAuthMessage)),
	)
	msgHash := crypto.Keccak256Hash([]byte{0x19, 0x01}, clobAuthDomainSeparator.Bytes(), structHash.Bytes())

	sig, err := crypto.Sign(msgHash.Bytes(), ac.privateKey)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// l2Headers returns the authenticated headers for L2 API calls.
func (ac *AuthClient) l2Headers(method, path, body string) (map[string]string, error) {
	ac.mu.Lock()
	creds := ac.creds
	ac.mu.Unlock()
	if creds == nil {
		return nil, errors.New("auth: credentials not derived yet")
	}

	ts := strconv.FormatInt(ac.now().Unix(), 10)
	msg := ts + strings.ToUpper(method) + path + body

	secretBytes, err := base64.URLEncoding.DecodeString(creds.Secret)
	if err != nil {
		return nil, fmt.Errorf("auth: decode secret: %w", err)
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(msg))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"POLY_ADDRESS":    ac.address.Hex(),
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  ts,
		"POLY_API_KEY":    creds.APIKey,
		"POLY_PASSPHRASE": creds.Passphrase,
	}, nil
}

// doL2 executes one authenticated L2 request, without retries.
func (ac *AuthClient) doL2(ctx context.Context, method, path string, reqBody, out any) error {
	var bodyStr string
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		bodyStr = string(b)
	}

	if err := ac.orderLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	headers, err := ac.l2Headers(method, path, bodyStr)
	if err != nil {
		return err
	}

	var bodyReader io.Reader
	if bodyStr != "" {
		bodyReader = strings.NewReader(bodyStr)
	}
	req, err := http.NewRequestWithContext(ctx, method, ac.clobBase+path, bodyReader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	respBody, err := ac.send(req)
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// send performs req once and classifies the outcome like doWithRetry does.
func (ac *AuthClient) send(req *http.Request) ([]byte, error) {
	resp, err := ac.http.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, ctxErr(req.Context())
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrTransient, resp.StatusCode, body)
	case resp.StatusCode >= 400:
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// buildSignedOrder creates an EIP-712 signed BUY order for req.
//
// Amounts are exact: takerAmount = shares·1e6 and makerAmount = price·shares·1e6.
// The CLOB verifies makerAmount == price × takerAmount. The salt is derived
// from the idempotency key, so a resubmission produces the same order hash.
func (ac *AuthClient) buildSignedOrder(req domain.OrderRequest) (*gomodel.SignedOrder, error) {
	maker := req.Price.Mul(req.Size).Shift(amountDecimals)
	taker := req.Size.Shift(amountDecimals)
	if !maker.IsInteger() || !taker.IsInteger() {
		return nil, fmt.Errorf("amounts not representable: price=%s size=%s", req.Price, req.Size)
	}
	if !maker.IsPositive() || !taker.IsPositive() {
		return nil, fmt.Errorf("invalid amounts: maker=%s taker=%s", maker, taker)
	}
	if req.Side != domain.SideBuy {
		return nil, fmt.Errorf("unsupported side %q", req.Side)
	}

	verifyingContract := gomodel.CTFExchange
	if req.NegRisk {
		verifyingContract = gomodel.NegRiskCTFExchange
	}

	orderData := &gomodel.OrderData{
		Maker:         ac.address.Hex(),
		Taker:         zeroAddress,
		TokenId:       req.TokenID,
		MakerAmount:   maker.String(),
		TakerAmount:   taker.String(),
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        ac.address.Hex(),
		Expiration:    "0",
		Side:          gomodel.BUY,
		SignatureType: gomodel.EOA,
	}

	salt := saltFromKey(req.IdempotencyKey)
	ob := builder.NewExchangeOrderBuilderImpl(big.NewInt(polygonChainID), func() int64 { return salt })
	signed, err := ob.BuildSignedOrder(ac.privateKey, orderData, verifyingContract)
	if err != nil {
		return nil, fmt.Errorf("build signed order: %w", err)
	}
	return signed, nil
}

// saltFromKey takes the first 4 bytes of the hex idempotency key. The CLOB
// parses the salt as a JSON number, so it stays below 2^32.
func saltFromKey(key string) int64 {
	b, err := hex.DecodeString(strings.TrimPrefix(key, "0x"))
	if err != nil || len(b) < 4 {
		return int64(binary.BigEndian.Uint32(crypto.Keccak256([]byte(key))[:4]))
	}
	return int64(binary.BigEndian.Uint32(b[:4]))
}
