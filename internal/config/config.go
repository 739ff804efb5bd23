package config

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// Environment keys understood by the payment config. The X402_ prefix is part
// of the external contract and matches what operators already have in .env files.
const (
	KeyPayerPrivateKey = "X402_PAYER_PRIVATE_KEY"
	KeyPayerAddress    = "X402_PAYER_ADDRESS"
	KeyReceiverAddress = "X402_RECEIVER_ADDRESS"
	KeyFacilitatorURL  = "X402_FACILITATOR_URL"
	KeyAmount          = "X402_PAYMENT_AMOUNT"
	KeyTimeoutSeconds  = "X402_PAYMENT_TIMEOUT_SECONDS"
	KeyBackdateSeconds = "X402_PAYMENT_BACKDATE_SECONDS"
	KeyResource        = "X402_PAYMENT_RESOURCE"
	KeyDescription     = "X402_PAYMENT_DESCRIPTION"
	KeyMimeType        = "X402_PAYMENT_MIME_TYPE"
	KeyTokenDecimals   = "X402_PAYMENT_TOKEN_DECIMALS"
	KeyAssetAddress    = "X402_PAYMENT_ASSET_ADDRESS"
	KeyTokenName       = "X402_PAYMENT_TOKEN_NAME"
	KeyTokenVersion    = "X402_PAYMENT_TOKEN_VERSION"
	KeyChainID         = "X402_PAYMENT_CHAIN_ID"
	KeyNetwork         = "X402_PAYMENT_NETWORK"

	// KeyLogLevel is read by the CLI before the config is loaded, so it is not
	// part of FromMap.
	KeyLogLevel = "X402_LOG_LEVEL"
)

// ConfigError reports a missing or invalid configuration value. Field is the
// environment key the caller has to fix.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

func errf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Config holds everything needed to build, sign and submit one payment.
// Treat it as read-only after FromMap returns it.
type Config struct {
	FacilitatorURL string

	// PayerKey must never appear in logs or serialized output.
	PayerKey     *ecdsa.PrivateKey
	PayerAddress common.Address

	ReceiverAddress common.Address
	AssetAddress    common.Address

	Amount          decimal.Decimal
	AmountBaseUnits *big.Int
	TokenDecimals   int
	TokenName       string
	TokenVersion    string

	Resource    string
	Description string
	MimeType    string

	MaxTimeoutSeconds int
	BackdateSeconds   int

	ChainID *big.Int
	Network string
}

// Defaults returns the built-in values. BSC Wrapped USDC, same as the
// facilitator's reference deployment.
func Defaults() map[string]string {
	return map[string]string{
		KeyFacilitatorURL:  "https://api.x402.unibase.com",
		KeyAmount:          "0.1",
		KeyTimeoutSeconds:  "600",
		KeyBackdateSeconds: "30",
		KeyResource:        "https://example.com/protected-resource",
		KeyDescription:     "Payment for x402-protected resource",
		KeyMimeType:        "application/json",
		KeyTokenDecimals:   "18",
		KeyAssetAddress:    "0xf3A3E4D9c163251124229Da6DC9C98D889647804",
		KeyTokenName:       "Wrapped USDC",
		KeyTokenVersion:    "2",
		KeyChainID:         "56",
		KeyNetwork:         "bsc",
	}
}

// Merge layers the sources into one mapping. Later sources win; blank values
// are skipped so an empty env var does not shadow a .env entry.
func Merge(sources ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, src := range sources {
		for k, v := range src {
			if strings.TrimSpace(v) == "" {
				continue
			}
			merged[k] = strings.TrimSpace(v)
		}
	}
	return merged
}

// FromMap validates the merged mapping and builds the Config. Pure: no file,
// env or network access happens here.
func FromMap(values map[string]string) (*Config, error) {
	key, err := parsePrivateKey(values[KeyPayerPrivateKey])
	if err != nil {
		return nil, err
	}

	// The payer address is always derived from the key. A supplied
	// X402_PAYER_ADDRESS is only a cross-check, never an override: trusting it
	// would let a signer/payer mismatch through to the facilitator.
	payer := crypto.PubkeyToAddress(key.PublicKey)
	if supplied, ok := values[KeyPayerAddress]; ok {
		addr, err := parseAddress(supplied, KeyPayerAddress)
		if err != nil {
			return nil, err
		}
		if addr != payer {
			return nil, errf(KeyPayerAddress, "does not match the address derived from %s (%s)", KeyPayerPrivateKey, payer.Hex())
		}
	}

	receiverRaw, ok := values[KeyReceiverAddress]
	if !ok {
		return nil, errf(KeyReceiverAddress, "must be provided")
	}
	receiver, err := parseAddress(receiverRaw, KeyReceiverAddress)
	if err != nil {
		return nil, err
	}

	asset, err := parseAddress(values[KeyAssetAddress], KeyAssetAddress)
	if err != nil {
		return nil, err
	}

	decimals, err := parsePositiveInt(values, KeyTokenDecimals)
	if err != nil {
		return nil, err
	}

	amount, units, err := parseAmount(values[KeyAmount], decimals)
	if err != nil {
		return nil, err
	}

	timeout, err := parsePositiveInt(values, KeyTimeoutSeconds)
	if err != nil {
		return nil, err
	}

	backdate, err := parseNonNegativeInt(values, KeyBackdateSeconds)
	if err != nil {
		return nil, err
	}

	chainID, err := parseChainID(values[KeyChainID])
	if err != nil {
		return nil, err
	}

	facilitatorURL, err := parseFacilitatorURL(values[KeyFacilitatorURL])
	if err != nil {
		return nil, err
	}

	return &Config{
		FacilitatorURL:    facilitatorURL,
		PayerKey:          key,
		PayerAddress:      payer,
		ReceiverAddress:   receiver,
		AssetAddress:      asset,
		Amount:            amount,
		AmountBaseUnits:   units,
		TokenDecimals:     decimals,
		TokenName:         values[KeyTokenName],
		TokenVersion:      values[KeyTokenVersion],
		Resource:          values[KeyResource],
		Description:       values[KeyDescription],
		MimeType:          values[KeyMimeType],
		MaxTimeoutSeconds: timeout,
		BackdateSeconds:   backdate,
		ChainID:           chainID,
		Network:           values[KeyNetwork],
	}, nil
}

func parsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	k := strings.TrimSpace(raw)
	if k == "" {
		return nil, errf(KeyPayerPrivateKey, "must be provided")
	}
	k = strings.TrimPrefix(k, "0x")
	if len(k) != 64 {
		return nil, errf(KeyPayerPrivateKey, "must be 32 bytes (64 hex chars), got %d", len(k))
	}
	if _, err := hex.DecodeString(k); err != nil {
		return nil, errf(KeyPayerPrivateKey, "is not valid hex")
	}
	key, err := crypto.HexToECDSA(k)
	if err != nil {
		return nil, errf(KeyPayerPrivateKey, "is not a valid secp256k1 key: %v", err)
	}
	return key, nil
}

func parseAddress(raw, field string) (common.Address, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return common.Address{}, errf(field, "must not be empty")
	}
	if !strings.HasPrefix(v, "0x") {
		v = "0x" + v
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, errf(field, "is not a valid EVM address")
	}
	return common.HexToAddress(v), nil
}

// parseAmount scales the decimal amount to base units of the token.
// Anything that does not fit the token's fixed-point grid, or a value above
// uint256, cannot go on the wire and is rejected here rather than by the chain.
func parseAmount(raw string, decimals int) (decimal.Decimal, *big.Int, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, nil, errf(KeyAmount, "must be a valid decimal number, got %q", raw)
	}
	if amount.Sign() <= 0 {
		return decimal.Zero, nil, errf(KeyAmount, "must be greater than zero")
	}
	scaled := amount.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return decimal.Zero, nil, errf(KeyAmount, "%s cannot be represented with %d decimals", amount, decimals)
	}
	units := scaled.BigInt()
	if units.Cmp(math.MaxBig256) > 0 {
		return decimal.Zero, nil, errf(KeyAmount, "%s exceeds the maximum uint256 value at %d decimals", amount, decimals)
	}
	return amount, units, nil
}

func parsePositiveInt(values map[string]string, field string) (int, error) {
	n, err := strconv.Atoi(values[field])
	if err != nil {
		return 0, errf(field, "must be an integer, got %q", values[field])
	}
	if n <= 0 {
		return 0, errf(field, "must be greater than zero")
	}
	return n, nil
}

func parseNonNegativeInt(values map[string]string, field string) (int, error) {
	n, err := strconv.Atoi(values[field])
	if err != nil {
		return 0, errf(field, "must be an integer, got %q", values[field])
	}
	if n < 0 {
		return 0, errf(field, "must not be negative")
	}
	return n, nil
}

func parseChainID(raw string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, errf(KeyChainID, "must be an integer, got %q", raw)
	}
	if id.Sign() <= 0 {
		return nil, errf(KeyChainID, "must be greater than zero")
	}
	return id, nil
}

func parseFacilitatorURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errf(KeyFacilitatorURL, "must be an http(s) URL, got %q", raw)
	}
	return strings.TrimRight(raw, "/"), nil
}
