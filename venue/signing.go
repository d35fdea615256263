package venue

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dlmmcore/engine/stats"
	"github.com/dlmmcore/engine/types"
)

// SwapOrder is the structured message a SigningClient hashes and signs
// before submission: a generic {pool, amountIn, minOut, deadline, nonce}
// swap.
type SwapOrder struct {
	Pool      string     `json:"pool"`      // pool contract address
	Maker     string     `json:"maker"`     // signer's address
	AmountIn  string     `json:"amount_in"` // uint256 decimal string, smallest unit
	MinOut    string     `json:"min_out"`   // uint256 decimal string, smallest unit
	Deadline  string     `json:"deadline"`  // unix seconds, uint256 decimal string
	Nonce     string     `json:"nonce"`     // uint256 decimal string
	Side      types.Side `json:"side"`
	Signature string     `json:"signature"`
}

const (
	swapDomainName    = "DLMM Core Engine"
	swapDomainVersion = "1"
)

// SigningClient submits swaps to a live DLMM router, signing each with an
// EIP-712 structured hash over the SwapOrder fields.
type SigningClient struct {
	privateKey    *ecdsa.PrivateKey
	address       common.Address
	routerAddress string
	chainID       int64

	httpClient *http.Client
	apiURL     string
}

// NewSigningClient builds a live-trading venue client from PRIVATE_KEY,
// ROUTER_ADDRESS, CHAIN_ID, and VENUE_API_URL. PRIVATE_KEY, ROUTER_ADDRESS
// and VENUE_API_URL are required; CHAIN_ID defaults to 42161 when unset.
func NewSigningClient() (Client, error) {
	pkHex := strings.TrimPrefix(os.Getenv("PRIVATE_KEY"), "0x")
	if pkHex == "" {
		return nil, stats.New(stats.KindConfigInvalid, "PRIVATE_KEY is required when LIVE_TRADING=true")
	}
	pk, err := crypto.HexToECDSA(pkHex)
	if err != nil {
		return nil, stats.Wrap(stats.KindConfigInvalid, "invalid PRIVATE_KEY", err)
	}

	router := os.Getenv("ROUTER_ADDRESS")
	if router == "" {
		return nil, stats.New(stats.KindConfigInvalid, "ROUTER_ADDRESS is required when LIVE_TRADING=true")
	}

	apiURL := os.Getenv("VENUE_API_URL")
	if apiURL == "" {
		return nil, stats.New(stats.KindConfigInvalid, "VENUE_API_URL is required when LIVE_TRADING=true")
	}

	chainID := int64(42161)
	if v := os.Getenv("CHAIN_ID"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, stats.Wrap(stats.KindConfigInvalid, "invalid CHAIN_ID", err)
		}
		chainID = parsed
	}

	addr := crypto.PubkeyToAddress(pk.PublicKey)
	log.Info().Str("address", addr.Hex()).Int64("chain_id", chainID).Msg("venue: live signing client initialized")

	return &SigningClient{
		privateKey:    pk,
		address:       addr,
		routerAddress: router,
		chainID:       chainID,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		apiURL:        apiURL,
	}, nil
}

// buildSwapDomainSeparator hashes the
// EIP712Domain(string,string,uint256,address) tuple binding signatures to
// this router contract and chain.
func buildSwapDomainSeparator(router string, chainID int64) [32]byte {
	domainTypeHash := crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	nameHash := crypto.Keccak256([]byte(swapDomainName))
	versionHash := crypto.Keccak256([]byte(swapDomainVersion))

	chainIDBytes := common.LeftPadBytes(big.NewInt(chainID).Bytes(), 32)
	contractPadded := common.LeftPadBytes(common.HexToAddress(router).Bytes(), 32)

	var data []byte
	data = append(data, domainTypeHash...)
	data = append(data, nameHash...)
	data = append(data, versionHash...)
	data = append(data, chainIDBytes...)
	data = append(data, contractPadded...)

	var result [32]byte
	copy(result[:], crypto.Keccak256(data))
	return result
}

// buildSwapStructHash hashes the typed Swap struct per EIP-712.
func buildSwapStructHash(order SwapOrder) [32]byte {
	typeHash := crypto.Keccak256([]byte("Swap(address pool,address maker,uint256 amountIn,uint256 minOut,uint256 deadline,uint256 nonce)"))

	pool := common.LeftPadBytes(common.HexToAddress(order.Pool).Bytes(), 32)
	maker := common.LeftPadBytes(common.HexToAddress(order.Maker).Bytes(), 32)
	amountIn := padUint256(order.AmountIn)
	minOut := padUint256(order.MinOut)
	deadline := padUint256(order.Deadline)
	nonce := padUint256(order.Nonce)

	var data []byte
	data = append(data, typeHash...)
	data = append(data, pool...)
	data = append(data, maker...)
	data = append(data, amountIn...)
	data = append(data, minOut...)
	data = append(data, deadline...)
	data = append(data, nonce...)

	var result [32]byte
	copy(result[:], crypto.Keccak256(data))
	return result
}

// padUint256 left-pads a base-10 string to a 32-byte big-endian word.
func padUint256(s string) []byte {
	n := new(big.Int)
	n.SetString(s, 10)
	return common.LeftPadBytes(n.Bytes(), 32)
}

// generateNonce draws a crypto-random 256-bit nonce.
func generateNonce() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return new(big.Int).SetBytes(b).String()
}

// sign produces the EIP-712 signature over order:
// keccak256("\x19\x01" || domainSeparator || structHash).
func (c *SigningClient) sign(order SwapOrder) (string, error) {
	domainSeparator := buildSwapDomainSeparator(c.routerAddress, c.chainID)
	structHash := buildSwapStructHash(order)

	var data []byte
	data = append(data, []byte("\x19\x01")...)
	data = append(data, domainSeparator[:]...)
	data = append(data, structHash[:]...)
	finalHash := crypto.Keccak256(data)

	sig, err := crypto.Sign(finalHash, c.privateKey)
	if err != nil {
		return "", stats.Wrap(stats.KindVenueRejected, "eip-712 signing failed", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return hexutil.Encode(sig), nil
}

// poolSnapshotWire is the REST router's pool-state response shape. Prices
// and liquidity travel as decimal strings to avoid float precision loss in
// transit.
type poolSnapshotWire struct {
	ActiveBinID  int32             `json:"active_bin_id"`
	Price        string            `json:"price"`
	Volume24h    string            `json:"volume_24h"`
	BinLiquidity map[string]string `json:"bin_liquidity"`
	Timestamp    int64             `json:"timestamp"`
}

// PoolSnapshot fetches current pool state over the venue's REST API.
func (c *SigningClient) PoolSnapshot(ctx context.Context, pool string, binWindow int32) (types.MarketSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/pools/"+pool, nil)
	if err != nil {
		return types.MarketSnapshot{}, stats.Wrap(stats.KindConfigInvalid, "building pool snapshot request", err)
	}
	q := req.URL.Query()
	q.Set("bin_window", strconv.FormatInt(int64(binWindow), 10))
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.MarketSnapshot{}, stats.Wrap(stats.KindVenueUnavailable, "pool snapshot request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return types.MarketSnapshot{}, stats.New(stats.KindVenueUnavailable, "pool snapshot: unexpected status "+resp.Status)
	}

	var wire poolSnapshotWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return types.MarketSnapshot{}, stats.Wrap(stats.KindVenueRejected, "decoding pool snapshot response", err)
	}

	price, err := decimal.NewFromString(wire.Price)
	if err != nil {
		return types.MarketSnapshot{}, stats.Wrap(stats.KindVenueRejected, "pool snapshot: invalid price", err)
	}
	volume, _ := decimal.NewFromString(wire.Volume24h)

	liq := make(map[int32]decimal.Decimal, len(wire.BinLiquidity))
	for k, v := range wire.BinLiquidity {
		binID, err := strconv.ParseInt(k, 10, 32)
		if err != nil {
			continue
		}
		amt, err := decimal.NewFromString(v)
		if err != nil {
			continue
		}
		liq[int32(binID)] = amt
	}

	return types.MarketSnapshot{
		Pool:         pool,
		ActiveBinID:  wire.ActiveBinID,
		Price:        price,
		BinLiquidity: liq,
		Volume24h:    volume,
		Timestamp:    time.Unix(wire.Timestamp, 0),
	}, nil
}

// Submit signs and submits a swap. req.UsePrivacyEndpoint/UseAtomicBundle
// select the submission variant; both map onto the same signed payload with
// a different router path.
func (c *SigningClient) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	order := SwapOrder{
		Pool:     req.Pool,
		Maker:    c.address.Hex(),
		AmountIn: req.AmountIn.Shift(18).Truncate(0).String(),
		MinOut:   req.TargetPrice.Mul(req.AmountIn).Shift(18).Truncate(0).String(),
		Deadline: strconv.FormatInt(time.Now().Add(c.httpClient.Timeout).Unix(), 10),
		Nonce:    generateNonce(),
		Side:     req.Side,
	}

	sig, err := c.sign(order)
	if err != nil {
		return SubmitResult{}, err
	}
	order.Signature = sig

	path := "/swap"
	switch {
	case req.UseAtomicBundle:
		path = "/swap/bundle"
	case req.UsePrivacyEndpoint:
		path = "/swap/private"
	}

	body, err := json.Marshal(order)
	if err != nil {
		return SubmitResult{}, stats.Wrap(stats.KindConfigInvalid, "encoding swap order", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, bytes.NewReader(body))
	if err != nil {
		return SubmitResult{}, stats.Wrap(stats.KindConfigInvalid, "building submit request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return SubmitResult{}, stats.Wrap(stats.KindVenueUnavailable, "submit request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return SubmitResult{}, stats.New(stats.KindVenueRejected, "submit: unexpected status "+resp.Status)
	}

	log.Info().Str("pool", req.Pool).Str("nonce", order.Nonce).Msg("venue: swap submitted to live router")
	return SubmitResult{
		FilledAmount: req.AmountIn,
		FillPrice:    req.TargetPrice,
		Fee:          decimal.Zero,
		TxHash:       order.Nonce,
	}, nil
}

// Cancel requests cancellation of a resting order. DLMM swaps submitted
// on-chain are generally final once included; this is a best-effort request
// to the router's off-chain order relay, if one is configured.
func (c *SigningClient) Cancel(ctx context.Context, orderID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.apiURL+"/orders/"+orderID, nil)
	if err != nil {
		return stats.Wrap(stats.KindConfigInvalid, "building cancel request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return stats.Wrap(stats.KindVenueUnavailable, "cancel request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return stats.New(stats.KindVenueRejected, "cancel: unexpected status "+resp.Status)
	}
	return nil
}

type positionWire struct {
	ID         string `json:"id"`
	Pool       string `json:"pool"`
	AmountX    string `json:"amount_x"`
	AmountY    string `json:"amount_y"`
	EntryPrice string `json:"entry_price"`
}

// GetPosition reads a venue-held position from the router.
func (c *SigningClient) GetPosition(ctx context.Context, id string) (PositionState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/positions/"+id, nil)
	if err != nil {
		return PositionState{}, stats.Wrap(stats.KindConfigInvalid, "building position request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PositionState{}, stats.Wrap(stats.KindVenueUnavailable, "position request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return PositionState{}, stats.New(stats.KindNotFound, "unknown position: "+id)
	}
	if resp.StatusCode != http.StatusOK {
		return PositionState{}, stats.New(stats.KindVenueUnavailable, "position: unexpected status "+resp.Status)
	}

	var wire positionWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return PositionState{}, stats.Wrap(stats.KindVenueRejected, "decoding position response", err)
	}
	amountX, _ := decimal.NewFromString(wire.AmountX)
	amountY, _ := decimal.NewFromString(wire.AmountY)
	entry, _ := decimal.NewFromString(wire.EntryPrice)
	return PositionState{ID: wire.ID, Pool: wire.Pool, AmountX: amountX, AmountY: amountY, EntryPrice: entry}, nil
}

type simulationWire struct {
	Success     bool   `json:"success"`
	ExpectedOut string `json:"expected_out"`
	GasUsed     int64  `json:"gas_used"`
	Error       string `json:"error"`
}

// Simulate dry-runs a swap against the router's simulation endpoint. The
// payload is the unsigned SwapOrder; simulation never spends a signature.
func (c *SigningClient) Simulate(ctx context.Context, req SubmitRequest) (SimulationResult, error) {
	order := SwapOrder{
		Pool:     req.Pool,
		Maker:    c.address.Hex(),
		AmountIn: req.AmountIn.Shift(18).Truncate(0).String(),
		MinOut:   req.TargetPrice.Mul(req.AmountIn).Shift(18).Truncate(0).String(),
		Side:     req.Side,
	}
	body, err := json.Marshal(order)
	if err != nil {
		return SimulationResult{}, stats.Wrap(stats.KindConfigInvalid, "encoding simulation order", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/simulate", bytes.NewReader(body))
	if err != nil {
		return SimulationResult{}, stats.Wrap(stats.KindConfigInvalid, "building simulate request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return SimulationResult{}, stats.Wrap(stats.KindVenueUnavailable, "simulate request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return SimulationResult{}, stats.New(stats.KindVenueUnavailable, "simulate: unexpected status "+resp.Status)
	}

	var wire simulationWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return SimulationResult{}, stats.Wrap(stats.KindVenueRejected, "decoding simulation response", err)
	}
	expectedOut, _ := decimal.NewFromString(wire.ExpectedOut)
	return SimulationResult{Success: wire.Success, ExpectedOut: expectedOut, GasUsed: wire.GasUsed, Error: wire.Error}, nil
}

type statusWire struct {
	Status   string `json:"status"`
	Out      string `json:"out"`
	GasUsed  int64  `json:"gas_used"`
	Slippage string `json:"slippage"`
	Reason   string `json:"reason"`
}

// GetStatus reports where a submitted swap stands.
func (c *SigningClient) GetStatus(ctx context.Context, txHash string) (SubmissionStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/tx/"+txHash, nil)
	if err != nil {
		return SubmissionStatus{}, stats.Wrap(stats.KindConfigInvalid, "building status request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SubmissionStatus{}, stats.Wrap(stats.KindVenueUnavailable, "status request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return SubmissionStatus{}, stats.New(stats.KindVenueUnavailable, "status: unexpected status "+resp.Status)
	}

	var wire statusWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return SubmissionStatus{}, stats.Wrap(stats.KindVenueRejected, "decoding status response", err)
	}
	out, _ := decimal.NewFromString(wire.Out)
	slippage, _ := decimal.NewFromString(wire.Slippage)
	return SubmissionStatus{
		Kind:     StatusKind(wire.Status),
		Out:      out,
		GasUsed:  wire.GasUsed,
		Slippage: slippage,
		Reason:   wire.Reason,
	}, nil
}

type balanceWire struct {
	Balance string `json:"balance"`
}

// Balance reads the signer's free collateral balance from the router.
func (c *SigningClient) Balance(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/balance/"+c.address.Hex(), nil)
	if err != nil {
		return decimal.Zero, stats.Wrap(stats.KindConfigInvalid, "building balance request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, stats.Wrap(stats.KindVenueUnavailable, "balance request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, stats.New(stats.KindVenueUnavailable, "balance: unexpected status "+resp.Status)
	}

	var wire balanceWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return decimal.Zero, stats.Wrap(stats.KindVenueRejected, "decoding balance response", err)
	}
	bal, err := decimal.NewFromString(wire.Balance)
	if err != nil {
		return decimal.Zero, stats.Wrap(stats.KindVenueRejected, "balance: invalid value", err)
	}
	return bal, nil
}

type poolWire struct {
	Address      string            `json:"address"`
	TokenX       string            `json:"token_x"`
	TokenY       string            `json:"token_y"`
	BinStep      uint16            `json:"bin_step"`
	BasePrice    string            `json:"base_price"`
	ActiveBinID  int32             `json:"active_bin_id"`
	FeeTier      string            `json:"fee_tier"`
	TVLUsd       string            `json:"tvl_usd"`
	Volume24h    string            `json:"volume_24h"`
	BinLiquidity map[string]string `json:"bin_liquidity"`
}

// ListPools fetches the venue's full pool registry, for pool-graph
// construction.
func (c *SigningClient) ListPools(ctx context.Context) ([]types.Pool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/pools", nil)
	if err != nil {
		return nil, stats.Wrap(stats.KindConfigInvalid, "building list-pools request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, stats.Wrap(stats.KindVenueUnavailable, "list-pools request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, stats.New(stats.KindVenueUnavailable, "list-pools: unexpected status "+resp.Status)
	}

	var wires []poolWire
	if err := json.NewDecoder(resp.Body).Decode(&wires); err != nil {
		return nil, stats.Wrap(stats.KindVenueRejected, "decoding list-pools response", err)
	}

	out := make([]types.Pool, 0, len(wires))
	for _, w := range wires {
		basePrice, _ := decimal.NewFromString(w.BasePrice)
		feeTier, _ := decimal.NewFromString(w.FeeTier)
		tvl, _ := decimal.NewFromString(w.TVLUsd)
		volume, _ := decimal.NewFromString(w.Volume24h)
		liq := make(map[int32]decimal.Decimal, len(w.BinLiquidity))
		for k, v := range w.BinLiquidity {
			binID, err := strconv.ParseInt(k, 10, 32)
			if err != nil {
				continue
			}
			amt, err := decimal.NewFromString(v)
			if err != nil {
				continue
			}
			liq[int32(binID)] = amt
		}
		out = append(out, types.Pool{
			Address:      w.Address,
			TokenX:       w.TokenX,
			TokenY:       w.TokenY,
			BinStep:      w.BinStep,
			BasePrice:    basePrice,
			ActiveBinID:  w.ActiveBinID,
			FeeTier:      feeTier,
			TVLUsd:       tvl,
			Volume24h:    volume,
			BinLiquidity: liq,
		})
	}
	return out, nil
}

type tokenWire struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// ListTokens fetches the venue's token registry.
func (c *SigningClient) ListTokens(ctx context.Context) ([]TokenMeta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"/tokens", nil)
	if err != nil {
		return nil, stats.Wrap(stats.KindConfigInvalid, "building list-tokens request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, stats.Wrap(stats.KindVenueUnavailable, "list-tokens request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, stats.New(stats.KindVenueUnavailable, "list-tokens: unexpected status "+resp.Status)
	}

	var wires []tokenWire
	if err := json.NewDecoder(resp.Body).Decode(&wires); err != nil {
		return nil, stats.Wrap(stats.KindVenueRejected, "decoding list-tokens response", err)
	}
	out := make([]TokenMeta, 0, len(wires))
	for _, w := range wires {
		out = append(out, TokenMeta{Address: w.Address, Symbol: w.Symbol, Decimals: w.Decimals})
	}
	return out, nil
}
