package pricer

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	pricerABIJSON = `[{"inputs":[{"internalType":"bytes32","name":"priceId","type":"bytes32"}],"name":"getPrice","outputs":[{"internalType":"uint256","name":"price","type":"uint256"},{"internalType":"uint256","name":"timestamp","type":"uint256"}],"stateMutability":"view","type":"function"}]`

	// Quotes are published with 18 decimals.
	quoteDecimals = 18
)

var pricerABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(pricerABIJSON))
	if err != nil {
		panic("failed to parse pricer ABI: " + err.Error())
	}
	pricerABI = parsed
}

// OracleOptions parameterise the on-chain oracle.
type OracleOptions struct {
	RPCURL  string
	Address string
	Timeout time.Duration
}

// Oracle reads quotes from the deployed pricer contract over Ethereum RPC.
type Oracle struct {
	opts      OracleOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewOracle builds an on-chain price oracle.
func NewOracle(opts OracleOptions, logger zerolog.Logger) *Oracle {
	return &Oracle{opts: opts, logger: logger.With().Str("component", "price_oracle").Logger()}
}

// PriceAt calls getPrice(priceId) on the pricer contract.
func (o *Oracle) PriceAt(ctx context.Context, priceID common.Hash) (decimal.Decimal, time.Time, error) {
	if o.opts.RPCURL == "" {
		return decimal.Decimal{}, time.Time{}, errors.New("ethereum rpc url not configured")
	}
	if o.opts.Address == "" {
		return decimal.Decimal{}, time.Time{}, errors.New("pricer contract address not configured")
	}

	timeout := o.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := o.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}

	addr := common.HexToAddress(o.opts.Address)

	payload, err := pricerABI.Pack("getPrice", priceID)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}

	outputs, err := pricerABI.Unpack("getPrice", res)
	if err != nil {
		return decimal.Decimal{}, time.Time{}, err
	}

	if len(outputs) != 2 {
		return decimal.Decimal{}, time.Time{}, errors.New("unexpected getPrice response")
	}

	rawPrice, ok := outputs[0].(*big.Int)
	if !ok {
		return decimal.Decimal{}, time.Time{}, errors.New("failed to decode price output")
	}
	rawTS, ok := outputs[1].(*big.Int)
	if !ok {
		return decimal.Decimal{}, time.Time{}, errors.New("failed to decode timestamp output")
	}

	price := decimal.NewFromBigInt(rawPrice, -quoteDecimals)
	quotedAt := time.Unix(rawTS.Int64(), 0).UTC()

	return price, quotedAt, nil
}

func (o *Oracle) getClient(ctx context.Context) (*ethclient.Client, error) {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()

	if o.client != nil {
		return o.client, nil
	}

	client, err := ethclient.DialContext(ctx, o.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	o.client = client
	return client, nil
}

var _ Pricer = (*Oracle)(nil)
