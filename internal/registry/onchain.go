package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const registryABIJSON = `[{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"isAllowed","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"isBlocked","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"}]`

var registryABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(registryABIJSON))
	if err != nil {
		panic("failed to parse registry ABI: " + err.Error())
	}
	registryABI = parsed
}

// OnchainOptions parameterise the deployed registry adapters.
type OnchainOptions struct {
	RPCURL           string
	AllowlistAddress string
	BlocklistAddress string
	Timeout          time.Duration
}

// Onchain reads membership from the deployed allowlist/blocklist contracts.
// It implements both Allowlist and Blocklist.
type Onchain struct {
	opts      OnchainOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewOnchain builds the on-chain registry adapter.
func NewOnchain(opts OnchainOptions, logger zerolog.Logger) *Onchain {
	return &Onchain{opts: opts, logger: logger.With().Str("component", "registry").Logger()}
}

// An unset contract address disables the corresponding check.

func (r *Onchain) IsAllowed(ctx context.Context, addr common.Address) (bool, error) {
	if r.opts.AllowlistAddress == "" {
		return true, nil
	}
	return r.view(ctx, r.opts.AllowlistAddress, "isAllowed", addr)
}

func (r *Onchain) IsBlocked(ctx context.Context, addr common.Address) (bool, error) {
	if r.opts.BlocklistAddress == "" {
		return false, nil
	}
	return r.view(ctx, r.opts.BlocklistAddress, "isBlocked", addr)
}

func (r *Onchain) view(ctx context.Context, contract, method string, account common.Address) (bool, error) {
	if r.opts.RPCURL == "" {
		return false, errors.New("ethereum rpc url not configured")
	}
	if contract == "" {
		return false, errors.New("registry contract address not configured")
	}

	timeout := r.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := r.getClient(ctx)
	if err != nil {
		return false, err
	}

	addr := common.HexToAddress(contract)

	payload, err := registryABI.Pack(method, account)
	if err != nil {
		return false, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return false, err
	}

	outputs, err := registryABI.Unpack(method, res)
	if err != nil {
		return false, err
	}
	if len(outputs) != 1 {
		return false, errors.New("unexpected registry response")
	}

	member, ok := outputs[0].(bool)
	if !ok {
		return false, errors.New("failed to decode registry output")
	}
	return member, nil
}

func (r *Onchain) getClient(ctx context.Context) (*ethclient.Client, error) {
	r.clientMux.Lock()
	defer r.clientMux.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	client, err := ethclient.DialContext(ctx, r.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	r.client = client
	return client, nil
}

var (
	_ Allowlist = (*Onchain)(nil)
	_ Blocklist = (*Onchain)(nil)
)
