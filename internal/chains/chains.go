package chains

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"moff.io/wallet-bridge/internal/config"
	"moff.io/wallet-bridge/pkg/errors"
)

// Blockchain is the display and endpoint metadata for one EVM network.
type Blockchain struct {
	ID               int64
	IDHex            string
	Name             string
	RPCURL           string
	BlockExplorerURL string
	// ABIEndpoint is an etherscan-compatible API base used for contract ABI lookups.
	ABIEndpoint string
}

// CAIP2 returns the namespace-qualified chain id, e.g. "eip155:1".
func (in *Blockchain) CAIP2() string {
	return fmt.Sprintf("eip155:%d", in.ID)
}

var builtin = []*Blockchain{
	{
		ID:               1,
		IDHex:            "0x1",
		Name:             "eth",
		RPCURL:           "https://cloudflare-eth.com",
		BlockExplorerURL: "https://etherscan.io",
		ABIEndpoint:      "https://api.etherscan.io/api",
	},
	{
		ID:               5,
		IDHex:            "0x5",
		Name:             "goerli",
		RPCURL:           "https://rpc.ankr.com/eth_goerli",
		BlockExplorerURL: "https://goerli.etherscan.io",
		ABIEndpoint:      "https://api-goerli.etherscan.io/api",
	},
	{
		ID:               10,
		IDHex:            "0xa",
		Name:             "optimism",
		RPCURL:           "https://mainnet.optimism.io",
		BlockExplorerURL: "https://optimistic.etherscan.io",
		ABIEndpoint:      "https://api-optimistic.etherscan.io/api",
	},
	{
		ID:               56,
		IDHex:            "0x38",
		Name:             "bsc",
		RPCURL:           "https://bsc-dataseed.binance.org",
		BlockExplorerURL: "https://bscscan.com",
		ABIEndpoint:      "https://api.bscscan.com/api",
	},
	{
		ID:               137,
		IDHex:            "0x89",
		Name:             "polygon",
		RPCURL:           "https://polygon-rpc.com",
		BlockExplorerURL: "https://polygonscan.com",
		ABIEndpoint:      "https://api.polygonscan.com/api",
	},
	{
		ID:               8453,
		IDHex:            "0x2105",
		Name:             "base",
		RPCURL:           "https://mainnet.base.org",
		BlockExplorerURL: "https://basescan.org",
		ABIEndpoint:      "https://api.basescan.org/api",
	},
	{
		ID:               42161,
		IDHex:            "0xa4b1",
		Name:             "arbitrum",
		RPCURL:           "https://arb1.arbitrum.io/rpc",
		BlockExplorerURL: "https://arbiscan.io",
		ABIEndpoint:      "https://api.arbiscan.io/api",
	},
	{
		ID:               43114,
		IDHex:            "0xa86a",
		Name:             "avalanche",
		RPCURL:           "https://api.avax.network/ext/bc/C/rpc",
		BlockExplorerURL: "https://snowtrace.io",
		ABIEndpoint:      "https://api.snowtrace.io/api",
	},
}

// Registry maps chain ids to network metadata. Built-in networks can be
// overridden or extended from configuration.
type Registry struct {
	mu      sync.RWMutex
	mapping map[int64]*Blockchain
	order   []int64
}

func NewRegistry(extra []config.Chain) *Registry {
	r := &Registry{
		mapping: make(map[int64]*Blockchain),
	}
	for _, c := range builtin {
		r.mapping[c.ID] = c
		r.order = append(r.order, c.ID)
	}
	for _, c := range extra {
		chain := &Blockchain{
			ID:               c.ID,
			IDHex:            fmt.Sprintf("0x%x", c.ID),
			Name:             c.Name,
			RPCURL:           c.RPCURL,
			BlockExplorerURL: c.BlockExplorerURL,
			ABIEndpoint:      c.ABIEndpoint,
		}
		if _, ok := r.mapping[c.ID]; !ok {
			r.order = append(r.order, c.ID)
		}
		r.mapping[c.ID] = chain
	}
	return r
}

// Get returns the chain for a numeric id.
func (r *Registry) Get(id int64) (*Blockchain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain, ok := r.mapping[id]
	if !ok {
		return nil, errors.Errorf("chain %d not supported", id)
	}
	return chain, nil
}

// Supports reports whether id is a registered chain.
func (r *Registry) Supports(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.mapping[id]
	return ok
}

// IDs returns all registered chain ids in registration order.
func (r *Registry) IDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int64, len(r.order))
	copy(out, r.order)
	return out
}

// All returns all registered chains in registration order.
func (r *Registry) All() []*Blockchain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Blockchain, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.mapping[id])
	}
	return out
}

// ParseCAIP2 extracts the numeric chain id from a namespace-qualified id such
// as "eip155:137". Bare numeric ids are accepted too.
func ParseCAIP2(chainID string) (int64, error) {
	s := chainID
	if idx := strings.Index(chainID, ":"); idx >= 0 {
		if chainID[:idx] != "eip155" {
			return 0, errors.Errorf("unsupported chain namespace %q", chainID[:idx])
		}
		s = chainID[idx+1:]
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse chain id %q", chainID)
	}
	return id, nil
}
