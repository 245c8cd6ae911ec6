package decoder

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/tidwall/gjson"
	"moff.io/wallet-bridge/internal/cache"
	"moff.io/wallet-bridge/internal/chains"
	"moff.io/wallet-bridge/pkg/concurrent"
	"moff.io/wallet-bridge/pkg/errors"
)

// ABIProvider resolves the ABI document of a deployed contract. Lookups may be
// slow (network bound) and callers must treat failures as non-fatal.
type ABIProvider interface {
	ContractABI(ctx context.Context, chainID int64, address string) (*abi.ABI, error)
}

const defaultTimeout = time.Second * 10

type etherscanSource struct {
	registry   *chains.Registry
	httpClient *http.Client
	limiter    concurrent.Limiter
}

// NewEtherscanSource fetches verified contract ABIs from the etherscan-style
// endpoint configured per chain. Lookups are bounded by maxConcurrency.
func NewEtherscanSource(registry *chains.Registry, maxConcurrency int) ABIProvider {
	return &etherscanSource{
		registry: registry,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		limiter: concurrent.NewLimiter(maxConcurrency),
	}
}

func (c *etherscanSource) ContractABI(ctx context.Context, chainID int64, address string) (*abi.ABI, error) {
	doc, err := c.fetchABIDocument(ctx, chainID, address)
	if err != nil {
		return nil, err
	}
	return parseABIDocument(doc)
}

func (c *etherscanSource) fetchABIDocument(ctx context.Context, chainID int64, address string) (string, error) {
	chain, err := c.registry.Get(chainID)
	if err != nil {
		return "", err
	}
	if chain.ABIEndpoint == "" {
		return "", errors.Errorf("no abi endpoint configured for chain %d", chainID)
	}
	val := url.Values{}
	val.Set("module", "contract")
	val.Set("action", "getabi")
	val.Set("address", address)
	endpoint := fmt.Sprintf("%s?%s", chain.ABIEndpoint, val.Encode())

	c.limiter.Add()
	defer c.limiter.Done()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", errors.Wrap(err, "create abi lookup request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "abi lookup request")
	}
	defer resp.Body.Close()
	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "read abi lookup response")
	}
	doc := string(b)
	if gjson.Get(doc, "status").String() != "1" {
		return "", errors.Errorf("abi lookup for %s on chain %d: %s",
			address, chainID, gjson.Get(doc, "result").String())
	}
	return gjson.Get(doc, "result").String(), nil
}

func parseABIDocument(doc string) (*abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(doc))
	if err != nil {
		return nil, errors.Wrap(err, "parse abi json")
	}
	return &parsed, nil
}

type cachedSource struct {
	next   *etherscanSource
	ttl    time.Duration
	mu     sync.Mutex
	parsed map[string]*abi.ABI
}

// NewCachedSource wraps a source with the redis ABI cache plus an in-process
// parsed-ABI map. Cache unavailability degrades to direct lookups.
func NewCachedSource(registry *chains.Registry, maxConcurrency int, ttl time.Duration) ABIProvider {
	return &cachedSource{
		next:   NewEtherscanSource(registry, maxConcurrency).(*etherscanSource),
		ttl:    ttl,
		parsed: make(map[string]*abi.ABI),
	}
}

func (c *cachedSource) ContractABI(ctx context.Context, chainID int64, address string) (*abi.ABI, error) {
	key := fmt.Sprintf("%d:%s", chainID, strings.ToLower(address))
	c.mu.Lock()
	if parsed, ok := c.parsed[key]; ok {
		c.mu.Unlock()
		return parsed, nil
	}
	c.mu.Unlock()

	doc, ok := cache.GetContractABI(ctx, chainID, address)
	if !ok {
		var err error
		doc, err = c.next.fetchABIDocument(ctx, chainID, address)
		if err != nil {
			return nil, err
		}
		cache.PutContractABI(ctx, chainID, address, doc, c.ttl)
	}
	parsed, err := parseABIDocument(doc)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.parsed[key] = parsed
	c.mu.Unlock()
	return parsed, nil
}
