package bridge

import (
	"fmt"
	"strings"

	"moff.io/wallet-bridge/internal/chains"
	"moff.io/wallet-bridge/internal/relay"
	"moff.io/wallet-bridge/pkg/errors"
)

var (
	// ErrUnsupportedNamespace marks a proposal requiring a namespace family
	// the wallet cannot provide at all.
	ErrUnsupportedNamespace = errors.New("unsupported namespace")
	// ErrUnsupportedChains marks a proposal requiring chains outside the
	// wallet's registry.
	ErrUnsupportedChains = errors.New("unsupported chains")
)

// BuildNamespaces constructs the permission grant for a proposal: every
// supported chain crossed with every candidate account, plus the fixed method
// and event lists. Pure and deterministic; the caller performs the actual
// session approval.
func BuildNamespaces(proposal *relay.SessionProposal, supportedChains []int64, accounts []string) (map[string]relay.Namespace, error) {
	if err := validateRequired(proposal.RequiredNamespaces, supportedChains); err != nil {
		return nil, err
	}
	chainIDs := make([]string, 0, len(supportedChains))
	accountIDs := make([]string, 0, len(supportedChains)*len(accounts))
	for _, id := range supportedChains {
		caip := fmt.Sprintf("eip155:%d", id)
		chainIDs = append(chainIDs, caip)
		for _, account := range accounts {
			accountIDs = append(accountIDs, fmt.Sprintf("%s:%s", caip, account))
		}
	}
	return map[string]relay.Namespace{
		"eip155": {
			Chains:   chainIDs,
			Accounts: accountIDs,
			Methods:  SupportedMethods,
			Events:   SupportedEvents,
		},
	}, nil
}

func validateRequired(required map[string]relay.Namespace, supportedChains []int64) error {
	supported := make(map[int64]bool, len(supportedChains))
	for _, id := range supportedChains {
		supported[id] = true
	}
	for key, ns := range required {
		// proposals may key namespaces either by family ("eip155") or by
		// qualified chain ("eip155:1")
		if key != "eip155" && !strings.HasPrefix(key, "eip155:") {
			return errors.Wrapf(ErrUnsupportedNamespace, "%q", key)
		}
		requiredChains := ns.Chains
		if key != "eip155" {
			requiredChains = append([]string{key}, ns.Chains...)
		}
		for _, chainID := range requiredChains {
			id, err := chains.ParseCAIP2(chainID)
			if err != nil {
				return errors.Wrapf(ErrUnsupportedChains, "%q", chainID)
			}
			if !supported[id] {
				return errors.Wrapf(ErrUnsupportedChains, "%q", chainID)
			}
		}
	}
	return nil
}
