package bridge

import (
	"moff.io/wallet-bridge/internal/chains"
	"moff.io/wallet-bridge/pkg/log"
)

// SwitchRequirement is the derived chain-switch fact for the current request.
// Recomputed whenever the request or the active chain changes, never stored.
type SwitchRequirement struct {
	NeedsSwitch   bool  `json:"needsSwitch"`
	TargetChainID int64 `json:"targetChainId,omitempty"`
}

// computeSwitchRequirement decides whether approval must be gated behind a
// chain switch: the request targets a different chain than the active one AND
// the method actually touches chain state.
func computeSwitchRequirement(method Method, requestChainID string, activeChainID int64) SwitchRequirement {
	if !method.RequiresChainMatch() {
		return SwitchRequirement{}
	}
	if requestChainID == "" {
		return SwitchRequirement{}
	}
	target, err := chains.ParseCAIP2(requestChainID)
	if err != nil {
		log.Warnf("bridge - unparseable request chain %q:%v", requestChainID, err)
		return SwitchRequirement{}
	}
	if target == activeChainID {
		return SwitchRequirement{}
	}
	return SwitchRequirement{
		NeedsSwitch:   true,
		TargetChainID: target,
	}
}
