package bridge

// Method enumerates the JSON-RPC methods the wallet handles. The closed enum
// keeps dispatch exhaustiveness visible; anything else parses to
// MethodUnknown and takes the explicit fallback arm.
type Method int

const (
	MethodUnknown Method = iota
	MethodSendTransaction
	MethodSignTransaction
	MethodSign
	MethodPersonalSign
	MethodSignTypedData
	MethodSignTypedDataV3
	MethodSignTypedDataV4
	MethodSwitchChain
	MethodAddChain
)

const (
	nameSendTransaction = "eth_sendTransaction"
	nameSignTransaction = "eth_signTransaction"
	nameSign            = "eth_sign"
	namePersonalSign    = "personal_sign"
	nameSignTypedData   = "eth_signTypedData"
	nameSignTypedDataV3 = "eth_signTypedData_v3"
	nameSignTypedDataV4 = "eth_signTypedData_v4"
	nameSwitchChain     = "wallet_switchEthereumChain"
	nameAddChain        = "wallet_addEthereumChain"
)

// ParseMethod maps a wire method name onto the enum.
func ParseMethod(name string) Method {
	switch name {
	case nameSendTransaction:
		return MethodSendTransaction
	case nameSignTransaction:
		return MethodSignTransaction
	case nameSign:
		return MethodSign
	case namePersonalSign:
		return MethodPersonalSign
	case nameSignTypedData:
		return MethodSignTypedData
	case nameSignTypedDataV3:
		return MethodSignTypedDataV3
	case nameSignTypedDataV4:
		return MethodSignTypedDataV4
	case nameSwitchChain:
		return MethodSwitchChain
	case nameAddChain:
		return MethodAddChain
	default:
		return MethodUnknown
	}
}

func (m Method) String() string {
	switch m {
	case MethodSendTransaction:
		return nameSendTransaction
	case MethodSignTransaction:
		return nameSignTransaction
	case MethodSign:
		return nameSign
	case MethodPersonalSign:
		return namePersonalSign
	case MethodSignTypedData:
		return nameSignTypedData
	case MethodSignTypedDataV3:
		return nameSignTypedDataV3
	case MethodSignTypedDataV4:
		return nameSignTypedDataV4
	case MethodSwitchChain:
		return nameSwitchChain
	case MethodAddChain:
		return nameAddChain
	default:
		return "unknown"
	}
}

// RequiresChainMatch reports whether the method must execute against the
// request's chain, gating approval behind a chain switch on mismatch.
func (m Method) RequiresChainMatch() bool {
	switch m {
	case MethodSendTransaction, MethodSignTransaction, MethodSign, MethodPersonalSign,
		MethodSignTypedData, MethodSignTypedDataV3, MethodSignTypedDataV4:
		return true
	default:
		return false
	}
}

// IsSignature reports whether the method signs without submitting a
// transaction. Wrapper strategies never touch these.
func (m Method) IsSignature() bool {
	switch m {
	case MethodSign, MethodPersonalSign,
		MethodSignTypedData, MethodSignTypedDataV3, MethodSignTypedDataV4:
		return true
	default:
		return false
	}
}

// IsTypedData reports whether the method carries an EIP-712 payload.
func (m Method) IsTypedData() bool {
	switch m {
	case MethodSignTypedData, MethodSignTypedDataV3, MethodSignTypedDataV4:
		return true
	default:
		return false
	}
}

// SupportedMethods is the fixed method grant attached to every approved
// session namespace.
var SupportedMethods = []string{
	nameSendTransaction,
	nameSignTransaction,
	nameSign,
	namePersonalSign,
	nameSignTypedData,
	nameSignTypedDataV3,
	nameSignTypedDataV4,
	nameSwitchChain,
	nameAddChain,
}

// SupportedEvents is the fixed event grant attached to every approved
// session namespace.
var SupportedEvents = []string{"chainChanged", "accountsChanged"}
