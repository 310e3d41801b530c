package ton

// NanoTON is the smallest TON unit (1 TON = 10^9 nanoTON)
const NanoTON = 1_000_000_000

// Network represents TON network type
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// TON API endpoints
const (
	TonAPIMainnet = "https://tonapi.io/v2"
	TonAPITestnet = "https://testnet.tonapi.io/v2"
)

// TONToNano converts TON to nanoTON
func TONToNano(ton float64) int64 {
	return int64(ton * NanoTON)
}

// NanoToTON converts nanoTON to TON
func NanoToTON(nano int64) float64 {
	return float64(nano) / NanoTON
}
