package chain

import "github.com/btcsuite/btcd/chaincfg"

func init() {
	// Bitcoin Mainnet
	Register("BTC", Mainnet, &Params{
		Symbol:   "BTC",
		Name:     "Bitcoin",
		Decimals: 8,

		PubKeyHashAddrID: 0x00, // 1...
		ScriptHashAddrID: 0x05, // 3...
		Bech32HRP:        "bc",
		WIF:              0x80,

		DefaultLockTime: LockTimeHeight,
		BlockInterval:   600,
		base:            &chaincfg.MainNetParams,
	})

	// Bitcoin Testnet (testnet3)
	Register("BTC", Testnet, &Params{
		Symbol:   "BTC",
		Name:     "Bitcoin Testnet",
		Decimals: 8,

		PubKeyHashAddrID: 0x6F, // m or n
		ScriptHashAddrID: 0xC4, // 2...
		Bech32HRP:        "tb",
		WIF:              0xEF,

		DefaultLockTime: LockTimeHeight,
		BlockInterval:   600,
		base:            &chaincfg.TestNet3Params,
	})

	// Bitcoin Regtest (local bitcoind)
	Register("BTC", Regtest, &Params{
		Symbol:   "BTC",
		Name:     "Bitcoin Regtest",
		Decimals: 8,

		PubKeyHashAddrID: 0x6F,
		ScriptHashAddrID: 0xC4,
		Bech32HRP:        "bcrt",
		WIF:              0xEF,

		DefaultLockTime: LockTimeHeight,
		BlockInterval:   600,
		base:            &chaincfg.RegressionNetParams,
	})
}
