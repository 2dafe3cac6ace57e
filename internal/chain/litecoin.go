package chain

func init() {
	// Litecoin Mainnet
	Register("LTC", Mainnet, &Params{
		Symbol:   "LTC",
		Name:     "Litecoin",
		Decimals: 8,

		PubKeyHashAddrID: 0x30, // L...
		ScriptHashAddrID: 0x32, // M...
		Bech32HRP:        "ltc",
		WIF:              0xB0,

		DefaultLockTime: LockTimeHeight,
		BlockInterval:   150,
	})

	// Litecoin Testnet
	Register("LTC", Testnet, &Params{
		Symbol:   "LTC",
		Name:     "Litecoin Testnet",
		Decimals: 8,

		PubKeyHashAddrID: 0x6F, // m or n
		ScriptHashAddrID: 0x3A, // Q...
		Bech32HRP:        "tltc",
		WIF:              0xEF,

		DefaultLockTime: LockTimeHeight,
		BlockInterval:   150,
	})
}
