package chain

func init() {
	// Dogecoin Mainnet
	Register("DOGE", Mainnet, &Params{
		Symbol:   "DOGE",
		Name:     "Dogecoin",
		Decimals: 8,

		PubKeyHashAddrID: 0x1E, // D...
		ScriptHashAddrID: 0x16, // 9 or A
		Bech32HRP:        "",   // No SegWit
		WIF:              0x9E,

		// DOGE blocks are too fast for heights to be a comfortable deadline.
		DefaultLockTime: LockTimeUnix,
		BlockInterval:   60,
		AuxPoW:          true,
	})

	// Dogecoin Testnet
	Register("DOGE", Testnet, &Params{
		Symbol:   "DOGE",
		Name:     "Dogecoin Testnet",
		Decimals: 8,

		PubKeyHashAddrID: 0x71, // n...
		ScriptHashAddrID: 0xC4,
		Bech32HRP:        "",
		WIF:              0xF1,

		DefaultLockTime: LockTimeUnix,
		BlockInterval:   60,
		AuxPoW:          true,
	})
}
