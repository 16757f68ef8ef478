package chain

func init() {
	Register(&Params{
		Code:     "ETH",
		Name:     "Ethereum",
		Family:   FamilyEVM,
		Decimals: 18,

		Purpose:  44,
		CoinType: 60,
		ChainID:  1,

		PriceID: "ethereum",

		MinConfirmations: 12,
	})

	// ERC-20 stablecoins share the ETH address space: the same derived
	// address receives both native ETH and token deposits.
	Register(&Params{
		Code:     "USDT",
		Name:     "Tether USD",
		Family:   FamilyEVM,
		Decimals: 6,

		Purpose:  44,
		CoinType: 60,
		ChainID:  1,

		TokenContract: "0xdAC17F958D2ee523a2206206994597C13D831ec7",
		PriceID:       "tether",

		MinConfirmations: 12,
	})

	Register(&Params{
		Code:     "USDC",
		Name:     "USD Coin",
		Family:   FamilyEVM,
		Decimals: 6,

		Purpose:  44,
		CoinType: 60,
		ChainID:  1,

		TokenContract: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		PriceID:       "usd-coin",

		MinConfirmations: 12,
	})
}
