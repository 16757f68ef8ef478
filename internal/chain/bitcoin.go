package chain

func init() {
	Register(&Params{
		Code:     "BTC",
		Name:     "Bitcoin",
		Family:   FamilyBitcoin,
		Decimals: 8,

		// BIP-84 native SegWit (bc1q...)
		Purpose:  84,
		CoinType: 0,

		PriceID: "bitcoin",

		DustLimit:        546,
		MinConfirmations: 2,
	})
}
