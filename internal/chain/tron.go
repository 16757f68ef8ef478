package chain

func init() {
	Register(&Params{
		Code:     "TRX",
		Name:     "Tron",
		Family:   FamilyTron,
		Decimals: 6,

		Purpose:  44,
		CoinType: 195,

		PriceID: "tron",

		// 1.1 TRX held back for bandwidth/fee on sweeps.
		FeeReserve: 1_100_000,

		MinConfirmations: 19,
	})
}
