package chain

func init() {
	Register(&Params{
		Code:     "SOL",
		Name:     "Solana",
		Family:   FamilySolana,
		Decimals: 9,

		// SLIP-0010 ed25519, fully hardened m/44'/501'/index'
		Purpose:  44,
		CoinType: 501,

		PriceID: "solana",

		// Keep enough lamports behind to pay the transfer fee.
		FeeReserve: 5000,

		MinConfirmations: 1,
	})
}
