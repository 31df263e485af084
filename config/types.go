package config

// Market describes everything listed on one hub: its assets, the spokes drawing
// from it and the reserves each spoke offers.
type Market struct {
	Name           string   `toml:"Name"`
	OracleDecimals uint8    `toml:"OracleDecimals"`
	Admins         []string `toml:"Admins"`
	Assets         []Asset  `toml:"Asset"`
	Spokes         []Spoke  `toml:"Spoke"`
}

// Asset lists one underlying token on the hub.
type Asset struct {
	Symbol          string `toml:"Symbol"`
	Decimals        uint8  `toml:"Decimals"`
	LiquidityFeeBps uint16 `toml:"LiquidityFeeBps"`
	FeeReceiver     string `toml:"FeeReceiver"`
	SupplyCap       string `toml:"SupplyCap"`
	Paused          bool   `toml:"Paused"`
	Rate            Rate   `toml:"Rate"`
}

// Rate selects the asset's interest-rate strategy. Kind is "fixed" (BaseBps
// only) or "curve" (kinked utilisation curve).
type Rate struct {
	Kind      string `toml:"Kind"`
	BaseBps   uint64 `toml:"BaseBps"`
	Slope1Bps uint64 `toml:"Slope1Bps"`
	Slope2Bps uint64 `toml:"Slope2Bps"`
	KinkBps   uint64 `toml:"KinkBps"`
}

// Spoke is an isolated market registered on the hub.
type Spoke struct {
	Name     string    `toml:"Name"`
	Address  string    `toml:"Address"`
	Reserves []Reserve `toml:"Reserve"`
}

// Reserve lists a hub asset on a spoke. SupplyCap and DrawCap bound the
// spoke's slice of the asset on the hub; Price seeds the spoke's oracle.
type Reserve struct {
	Asset               string `toml:"Asset"`
	SupplyCap           string `toml:"SupplyCap"`
	DrawCap             string `toml:"DrawCap"`
	Price               string `toml:"Price"`
	Borrowable          bool   `toml:"Borrowable"`
	Collateral          bool   `toml:"Collateral"`
	Frozen              bool   `toml:"Frozen"`
	LiquidationBonusBps uint16 `toml:"LiquidationBonusBps"`
	LiquidationFeeBps   uint16 `toml:"LiquidationFeeBps"`
	CollateralFactorBps uint16 `toml:"CollateralFactorBps"`
	LiquidityPremiumBps uint16 `toml:"LiquidityPremiumBps"`
}
