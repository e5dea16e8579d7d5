package featureflag

type Flag string

const (
	FlagDisableTileCache          Flag = "DISABLE_TILE_CACHE"
	FlagDisableEviction           Flag = "DISABLE_EVICTION"
	FlagDisableFetchBackoff       Flag = "DISABLE_FETCH_BACKOFF"
	FlagDisablePointsBroadcast    Flag = "DISABLE_POINTS_BROADCAST"
	FlagDisableCompressedTransfer Flag = "DISABLE_COMPRESSED_TRANSFER"
)
