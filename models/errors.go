package models

// Error types shared across packages, attached with errors.WithType and
// matched with errors.IsType.
const (
	// The tile index could not be fetched. Halts streaming for the dataset
	// and is surfaced to the viewer.
	ErrTypeIndexFetch = "index_fetch"

	// A single (tile, level) fetch failed. Recovered silently by the next
	// qualifying tick.
	ErrTypeTileFetch = "tile_fetch"

	// A fetch completed for a dataset session that is no longer active. The
	// result is discarded, never merged.
	ErrTypeStaleResponse = "stale_response"

	// A viewer message did not match its schema.
	ErrTypeBadMessage = "bad_message"

	// An operation that requires a joined dataset session was received
	// before a join.
	ErrTypeDatasetNotJoined = "dataset_not_joined"
)
