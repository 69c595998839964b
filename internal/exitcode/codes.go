package exitcode

// Exit codes for the mosaic CLI.
// A scheduler can use these to decide retry strategy.
const (
	// Success - mosaic produced (and published, when configured)
	Success = 0

	// ConfigError - missing or invalid configuration or flags
	// Don't retry: fix the config first
	ConfigError = 1

	// NetworkError - archive listing or download failed
	// Retry with backoff
	NetworkError = 2

	// NoData - no radar volume found within the look-back window
	// Retry later or widen the window
	NoData = 3

	// StorageError - failed to write the raster or upload it
	// Retry with backoff
	StorageError = 4

	// DataError - a downloaded volume could not be decoded or gridded
	// Don't retry: investigate the data
	DataError = 5

	// Interrupted - run cancelled by a signal
	Interrupted = 130
)
