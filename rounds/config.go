package rounds

const (
	defaultMaxPendingRequests = 1024
	defaultCacheSize          = 512
)

//nolint:lll
type Config struct {
	MaxPendingRequests int `long:"max-pending-requests" description:"Maximum number of in-flight verification requests"`
	CacheSize          int `long:"round-cache-size"     description:"Number of rounds kept in the in-memory read cache"`
}

func DefaultConfig() Config {
	return Config{
		MaxPendingRequests: defaultMaxPendingRequests,
		CacheSize:          defaultCacheSize,
	}
}
