package cluster

const (
	defaultWorkers    = 2
	defaultQueueDepth = 64
)

//nolint:lll
type Config struct {
	Workers    int `long:"cluster-workers"     description:"Number of concurrent verification workers"`
	QueueDepth int `long:"cluster-queue-depth" description:"Capacity of the verification request queue"`
}

func DefaultConfig() Config {
	return Config{
		Workers:    defaultWorkers,
		QueueDepth: defaultQueueDepth,
	}
}
