package types

import "time"

// ScalingConfig holds the thresholds of the leader's load heuristic.
type ScalingConfig struct {
	ScaleUpRequests   int           // scale up when the window count exceeds this
	ScaleDownRequests int           // scale down when the window count is at most this...
	ScaleDownIdle     time.Duration // ...and the window is older than this
	Window            time.Duration // the window restarts once it is older than this
}

// Configuration is the broker configuration
type Configuration struct {
	BrokerHost  string
	BrokerPort  uint32
	PubPort     uint32
	ReplicaName string // defaults to the broker host

	CoordServers        []string
	CoordSessionTimeout time.Duration

	PollInterval   time.Duration
	RequestTimeout time.Duration

	Scaling ScalingConfig

	AddressCacheSize int
	MetricsAddress   string
	LogLevel         string
}

// DefaultScalingConfig returns the thresholds the broker ships with.
func DefaultScalingConfig() ScalingConfig {
	return ScalingConfig{
		ScaleUpRequests:   10,
		ScaleDownRequests: 5,
		ScaleDownIdle:     15 * time.Second,
		Window:            10 * time.Second,
	}
}

// DefaultConfiguration returns a Configuration with every field set to its default.
func DefaultConfiguration() Configuration {
	return Configuration{
		BrokerHost:          "127.0.0.1",
		BrokerPort:          5555,
		PubPort:             5556,
		CoordServers:        []string{"127.0.0.1:2181"},
		CoordSessionTimeout: 10 * time.Second,
		PollInterval:        time.Second,
		RequestTimeout:      15 * time.Second,
		Scaling:             DefaultScalingConfig(),
		AddressCacheSize:    256,
		LogLevel:            "INFO",
	}
}
