package config

import "runtime"

// Tuning holds channel buffer and pool sizes.
type Tuning struct {
	// Channel buffer sizes
	CommandQueueBuffer     int
	BroadcastChannelBuffer int
	ClientSendBuffer       int

	// Connection pools
	DBMaxOpenConns int
	DBMaxIdleConns int
	RedisPoolSize  int
}

// DefaultTuning returns sensible defaults for a single session server.
func DefaultTuning() Tuning {
	numCPU := runtime.NumCPU()

	return Tuning{
		CommandQueueBuffer:     256,
		BroadcastChannelBuffer: 256,
		ClientSendBuffer:       64,

		DBMaxOpenConns: numCPU * 4,
		DBMaxIdleConns: numCPU * 2,
		RedisPoolSize:  numCPU * 2,
	}
}

// StressTuning returns aggressive settings for load runs with ward-agitator.
func StressTuning() Tuning {
	numCPU := runtime.NumCPU()

	return Tuning{
		CommandQueueBuffer:     2048,
		BroadcastChannelBuffer: 1024,
		ClientSendBuffer:       256,

		DBMaxOpenConns: numCPU * 8,
		DBMaxIdleConns: numCPU * 4,
		RedisPoolSize:  numCPU * 4,
	}
}

// LowResourceTuning returns minimal settings for development and tests.
func LowResourceTuning() Tuning {
	return Tuning{
		CommandQueueBuffer:     16,
		BroadcastChannelBuffer: 16,
		ClientSendBuffer:       8,

		DBMaxOpenConns: 2,
		DBMaxIdleConns: 1,
		RedisPoolSize:  2,
	}
}

// TuningFor maps a profile name to its tuning. Unknown names get the default.
func TuningFor(profile string) Tuning {
	switch profile {
	case "stress":
		return StressTuning()
	case "low":
		return LowResourceTuning()
	}
	return DefaultTuning()
}
