package config

import (
	"fmt"
	"runtime"
	"time"
)

// DefaultAppID matches the protocol default application identifier.
const DefaultAppID = "generic-caf-app"

// BASPConfig tunes the protocol engine and the broker around it.
type BASPConfig struct {
	// AppIdentifiers is the whitelist peers must share at least one entry of.
	AppIdentifiers []string `mapstructure:"app_identifiers"`
	// Workers decode payloads off the event loop; 0 decodes inline.
	// Defaults to DefaultWorkers().
	Workers     int `mapstructure:"workers"`
	WorkerQueue int `mapstructure:"worker_queue"`
	// HeartbeatIntervalMS of 0 disables heartbeats.
	HeartbeatIntervalMS int    `mapstructure:"heartbeat_interval_ms"`
	MaxPayloadBytes     uint32 `mapstructure:"max_payload_bytes"`
	// EgressBytesPerSec shapes outbound traffic per connection; 0 = unlimited.
	EgressBytesPerSec int64 `mapstructure:"egress_bytes_per_sec"`
}

// DefaultWorkers sizes the decode pool from the CPU count, between 1 and 4.
func DefaultWorkers() int {
	return min(3, runtime.NumCPU()/4) + 1
}

// HeartbeatInterval returns the heartbeat period.
func (b BASPConfig) HeartbeatInterval() time.Duration {
	return time.Duration(b.HeartbeatIntervalMS) * time.Millisecond
}

func (b *BASPConfig) validate() error {
	if len(b.AppIdentifiers) == 0 {
		b.AppIdentifiers = []string{DefaultAppID}
	}
	for i, id := range b.AppIdentifiers {
		if id == "" {
			return fmt.Errorf("basp.app_identifiers[%d] is empty", i)
		}
	}
	if b.Workers < 0 || b.WorkerQueue < 0 {
		return fmt.Errorf("basp.workers and basp.worker_queue must not be negative")
	}
	if b.HeartbeatIntervalMS < 0 {
		return fmt.Errorf("basp.heartbeat_interval_ms must not be negative")
	}
	return nil
}
