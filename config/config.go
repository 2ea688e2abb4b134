// Package config holds the tunables of the stream core. Defaults match the
// literal constants named in spec.md; a deployment may override them by
// loading a TOML file with github.com/BurntSushi/toml, the same library
// used elsewhere in this corpus (e.g. cppla-moto) for small config files.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Params collects every numeric knob the stream core consults. Field names
// match their spec.md §3/§4 counterparts.
type Params struct {
	// MSS is the maximum number of write_stream bytes packed into a
	// single Data segment.
	MSS int `toml:"mss"`

	// WriteCap is the write_stream backpressure threshold: handle writes
	// block while write_stream.Len() exceeds this.
	WriteCap int `toml:"write_cap"`

	// ReadDropCap is the read_stream size above which newly arrived Data
	// is silently dropped (flow control unified with congestion control).
	ReadDropCap int `toml:"read_drop_cap"`

	// ReordererCap bounds the number of out-of-order entries the
	// Reorderer will hold before silently discarding further inserts.
	ReordererCap int `toml:"reorderer_cap"`

	// MinRTO and MaxRTO floor/cap the RttCalculator's computed RTO.
	MinRTO time.Duration `toml:"min_rto"`
	MaxRTO time.Duration `toml:"max_rto"`

	// MaxRetransMultiple caps the exponential-backoff multiplier applied
	// to RTO on repeated retransmission of the same segment.
	MaxRetransMultiple float64 `toml:"max_retrans_multiple"`

	// SynResendInterval is how often an un-acked Syn is retransmitted.
	SynResendInterval time.Duration `toml:"syn_resend_interval"`

	// CloseDrainDuration is how long a Closed-phase stream keeps
	// answering incoming messages with Rst before it becomes evictable.
	CloseDrainDuration time.Duration `toml:"close_drain_duration"`

	// IdleRetickInterval is the next-tick deadline returned when nothing
	// else is pending (no outstanding RTO).
	IdleRetickInterval time.Duration `toml:"idle_retick_interval"`

	// ConnectionTimeout is the local backstop: if the oldest unacked
	// segment has been outstanding this long, the stream resets itself
	// rather than waiting forever for the outer multiplex's own
	// connection-wide timeout.
	ConnectionTimeout time.Duration `toml:"connection_timeout"`

	// AckDelay, if nonzero, batches acks instead of emitting one per
	// tick that saw new data (SPEC_FULL.md §4.1).
	AckDelay time.Duration `toml:"ack_delay"`

	// AckBatch is the number of distinct newly-acked seqnos that forces
	// an ack to be sent immediately, regardless of AckDelay.
	AckBatch int `toml:"ack_batch"`

	// Congestion selects the congestion-control algorithm: "highspeed"
	// or "cubic".
	Congestion string `toml:"congestion"`

	// CubicBeta and CubicC parameterize the cubic controller.
	CubicBeta float64 `toml:"cubic_beta"`
	CubicC    float64 `toml:"cubic_c"`
}

// Default returns the parameters implied directly by spec.md's literal
// constants.
func Default() Params {
	return Params{
		MSS:                1000,
		WriteCap:           100_000,
		ReadDropCap:        1_000_000,
		ReordererCap:       1024,
		MinRTO:             10 * time.Millisecond,
		MaxRTO:             time.Second,
		MaxRetransMultiple: 60,
		SynResendInterval:  time.Second,
		CloseDrainDuration: 30 * time.Second,
		IdleRetickInterval: 1000 * time.Second,
		ConnectionTimeout:  120 * time.Second,
		AckDelay:           0,
		AckBatch:           1,
		Congestion:         "highspeed",
		CubicBeta:          0.7,
		CubicC:             0.4,
	}
}

// Load reads Params from a TOML file, filling any field the file omits
// with Default()'s value.
func Load(path string) (Params, error) {
	p := Default()
	_, err := toml.DecodeFile(path, &p)
	return p, err
}
