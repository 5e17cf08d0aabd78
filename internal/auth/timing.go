package auth

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig sets the response-time floor for credential failures
type TimingConfig struct {
	BaseDelayMs   int // floor in milliseconds
	RandomDelayMs int // uniform jitter added on top of the floor
}

// TimingDelay pads failing credential and account lookups to a common floor
// so an unknown account and a wrong password take about the same time.
type TimingDelay struct {
	config TimingConfig
}

func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

// jitter returns a uniform value in [0, max) from crypto/rand
func jitter(max int) time.Duration {
	if max <= 0 {
		return 0
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return time.Duration(binary.BigEndian.Uint64(b[:])%uint64(max)) * time.Millisecond
}

// Floor returns the padded duration for one call: the base delay plus jitter
func (td *TimingDelay) Floor() time.Duration {
	return time.Duration(td.config.BaseDelayMs)*time.Millisecond + jitter(td.config.RandomDelayMs)
}

// WaitFrom sleeps until at least Floor has elapsed since start. Work done
// since start counts toward the floor.
func (td *TimingDelay) WaitFrom(start time.Time) {
	if remaining := td.Floor() - time.Since(start); remaining > 0 {
		time.Sleep(remaining)
	}
}
