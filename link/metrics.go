package link

import (
	"sync/atomic"
)

// Metrics contains atomic counters for a link.
// Counters can be used as the value of a prometheus CounterFunc.
type Metrics struct {
	// SessionCount indicates the number of handshake sessions started.
	SessionCount atomic.Uint64
	// FrameSendCount indicates the number of frames and control sequences written.
	FrameSendCount atomic.Uint64
	// FrameRecvCount indicates the number of verified frames received.
	FrameRecvCount atomic.Uint64
	// RetryCount indicates the number of stage retries.
	RetryCount atomic.Uint64
	// TimeoutCount indicates the number of expired stage timers.
	TimeoutCount atomic.Uint64
	// ChecksumErrCount indicates the number of frames dropped for a checksum mismatch.
	ChecksumErrCount atomic.Uint64
	// FramingErrCount indicates the number of resynchronizations after a corrupt prefix.
	FramingErrCount atomic.Uint64
	// NakCount indicates the number of negative acknowledgments received.
	NakCount atomic.Uint64
	// FailureCount indicates the number of sessions concluded as transmission failures.
	FailureCount atomic.Uint64
	// BusyCount indicates the number of commands rejected because the link was busy.
	BusyCount atomic.Uint64
	// PollSkipCount indicates the number of polls skipped because the link was busy.
	PollSkipCount atomic.Uint64
	// DiscardedBytes indicates the number of noise bytes dropped by the decoder.
	DiscardedBytes atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Sessions       uint64 `json:"sessions"`
	FramesSent     uint64 `json:"frames_sent"`
	FramesRecv     uint64 `json:"frames_recv"`
	Retries        uint64 `json:"retries"`
	Timeouts       uint64 `json:"timeouts"`
	ChecksumErrors uint64 `json:"checksum_errors"`
	FramingErrors  uint64 `json:"framing_errors"`
	Naks           uint64 `json:"naks"`
	Failures       uint64 `json:"failures"`
	Busy           uint64 `json:"busy"`
	PollsSkipped   uint64 `json:"polls_skipped"`
	DiscardedBytes uint64 `json:"discarded_bytes"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Sessions:       m.SessionCount.Load(),
		FramesSent:     m.FrameSendCount.Load(),
		FramesRecv:     m.FrameRecvCount.Load(),
		Retries:        m.RetryCount.Load(),
		Timeouts:       m.TimeoutCount.Load(),
		ChecksumErrors: m.ChecksumErrCount.Load(),
		FramingErrors:  m.FramingErrCount.Load(),
		Naks:           m.NakCount.Load(),
		Failures:       m.FailureCount.Load(),
		Busy:           m.BusyCount.Load(),
		PollsSkipped:   m.PollSkipCount.Load(),
		DiscardedBytes: m.DiscardedBytes.Load(),
	}
}

func (m *Metrics) incSessionCount()     { m.SessionCount.Add(1) }
func (m *Metrics) incFrameSendCount()   { m.FrameSendCount.Add(1) }
func (m *Metrics) incFrameRecvCount()   { m.FrameRecvCount.Add(1) }
func (m *Metrics) incRetryCount()       { m.RetryCount.Add(1) }
func (m *Metrics) incTimeoutCount()     { m.TimeoutCount.Add(1) }
func (m *Metrics) incChecksumErrCount() { m.ChecksumErrCount.Add(1) }
func (m *Metrics) incFramingErrCount()  { m.FramingErrCount.Add(1) }
func (m *Metrics) incNakCount()         { m.NakCount.Add(1) }
func (m *Metrics) incFailureCount()     { m.FailureCount.Add(1) }
func (m *Metrics) incBusyCount()        { m.BusyCount.Add(1) }
func (m *Metrics) incPollSkipCount()    { m.PollSkipCount.Add(1) }

func (m *Metrics) addDiscardedBytes(n int) {
	if n > 0 {
		m.DiscardedBytes.Add(uint64(n))
	}
}
