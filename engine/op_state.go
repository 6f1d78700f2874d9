package engine

import "sync/atomic"

// opState is the connection lifecycle of an engine.
type opState uint32

const (
	closedState opState = iota
	closingState
	connectingState
	connectedState
)

func (s opState) String() string {
	switch s {
	case closedState:
		return "closed"
	case closingState:
		return "closing"
	case connectingState:
		return "connecting"
	case connectedState:
		return "connected"
	default:
		return "unknown"
	}
}

type atomicOpState struct {
	state atomic.Uint32
}

func (st *atomicOpState) String() string { return st.Get().String() }

// Get returns the current state.
func (st *atomicOpState) Get() opState {
	return opState(st.state.Load())
}

func (st *atomicOpState) Set(state opState) {
	st.state.Store(uint32(state))
}

func (st *atomicOpState) IsClosed() bool    { return st.Get() == closedState }
func (st *atomicOpState) IsConnected() bool { return st.Get() == connectedState }

func (st *atomicOpState) ToConnecting() bool {
	return st.cas(closedState, connectingState)
}

func (st *atomicOpState) ToConnected() bool {
	return st.cas(connectingState, connectedState)
}

// ToClosing starts closing a connected or connecting engine.
func (st *atomicOpState) ToClosing() bool {
	if st.cas(connectedState, closingState) {
		return true
	}

	return st.cas(connectingState, closingState)
}

// ToClosed ends the connection from any state.
func (st *atomicOpState) ToClosed() {
	st.Set(closedState)
}

func (st *atomicOpState) cas(from, to opState) bool {
	return st.state.CompareAndSwap(uint32(from), uint32(to))
}
