// Package device models the state of a cash peripheral as seen from the host.
//
// A [Machine] consumes the dialect-independent [Status] reports decoded from
// poll and command responses and produces [Transition] values: the new
// [State], the application [Event] values in the order they happened, and the
// follow-up [Action] values the engine must issue (automatic rejection of
// unknown bills, vend-valid acknowledgements, deferred disables).
//
// Entering Accepting, Stacking, Returning or Rejecting arms a [Guard]. If the
// device stays in that state past the stuck timeout the machine emits a
// single [EventStuck] and leaves the state as it is.
package device
