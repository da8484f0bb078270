// Package retry wraps external calls with bounded exponential backoff.
//
// Classification is explicit: a call is retried only when its error matches
// one of the transient markers in the services package. Backoff doubles from
// the policy's initial delay up to its cap, with randomized jitter added on
// top of each wait. Exhausting the attempt budget returns *ExhaustedError so
// the scheduler can record the failure at the right scope.
package retry
