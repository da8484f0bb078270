// Package tokens is the durable task-token registry. A token is issued when a
// stage suspends on an external callback and resolved exactly once when the
// callback (or the reconciliation sweep) claims it. Claiming flips a tombstone
// with a conditional update, so duplicate callbacks observe that the token was
// already spent instead of resuming the document twice.
package tokens
