// Package dmaperr defines the error taxonomy shared by every coordination,
// transaction, and index component: conflict, decline, not-found,
// relinquished, transport, and invariant-violation errors.
//
// Conflicts and declines are transient and may be retried by the caller.
// The transaction layer does not retry them itself: NetTableTxn.Commit
// and MultiTableTxn.Commit return them to their caller, and only the
// legacy write lock retries declines internally (with Config.Persist
// set). Not-found, relinquished, and transport errors propagate to the
// caller; invariant violations indicate a programmer error and are never
// retried.
package dmaperr
