// Package transfer implements the shared state machine underneath the
// download and upload queue managers: the Transfer record itself, the status
// vocabulary, and a Registry that partitions each manager's transfers into
// queued, active and failed sets with per-user aggregates.
//
// A transfer is a member of at most one partition at a time. Freshly created
// and finished transfers belong to none. The Registry performs pure state
// bookkeeping; policy (filters, admission, scheduling, protocol messages)
// belongs to the managers that own a Registry instance.
//
// The package also provides the on-disk Store for transfer lists, including
// best-effort loaders for two prior list layouts.
package transfer
