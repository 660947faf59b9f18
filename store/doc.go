// Package store provides in-process implementations of the persistence
// contracts in core: the reminder job store and the appointment store. They
// keep everything in maps guarded by RWMutexes and copy records on save and
// retrieval, which makes them suitable for tests, examples and
// single-process deployments. Production deployments substitute durable
// implementations behind the same interfaces.
package store
