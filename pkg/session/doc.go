/*
Package session implements the session store that every pipeline write goes through.

Manager layers the session lifecycle (claim, commit, finish, rewind, tombstone) on top of
any ports.StateStore. Writes to the same session are serialized by a reference-counted
per-session mutex, optionally backed by a distributed lock across replicas. Reads take no
lock: backends commit whole records atomically, so Get always returns the last committed
record.

Sweeper periodically purges sessions that outlived the configured retention.
*/
package session
