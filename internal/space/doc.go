// Package space defines the coordination-space protocol the rest of the
// system is built on, plus the small helpers every component shares.
//
// A space stores immutable tuples and offers three atomic template-match
// primitives: Write, Read (non-destructive) and Take (match-and-remove).
// Tuples and event registrations are bounded by leases; operations can be
// grouped in short-lived transactions that commit or abort together.
//
// Components never talk to a backend directly. They receive a *Handle,
// resolve the Space lazily through it and use the typed helpers:
//
//	sp, err := handle.Get(ctx)
//	topic, err := space.Read(ctx, sp, domain.TopicByID(id), nil, time.Second)
//	all, err := space.FindAllAs(ctx, sp, domain.Topic{}, nil)
//	err = space.WithTransaction(ctx, sp, 3*time.Second, func(txn space.Transaction) error { ... })
//
// Backends live in subpackages: memory (in-process, used by tests and single
// node deployments) and surreal (SurrealDB, shared between processes).
//
// Isolation: a write inside a transaction is visible only to that
// transaction until commit; a take inside a transaction hides the tuple from
// everyone until commit and restores it on abort. Reads take no locks, so two
// transactions may both observe "absent" for the same key and both write.
package space
