/*
Package rounds provides functionality for registering memory game rounds, dispatching
confidential pair verifications, and recording settlements.

Each round starts with the owner registering a board of 16 encrypted cards and the
cluster key that sealed them. A second board can be attached later to the same round.
Card values never appear in the clear; when a player flips two cards, the registry
submits the pair to the confidential compute cluster and tracks the request in an
in-memory ledger until a verdict arrives.

Verdicts come back signed by the cluster. The registry verifies the signature against
the configured cluster public key, drops verdicts it never asked for, and republishes
accepted ones as events for the round owner to consume. The match result inside a
verdict stays encrypted end to end; only the owner can open it.

Rounds and their running tallies are persisted in a database, so registrations and
settlements survive a restart. In-flight verifications are not persisted: a verdict
that arrives for a request from a previous life of the process is discarded, and the
owner is expected to flip the pair again.
*/
package rounds
