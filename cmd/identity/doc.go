// Package identity is the credential store: users, their password hashes and
// the set of live refresh-token digests.
//
// Two stores implement Store. MemoryStore serves dev mode and tests;
// PostgresStore persists to the users table created by the embedded
// migrations. Both apply token-set writes as compare-and-swap so the session
// layer can detect concurrent rotation without a global lock.
package identity
