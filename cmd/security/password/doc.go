// Package password hashes and verifies user passwords with Argon2id.
//
// Hashes use the PHC string form
// $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt>$<key>, so cost parameters
// travel with each hash and can be raised without invalidating old ones.
// Stored hashes are parsed as untrusted input and rejected when their
// parameters exceed twice the configured cost.
package password
