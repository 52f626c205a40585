// Package password hashes and verifies dev backend account passwords with
// Argon2id.
//
// Hashes use the PHC string form
// $argon2id$v=19$m=<KiB>,t=<passes>,p=<lanes>$<salt>$<key> and are treated as
// untrusted on Verify: a hash whose parameters are far above the configured
// cost is rejected instead of computed.
package password
