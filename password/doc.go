// Package password hashes and verifies passwords with argon2id.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Verify reads the cost parameters from the stored hash, and NeedsUpgrade
// reports when a hash was produced with weaker settings than the current
// Config. This package never stores or logs plaintext.
package password
