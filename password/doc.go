// Package password hashes and verifies passwords with argon2id.
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<key>
//
// Strength policy is not enforced here. The recovery engine scores passwords
// before they reach the Hasher.
package password
