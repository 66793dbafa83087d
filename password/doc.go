// Package password hashes passwords with argon2id and enforces the byte
// length policy on new ones.
//
// Hashes are PHC strings with unpadded base64 segments:
//
//	$argon2id$v=19$m=<KiB>,t=<passes>,p=<threads>$<salt>$<key>
//
// Verification always uses the parameters stored in the hash. After a
// successful login the engine calls [Argon2.NeedsUpgrade] and re-hashes
// when the configured cost has gone up.
package password
