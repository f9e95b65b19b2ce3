// Package password implements the primary-factor digest: argon2id in PHC
// string format with constant-time verification and parameter-upgrade
// detection.
package password
