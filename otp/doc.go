// Package otp verifies secondary authentication factors. Time-based codes
// follow RFC 6238 (6 digits, 30 second steps, ±1 step skew by default);
// static codes apply the same HMAC primitive to a caller-supplied 32
// character base32 key at a fixed counter. Enrollment material includes the
// otpauth:// URI and a rendered QR image.
package otp
