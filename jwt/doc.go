// Package jwt wraps golang-jwt/v5 into the engine's credential codec:
// HMAC-SHA-512 signed claims of the shape {user:{id,...}, jti, iat, exp, iss}
// where jti is the backing authentication token's secret. ParseExpired
// exists for the refresh path, which must read claims out of credentials
// whose exp has already lapsed.
package jwt
