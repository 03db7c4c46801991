// Package auth verifies who is connecting to the presence gateway.
//
// Credentials are HS256 JWTs issued elsewhere. The gateway only verifies
// them and reads three claims:
//
//   - sub: the identity code (e.g. "AG001")
//   - role: "Agent", "Supervisor" or "Admin"
//   - team: the team ID (optional)
//
// HTTP requests carry the token as "Authorization: Bearer <token>". Socket
// upgrades may pass it as a "token" query parameter instead, since browsers
// cannot set headers on a WebSocket handshake.
//
//	v, err := auth.NewJWTVerifier(secret)
//	router.Use(auth.HTTPAuthMiddleware(v))
//	p, ok := auth.FromContext(r.Context())
package auth
