// Package auth authenticates chat users.
//
// Clients present an HS256 JWT whose "sub" claim is their user id, either in
// the Authorization header or, for the websocket upgrade, in the access_token
// query parameter. HTTPAuthMiddleware verifies the token, checks the user
// exists and stores the id in the request context:
//
//	mux.Handle("/api/", auth.HTTPAuthMiddleware(users, verifier, logger)(api))
//	userID := auth.UserFromContext(r.Context())
//
// When auth.jwt_secret is empty NewVerifier returns DevVerifier, which takes
// the token itself as the user id. That mode exists for local development.
package auth
