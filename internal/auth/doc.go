// Package auth provides operator session authentication for parley.
//
// Visitors are never authenticated: their identity is a self-asserted token
// kept on the client. Operators authenticate with an HS256 JWT minted by
// `parley token` and signed with auth.jwt_secret.
//
// # Tokens
//
//	verifier, err := NewJWTVerifier(secret)
//	token, err := verifier.Generate("operator", 24*time.Hour)
//	session, err := verifier.Verify(token)
//
// Tokens carry "sub" (the operator identity), "role" ("operator"), "iat"
// and "exp".
//
// # HTTP
//
//	OptionalSessionMiddleware(verifier) // attaches a Session when a bearer token is sent
//	RequireOperator()                   // rejects requests without an operator Session
//
// Handlers and the conversation service read the caller with FromContext.
package auth
