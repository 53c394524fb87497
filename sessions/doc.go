// Package sessions defines the client-held session of an authenticated
// administrator and the storage abstraction it lives behind.
//
// A Session is the pair of tokens returned by the backend at login plus the
// opaque profile document that came with them. The API client reads the
// session before every request to attach a bearer token, rewrites the access
// token after a successful refresh and clears the whole session when a
// refresh is rejected.
//
// # Stores
//
// Store has four methods (Get / Set / SetAccessToken / Clear); with it
// the client never depends on where the session actually lives:
//
//	memorystore : process-local store used by tests and the demo backend
//	filestore   : JSON document on disk, shared by successive CLI invocations
//	redisstore  : three Redis keys, shared by several processes or hosts
//
// All implementations are exercised by the conformance suite in
// sessionstoretest.
//
// # Token inspection
//
// AccessTokenExpiry reads the "exp" claim of a JWT access token without
// verifying its signature. The client never holds the backend's signing key;
// the value is only used to schedule an early refresh and for display.
package sessions
