// Package redisstore provides a Redis-backed sessions.Store.
//
// The session is kept in three keys, one per persisted field, under a
// configurable prefix:
//
//	<prefix>access_token
//	<prefix>refresh_token
//	<prefix>user
//
// Set and Clear run in a MULTI/EXEC transaction so readers never observe a
// half-written session. SetAccessToken uses SET XX KEEPTTL so that a refresh
// racing a logout can't resurrect a cleared session.
//
// Configuration can be loaded from the environment with NewFromEnv:
//
//	REDIS_ADDR          (default localhost:6379)
//	REDIS_DB            (default 0)
//	SESSION_KEY_PREFIX  (default remitadmin:session:)
//	SESSION_TTL         (default 0, no expiry)
package redisstore
