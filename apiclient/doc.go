// Package apiclient is the authenticated HTTP client used to talk to the
// money-transfer backend.
//
// Every request is resolved against a base URL and, when the session store
// holds a session, carries "Authorization: Bearer <access token>". When the
// backend answers 401 the client exchanges the stored refresh token for a
// new access token, persists it, and replays the original request exactly
// once. Callers only see the replayed response.
//
// # Refresh semantics
//
//   - A 401 from the refresh endpoint itself is returned unchanged.
//   - A 401 on the replayed request is terminal: the session is cleared and
//     session-invalidated subscribers are notified.
//   - A failed refresh clears the session, notifies subscribers and returns
//     a *RefreshError that matches both ErrRefreshFailed and ErrUnauthorized.
//   - Concurrent 401s share a single in-flight refresh. A request that lost
//     the race simply replays with the access token that is now stored.
//
// Transport errors and non-401 HTTP errors are returned as-is; there is no
// other retry or backoff policy.
//
// # Requests
//
// Request is an immutable descriptor. The attempt counter lives inside Do,
// never on the descriptor, so a Request may be reused or shared between
// goroutines.
//
//	c, err := apiclient.New("https://api.example/api/v1", store,
//	    apiclient.WithOnSessionInvalidated(func(ctx context.Context, err error) {
//	        // send the user back to login
//	    }),
//	)
//	var txs []Transaction
//	err = c.GetJSON(ctx, "/transactions/", nil, &txs)
package apiclient
