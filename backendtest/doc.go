// Package backendtest runs an in-memory fake of the remittance backend's
// admin API over HTTP.
//
// It issues HS256 access tokens with a configurable lifetime and opaque
// refresh tokens that are never rotated. Tests can force every access token
// to expire or make the refresh endpoint fail, and inspect how many
// refreshes were requested. The remitadmin demo command serves it in-process.
//
//	srv := backendtest.New()
//	defer srv.Close()
//	client, _ := apiclient.New(srv.BaseURL(), memorystore.New(nil))
package backendtest
