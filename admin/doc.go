// Package admin exposes the back-office operations of the money-transfer
// backend as typed Go calls: administrator login and logout, transaction
// listing, lookup and search, validation and cancellation of pending
// transactions, customer search and promotional notifications.
//
// Every call goes through an *apiclient.Client, so credentials are attached
// and expired access tokens are refreshed transparently. Login is the only
// call sent without credentials; it persists the returned tokens and profile
// in the client's session store, and refuses accounts whose role is not
// admin.
package admin
