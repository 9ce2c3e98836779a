// Package backend is the sync engine's view of the remote service.
//
// # Overview
//
// The package provides:
//  1. The Backend interface the sync service pushes to and pulls from:
//     PushCreate/PushUpdate/PushDelete, PullChangesSince, FetchRecord and Ping.
//  2. A gRPC implementation (see GRPCBackend) that manages a connection,
//     injects the access token through an interceptor, refreshes an expired
//     token when the token source can, and maps gRPC status codes onto the
//     sentinel errors of package common.
//  3. Token sources (see StaticTokenSource) that check JWT expiry locally so
//     an expired credential never leaves the device.
//
// # Error Handling
//
// Every error returned by a Backend call matches one of common.ErrAuthRejected,
// common.ErrConflict, common.ErrValidation or common.ErrTransient under
// errors.Is. A missing remote record additionally matches common.ErrNotFound.
package backend
