// Package anihive is the auth edge of the AniHive site. Identity is owned by
// an external service; this package keeps the request side in sync with it.
//
// Session state:
//   - AuthStore holds the session, user and profile of one request and
//     notifies subscribers on every change. A Bootstrapper fills it from the
//     identity client, follows session events and loads the profile of the
//     signed in user. Results that arrive late are dropped through
//     LatestWins tickets instead of overwriting newer state.
//   - MountSession wires both into a fiber app. It must run after
//     identity.Factory.Middleware and the proxy middleware.
//
// Forms:
//   - AuthController serves login, registration, email verification and the
//     password reset pages. Input is validated locally before the identity
//     service is called, and a SubmitGuard collapses duplicate submissions.
//     Flash messages and the pending verification email live in the fiber
//     session.
//
// Activity sinks:
//   - ActivitySink receives login, registration, verification, reset and
//     sign out events. Sinks run best effort (errors are logged) so you can
//     forward to a database or queue without blocking the forms.
package anihive
