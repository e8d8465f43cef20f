// Package authsdk provides the wire types and a client for the Atrium
// authentication service.
//
// # SDKClient vs Session
//
//   - SDKClient: unauthenticated operations (login, register, password reset, health)
//   - Session: operations on behalf of a signed in user, with automatic token refresh
//
// A typical sign in:
//
//	client := authsdk.NewSDKClient("https://auth.example.com")
//
//	session, err := client.Login(ctx, authsdk.LoginRequest{
//		Email:    "ada@example.com",
//		Password: password,
//	})
//	if errors.Is(err, authsdk.ErrRateLimited) {
//		var apiErr *authsdk.APIError
//		errors.As(err, &apiErr)
//		time.Sleep(apiErr.RetryAfter)
//	}
//
//	me, err := session.Me(ctx)
//
// The refresh token is never exposed. The service sets it as an HttpOnly cookie
// and the client's cookie jar replays it on refresh. State changing Session calls
// fetch a CSRF token from the /csrf body and echo it in the X-CSRF-Token header.
//
// # Errors
//
// Every non-2xx response is returned as an *APIError. Compare against the
// predefined errors with errors.Is; the comparison is by error code.
//
// # Server side
//
// The same types are used by the service handlers, so the JSON on both ends of
// the wire is defined in one place.
package authsdk
