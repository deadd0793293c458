// Package delivery pushes session notifications to users with a fallback
// chain and a last-resort operator report.
//
// # Transport
//
// The dispatcher delegates to a Messenger (the Telegram adapter in
// production) and asks a ScopeOracle before posting into a scope. All
// outbound calls share one rate limiter and each call is bounded by
// Config.CallTimeout. There are no retries: a failed tier falls through to
// the next one.
package delivery
