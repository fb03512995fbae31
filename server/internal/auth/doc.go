// Package auth provides the HTTP basic-auth middleware guarding /check.
//
// Callers authenticate with any username and an API key as the password.
// Each key belongs to a named scope; the scope is attached to the request
// context and logged. Scopes.Replace swaps the key table on config reload.
//
// With mode "none" all requests pass through, which is meant for local
// development.
package auth
