// Package credential persists the client's credential bundle and device identity.
//
// The bundle (access token, refresh token, expiry estimate) is always written
// as one structured value. Reads tolerate two older storage shapes: discrete
// per-field keys and a single bare access-token key. Reads never fail; a
// corrupt or partial value is logged and treated as absent.
//
// The device identity lives under its own key. Clear leaves it in place;
// ClearAll removes it too and is reserved for logout and terminal refresh
// failure.
package credential
