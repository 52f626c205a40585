// Package realtime maintains the client's notification channel.
//
// Manager owns at most one websocket connection. After each drop it waits
// base*2^(attempt-1) and dials again, re-sending hello and
// subscribe_notifications every time the connection is (re)established.
// Once the attempt counter exceeds MaxAttempts the manager parks in Failed
// and stays there until the embedding application calls Connect again.
//
// Inbound new_notification and unread_count_update envelopes are published
// on the signals bus with their raw payload; the manager does not decode them.
package realtime
