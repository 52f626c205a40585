// Package devserver is a local stand-in for the Pulse dashboard backend.
//
// It serves the REST auth surface (login, refresh with rotation and reuse
// detection, logout), a small notifications API and the realtime websocket
// gateway speaking pulse.realtime.v1. Integration tests and the
// pulse-devserver binary run it; state is kept in memory.
package devserver
