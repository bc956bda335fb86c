// Package sampler runs single WebSocket sampler iterations on top of the
// socket controller and the gorilla transport.
//
// A Sampler belongs to one worker. Non-streaming samples open and close
// their own connection. Streaming samples keep the connection in the
// worker's Connections registry, keyed by URL and connection id, and later
// samples with the same key rearm it instead of reconnecting.
package sampler
