// Package transport connects socket controllers to real WebSocket servers
// using gorilla/websocket.
//
// Connect dials in the background and reports the outcome as socket events:
//
//	ctrl := socket.NewController(cfg)
//	conn := transport.Connect(ctx, cfg, ctrl)
//	if !ctrl.AwaitOpen(cfg.ConnectTimeout()) {
//		conn.Abort()
//	}
//
// Each Conn runs one reader goroutine. Writes are serialized, a client close
// is sent at most once, and a server that never echoes the close frame is
// dropped after a short grace period. Failed dials are retried with
// exponential backoff up to the configured number of retries.
package transport
