/*
Package socket implements the per-connection controller of the probe.

A Controller owns one WebSocket binding: it receives transport events
(open, message, close, dial failure) through Handle, keeps a bounded
backlog of received bodies, evaluates the completion patterns on every
inbound message and exposes two one-shot gates the caller blocks on:

	ctrl := socket.NewController(cfg, socket.WithLogger(log))
	transport.Connect(ctx, cfg, ctrl)

	if !ctrl.AwaitOpen(cfg.ConnectTimeout()) || !ctrl.IsConnected() {
		// cannot connect
	}
	_ = ctrl.SendMessage(cfg.RequestData)
	done := ctrl.AwaitClose(cfg.ResponseTimeout())
	fmt.Println(done, ctrl.ResponseMessage(), ctrl.ErrorCode())

# Gates

The open gate releases on the open event, on a close event and on a
failed dial. The close gate releases when the response pattern matches,
when the server closes the connection and when the client closes it.
Releasing a released gate does nothing.

# Patterns

The response pattern marks the exchange as complete and leaves the
connection open. The disconnect pattern makes the controller close the
connection with status 1000. Without a response pattern any message that
does not trigger a disconnect completes the exchange. Patterns use
regexp2 syntax and are compiled once per binding after template
expansion; an invalid pattern is recorded in the trace and ignored.

# Framing

Outbound text is sent as "<length>|<body>"; a leading "<digits>|" is
stripped from inbound text before it is stored.

# Reuse

Rearm binds a controller to the next iteration of a streaming sampler.
It resets the trace, the error code and the patterns and arms a new close
gate; the session, the open gate and the backlog carry over.
*/
package socket
