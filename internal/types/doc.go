/*
Package types defines the data structures shared across wsprobe.

# Plans

Plan is the document loaded from a .yaml, .json or .jsonc plan file:
  - Variables available to {{name}} template expressions
  - One SamplerConfig
  - A LoadProfile (connections, iterations, ramp-up, duration, pause)

# Sampler configuration

SamplerConfig carries everything one WebSocket sampler needs: target
(protocol, server, port, path), handshake headers and subprotocols, the
request payload, the response and disconnect patterns, the message
backlog size, timeouts and whether the connection is kept open across
iterations (streaming).

Numeric settings are stored as text because plans may fill them with
template expressions. They are resolved through explicit methods with
typed defaults:

	BacklogSize()     -> DefaultMessageBacklog (3)
	ConnectTimeout()  -> DefaultConnectTimeout (20s)
	ResponseTimeout() -> DefaultResponseTimeout (20s)

# Results

SampleResult is the outcome of one iteration: the assembled response
text, connection and match flags, the abnormal close code if any, timings
and the rendered execution trace.

# Example Plan

	name: chat echo
	variables:
	  room: lobby
	sampler:
	  server: localhost
	  port: "8080"
	  path: /ws/{{room}}
	  requestData: '{"join":"{{room}}"}'
	  responsePattern: '"joined"'
	  closeConnectionPattern: 'bye'
	  messageBacklog: "5"
	load:
	  connections: 10
	  iterations: 500
	  rampUp: 5
*/
package types
