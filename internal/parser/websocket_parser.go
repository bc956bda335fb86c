package parser

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/studiowebux/wsprobe/internal/types"
)

// ParseWebSocketPlan parses the .ws plan format:
//
//	### chat join
//	WEBSOCKET ws://localhost:8080/chat
//	# @response "joined"
//	# @close bye
//	# @backlog 5
//	Authorization: Bearer {{token}}
//
//	> {"join":"lobby"}
//
// Annotations and headers come before the > line; everything from the >
// line on is the request payload.
func ParseWebSocketPlan(r io.Reader) (*types.Plan, error) {
	plan := &types.Plan{
		Sampler: types.SamplerConfig{
			Headers: make(map[string]string),
		},
	}
	s := &plan.Sampler

	var body []string
	inBody := false
	seenURL := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		line := scanner.Text()
		lineNum++

		if inBody {
			body = append(body, line)
			continue
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		// Plan name: ### name
		if strings.HasPrefix(trimmed, "###") {
			plan.Name = strings.TrimSpace(strings.TrimPrefix(trimmed, "###"))
			continue
		}

		// Connection line: WEBSOCKET url
		if strings.HasPrefix(strings.ToUpper(trimmed), "WEBSOCKET ") {
			if err := applyURL(s, strings.TrimSpace(trimmed[len("WEBSOCKET "):])); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			seenURL = true
			continue
		}

		// Payload: > content
		if strings.HasPrefix(trimmed, ">") {
			inBody = true
			if content := strings.TrimSpace(strings.TrimPrefix(trimmed, ">")); content != "" {
				body = append(body, content)
			}
			continue
		}

		if strings.HasPrefix(trimmed, "#") {
			annotation := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			if !strings.HasPrefix(annotation, "@") {
				continue // plain comment
			}
			if err := applyAnnotation(plan, annotation); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			continue
		}

		// Header: Key: Value
		if parts := strings.SplitN(trimmed, ":", 2); len(parts) == 2 {
			s.Headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
			continue
		}

		return nil, fmt.Errorf("line %d: unexpected content %q", lineNum, trimmed)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	if !seenURL {
		return nil, fmt.Errorf("no WEBSOCKET url found in file")
	}

	// Drop trailing blank lines of the payload
	for len(body) > 0 && strings.TrimSpace(body[len(body)-1]) == "" {
		body = body[:len(body)-1]
	}
	s.RequestData = strings.Join(body, "\n")

	if len(s.Headers) == 0 {
		s.Headers = nil
	}

	return plan, nil
}

func applyAnnotation(plan *types.Plan, annotation string) error {
	s := &plan.Sampler

	name, value, _ := strings.Cut(annotation, " ")
	value = strings.TrimSpace(value)

	if strings.HasPrefix(name, "@tls.") {
		if s.TLS == nil {
			s.TLS = &types.TLSConfig{}
		}
		switch name {
		case "@tls.certFile":
			s.TLS.CertFile = value
		case "@tls.keyFile":
			s.TLS.KeyFile = value
		case "@tls.caFile":
			s.TLS.CAFile = value
		case "@tls.insecureSkipVerify":
			s.TLS.InsecureSkipVerify = value == "" || value == "true"
		default:
			return fmt.Errorf("unknown annotation %s", name)
		}
		return nil
	}

	var err error
	switch name {
	case "@name":
		s.Name = value
	case "@connectionId":
		s.ConnectionID = value
	case "@connectTimeout":
		s.ConnectTimeoutMs = value
	case "@responseTimeout":
		s.ResponseTimeoutMs = value
	case "@backlog":
		s.MessageBacklog = value
	case "@response":
		s.ResponsePattern = value
	case "@close":
		s.CloseConnectionPattern = value
	case "@streaming":
		s.StreamingConnection = value == "" || value == "true"
	case "@clearBacklog":
		s.ClearBacklog = value == "" || value == "true"
	case "@subprotocol":
		s.Subprotocols = append(s.Subprotocols, value)
	case "@retries":
		s.ConnectRetries, err = strconv.Atoi(value)
	case "@connections":
		plan.Load.Connections, err = strconv.Atoi(value)
	case "@iterations":
		plan.Load.Iterations, err = strconv.Atoi(value)
	case "@rampUp":
		plan.Load.RampUpSec, err = strconv.Atoi(value)
	case "@duration":
		plan.Load.DurationSec, err = strconv.Atoi(value)
	case "@pause":
		plan.Load.PauseMs, err = strconv.Atoi(value)
	default:
		return fmt.Errorf("unknown annotation %s", name)
	}
	if err != nil {
		return fmt.Errorf("%s expects a number, got %q", name, value)
	}
	return nil
}

// applyURL splits a WebSocket URL into the sampler's protocol, server, port
// and path. Template expressions are allowed anywhere, so net/url is not
// used.
func applyURL(s *types.SamplerConfig, raw string) error {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || scheme == "" {
		return fmt.Errorf("websocket url %q has no scheme", raw)
	}
	s.Protocol = strings.ToLower(scheme)

	hostport := rest
	if i := strings.Index(rest, "/"); i >= 0 {
		hostport = rest[:i]
		s.Path = rest[i:]
	}

	if strings.HasPrefix(hostport, "[") {
		end := strings.Index(hostport, "]")
		if end < 0 {
			return fmt.Errorf("websocket url %q has an unterminated IPv6 host", raw)
		}
		s.Server = hostport[1:end]
		s.Port = strings.TrimPrefix(hostport[end+1:], ":")
	} else if i := strings.LastIndex(hostport, ":"); i >= 0 {
		s.Server = hostport[:i]
		s.Port = hostport[i+1:]
	} else {
		s.Server = hostport
	}

	if s.Server == "" {
		return fmt.Errorf("websocket url %q has no host", raw)
	}
	return nil
}
