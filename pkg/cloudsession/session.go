// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cloudsession is the mTLS-authenticated, reconnecting channel
// to the cloud controller (C10): a single websocket connection framed
// as {topic, payload} JSON messages, dialed with the agent's client
// certificate, redialed with bounded jittered backoff on any drop, and
// surfaced to the command dispatcher (C9) as inbound topic callbacks
// plus an outbound Emit.
package cloudsession

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgehost/orchestrator/pkg/websocketutil"
)

// message is the wire frame carried one per websocket text message in
// both directions: inbound commands and outbound replies/heartbeats
// alike. Payload is kept as a raw map so contract.Schema validates the
// original, unconverted JSON values.
type message struct {
	Topic   string         `json:"topic"`
	Payload map[string]any `json:"payload"`
}

// InboundHandler processes one inbound message for topic and returns
// the reply payload to send back, already in envelope shape (built by
// pkg/dispatch). Returning a nil payload sends nothing back.
type InboundHandler func(ctx context.Context, topic string, payload map[string]any) map[string]any

// Session maintains one logical connection to the cloud controller,
// transparently reconnecting for as long as Run is active. Callers
// register inbound handling via SetHandler before calling Run, and may
// call Emit concurrently from any goroutine once Run has started.
type Session struct {
	url       string
	tlsConfig *tls.Config

	mu        sync.Mutex
	conn      *websocketutil.ConnReadWriter
	connected bool
	handler   InboundHandler

	onConnect    func(ctx context.Context)
	onDisconnect func()
}

// New returns a Session that will dial url (a wss:// endpoint) using
// tlsConfig for the client certificate and, if populated, the pinned
// server CA.
func New(url string, tlsConfig *tls.Config) *Session {
	return &Session{url: url, tlsConfig: tlsConfig}
}

// SetHandler registers the callback invoked for every inbound message.
// Must be called before Run.
func (s *Session) SetHandler(h InboundHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// OnConnect registers a callback fired after each successful (re)dial,
// used by the supervisor to start the telemetry emitter if it is not
// already running.
func (s *Session) OnConnect(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = fn
}

// OnDisconnect registers a callback fired when a connection drops,
// before the reconnect attempt begins.
func (s *Session) OnDisconnect(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = fn
}

// Connected reports whether the session currently has a live
// connection, consulted by the telemetry emitter to decide whether to
// fire a tick.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Emit sends one outbound message. If the session is currently
// disconnected, the message is silently dropped per spec §4.10: there
// is no outbound queue, so a dropped heartbeat is simply superseded by
// the next tick.
func (s *Session) Emit(topic string, payload map[string]any) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	raw, err := json.Marshal(message{Topic: topic, Payload: payload})
	if err != nil {
		log.Printf("cloudsession: marshal %s: %v", topic, err)
		return
	}
	if _, err := conn.Write(raw); err != nil {
		log.Printf("cloudsession: emit %s: %v", topic, err)
	}
}

// Run dials url and processes inbound messages until ctx is canceled.
// Any dial failure or mid-session disconnect is followed by a redial
// after a jittered exponential backoff capped at 5s, per spec §4.10; Run
// only returns once ctx is done.
func (s *Session) Run(ctx context.Context) error {
	b := newBackoff()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := s.dial(ctx)
		if err != nil {
			log.Printf("cloudsession: dial %s: %v, retrying", s.url, err)
			if !sleepCtx(ctx, b.next()) {
				return ctx.Err()
			}
			continue
		}
		b.reset()

		s.mu.Lock()
		s.conn = conn
		s.connected = true
		onConnect := s.onConnect
		s.mu.Unlock()
		if onConnect != nil {
			onConnect(ctx)
		}

		s.readLoop(ctx, conn)

		s.mu.Lock()
		s.conn = nil
		s.connected = false
		onDisconnect := s.onDisconnect
		s.mu.Unlock()
		if onDisconnect != nil {
			onDisconnect()
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !sleepCtx(ctx, b.next()) {
			return ctx.Err()
		}
	}
}

func (s *Session) dial(ctx context.Context) (*websocketutil.ConnReadWriter, error) {
	dialer := websocket.Dialer{
		TLSClientConfig:  s.tlsConfig,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", s.url, err, httpStatus(resp))
		}
		return nil, fmt.Errorf("dial %s: %w", s.url, err)
	}
	return websocketutil.NewConnReadWriteCloser(ctx, conn), nil
}

func httpStatus(resp *http.Response) string {
	if resp == nil {
		return "unknown"
	}
	return resp.Status
}

func (s *Session) readLoop(ctx context.Context, conn *websocketutil.ConnReadWriter) {
	defer conn.Close()
	buf := make([]byte, 0, 64*1024)
	for {
		buf = buf[:cap(buf)]
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		s.handleMessage(ctx, buf[:n])
	}
}

func (s *Session) handleMessage(ctx context.Context, raw []byte) {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("cloudsession: malformed inbound message: %v", err)
		return
	}

	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		return
	}

	reply := handler(ctx, msg.Topic, msg.Payload)
	if reply == nil {
		return
	}
	s.Emit(msg.Topic, reply)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// backoff produces a jittered 1-5s reconnect schedule per spec §4.10
// ("exponential backoff bounded at 1-5 seconds (jittered)").
type backoff struct {
	attempt  int
	base     time.Duration
	maxDelay time.Duration
}

func newBackoff() *backoff {
	return &backoff{base: 1 * time.Second, maxDelay: 5 * time.Second}
}

func (b *backoff) next() time.Duration {
	shift := b.attempt
	if shift > 10 {
		shift = 10
	}
	delay := b.base << uint(shift) //nolint:gosec // capped below
	if delay > b.maxDelay || delay < 0 {
		delay = b.maxDelay
	}
	b.attempt++
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	d := delay/2 + jitter
	if d < b.base {
		d = b.base
	}
	return d
}

func (b *backoff) reset() { b.attempt = 0 }
