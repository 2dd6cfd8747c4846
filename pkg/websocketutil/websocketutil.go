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

// Package websocketutil frames a *websocket.Conn as a blocking
// io.ReadWriteCloser, one {topic, payload} JSON document per text
// frame, so pkg/cloudsession's message codec never has to know it's
// talking to a websocket rather than a plain stream.
package websocketutil

import (
	"context"
	"io"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// ConnReadWriter adapts conn's frame-oriented Read/WriteMessage into
// io.Reader/io.Writer: one Read returns exactly one inbound text
// frame's payload, and one Write sends exactly one outbound text
// frame, matching the cloud session's one-JSON-document-per-call
// usage in pkg/cloudsession.
type ConnReadWriter struct {
	DoneCh chan error

	doneOnce sync.Once
	ctx      context.Context
	conn     *websocket.Conn
	cancel   context.CancelFunc
	readCh   chan []byte
}

// NewConnReadWriteCloser starts a background reader over conn and
// returns the adapter. The reader goroutine exits, closing DoneCh,
// when conn.ReadMessage fails (as it does once conn is closed);
// canceling ctx alone does not stop it.
func NewConnReadWriteCloser(ctx context.Context, conn *websocket.Conn) *ConnReadWriter {
	ctx, cancel := context.WithCancel(ctx)
	readWriter := &ConnReadWriter{
		ctx:    ctx,
		conn:   conn,
		cancel: cancel,
		DoneCh: make(chan error, 2),
		readCh: make(chan []byte, 16),
	}
	go readWriter.handleReads()
	return readWriter
}

// Close closes the underlying connection and the read channel.
func (rw *ConnReadWriter) Close() error {
	err := rw.conn.Close()
	close(rw.readCh)
	return err
}

// Write sends data as a single websocket text frame, the wire shape
// pkg/cloudsession's message codec requires (one JSON document per
// frame).
func (rw *ConnReadWriter) Write(data []byte) (n int, err error) {
	select {
	case <-rw.ctx.Done():
		return 0, rw.ctx.Err()
	default:
	}

	if err := rw.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		rw.doneOnce.Do(func() {
			select {
			case rw.DoneCh <- err:
			default:
			}
			close(rw.DoneCh)
		})
		return 0, err
	}
	return len(data), nil
}

// Read blocks until the next inbound frame's payload is available,
// copying it into dst. Callers must size dst to hold one full JSON
// message; a short buffer is reported as io.ErrShortBuffer rather than
// silently truncating the document.
func (rw *ConnReadWriter) Read(dst []byte) (n int, err error) {
	select {
	case <-rw.ctx.Done():
		log.Print("websocketutil: connection already done, returning EOF")
		return 0, io.EOF
	default:
	}
	select {
	case <-rw.ctx.Done():
		return 0, io.EOF
	case bs := <-rw.readCh:
		if len(dst) < len(bs) {
			return 0, io.ErrShortBuffer
		}
		return copy(dst, bs), nil
	}
}

func (rw *ConnReadWriter) handleReads() {
	defer rw.cancel()
	for {
		msgType, data, err := rw.conn.ReadMessage()
		if err != nil {
			rw.doneOnce.Do(func() {
				select {
				case rw.DoneCh <- err:
				default:
				}
				close(rw.DoneCh)
			})
			return
		}
		if msgType != websocket.TextMessage {
			log.Printf("websocketutil: dropping non-text frame (type %d)", msgType)
			continue
		}
		select {
		case rw.readCh <- data:
		case <-rw.ctx.Done():
		}
	}
}
