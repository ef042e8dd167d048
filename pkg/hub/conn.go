/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package hub

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ammujacic/podex-sub004/pkg/utils/json"
)

// Transport is the subset of *websocket.Conn the hub needs. Tests substitute
// an in-memory implementation.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Conn is one authenticated hub connection. Writes are serialized because
// gorilla connections allow a single concurrent writer.
type Conn struct {
	Id     string
	UserId string
	PodId  string

	ws        Transport
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func NewConn(id string, ws Transport) *Conn {
	return &Conn{Id: id, ws: ws}
}

// Send marshals the message and writes it as one text frame.
func (c *Conn) Send(event string, data interface{}) error {
	raw := json.MarshalSilently(data)
	payload := json.MarshalSilently(&Message{Event: event, Data: raw})
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Read returns the payload of the next frame on the socket.
func (c *Conn) Read() ([]byte, error) {
	_, payload, err := c.ws.ReadMessage()
	return payload, err
}

// Close shuts the underlying socket down, at most once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		_ = c.ws.Close()
	})
}
