// internal/handlers/ws_codes.go
package handlers

import "github.com/coder/websocket"

// Custom close codes for joins rejected after the upgrade. Parameter
// problems are caught before the upgrade and answered over plain HTTP;
// these cover rejections the lobby can only decide once it sees the name.
const (
	DuplicateNameError   websocket.StatusCode = 3002 // Display name already taken in the room.
	RoomUnavailableError websocket.StatusCode = 3003 // Room is full or its game already started.
)
