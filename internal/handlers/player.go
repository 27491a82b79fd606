// internal/handlers/player.go
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/aralila/storychain/internal/auth"
)

const playerCookieName = "aralila_token"

// EnsurePlayerToken gives the connecting player a signed identity token
// bound to their display name, or validates the one they already carry.
// Must run before the websocket upgrade: Set-Cookie cannot be written
// after the 101 response. The protocol identifies players by display name
// only; the token lets a dropped connection reclaim the same name on
// reconnect without being treated as a duplicate join elsewhere.
func EnsurePlayerToken(w http.ResponseWriter, r *http.Request, playerName string) error {
	if token := extractCookieToken(r.Header.Get("Cookie"), playerCookieName); token != "" {
		sub, err := auth.AuthenticateJWT(token)
		if err == nil && sub == playerName {
			return nil
		}
		// Invalid or issued for another name; fall through and reissue.
	}

	token, err := auth.CreateJWT(playerName)
	if err != nil {
		return fmt.Errorf("failed to create player token: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})
	return nil
}

// extractCookieToken extracts a named cookie value from a Cookie header,
// or returns empty if not found.
func extractCookieToken(cookieHeader, cookieName string) string {
	parts := strings.Split(cookieHeader, cookieName+"=")
	if len(parts) < 2 {
		return ""
	}
	token := parts[1]
	if idx := strings.Index(token, ";"); idx != -1 {
		token = token[:idx]
	}
	return token
}
