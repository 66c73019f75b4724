package websocket

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	gorillawebsocket "github.com/gorilla/websocket"
)

// WatchURL converts an http(s) base URL into the events endpoint for the
// given encounter ids.
func WatchURL(baseURL string, encounterIDs ...string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/api/v3/events/ws"
	q := url.Values{}
	for _, id := range encounterIDs {
		q.Add("encounter", id)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Watch dials wsURL and calls fn for every event until ctx is done, the
// server closes the connection, or fn returns an error.
func Watch(ctx context.Context, wsURL string, fn func(Event) error) error {
	conn, _, err := gorillawebsocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if gorillawebsocket.IsCloseError(err, gorillawebsocket.CloseNormalClosure, gorillawebsocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
