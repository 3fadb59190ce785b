package robot

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/valdo404/clickplanet-go/internal/clickpb"
)

const (
	listenMinBackoff = time.Second
	listenMaxBackoff = 30 * time.Second
)

// API is the server surface the watchguard drives. Satisfied by Client;
// tests substitute a fake.
type API interface {
	Click(ctx context.Context, tileID int32, countryID string) (*clickpb.ClickResponse, error)
	Ownerships(ctx context.Context) (*clickpb.OwnershipState, error)
	Listen(ctx context.Context) <-chan *clickpb.UpdateNotification
}

// Client talks to a clickplanetd instance over its public HTTP and WebSocket
// surface.
type Client struct {
	baseURL string
	wsURL   string
	httpc   *http.Client
	dialer  *websocket.Dialer
}

// NewClient builds a client for the given server. secure selects https/wss.
func NewClient(host string, port int, secure bool) *Client {
	scheme, wsScheme := "http", "ws"
	if secure {
		scheme, wsScheme = "https", "wss"
	}
	hostport := net.JoinHostPort(host, strconv.Itoa(port))
	return &Client{
		baseURL: scheme + "://" + hostport,
		wsURL:   wsScheme + "://" + hostport + "/ws/listen",
		httpc:   &http.Client{Timeout: 30 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

type envelope struct {
	Data string `json:"data"`
}

func (c *Client) postProto(ctx context.Context, path string, payload []byte) ([]byte, error) {
	body, err := json.Marshal(envelope{Data: base64.StdEncoding.EncodeToString(payload)})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) getProto(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("robot: %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, raw)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("robot: decode envelope: %w", err)
	}
	return base64.StdEncoding.DecodeString(env.Data)
}

// Click claims a tile for a country.
func (c *Client) Click(ctx context.Context, tileID int32, countryID string) (*clickpb.ClickResponse, error) {
	payload, err := c.postProto(ctx, "/api/click", (&clickpb.ClickRequest{TileID: tileID, CountryID: countryID}).Marshal())
	if err != nil {
		return nil, err
	}
	resp := new(clickpb.ClickResponse)
	if err := resp.Unmarshal(payload); err != nil {
		return nil, fmt.Errorf("robot: decode ClickResponse: %w", err)
	}
	return resp, nil
}

// Ownerships fetches the full ownership dump.
func (c *Client) Ownerships(ctx context.Context) (*clickpb.OwnershipState, error) {
	payload, err := c.getProto(ctx, "/api/ownerships")
	if err != nil {
		return nil, err
	}
	state := new(clickpb.OwnershipState)
	if err := state.Unmarshal(payload); err != nil {
		return nil, fmt.Errorf("robot: decode OwnershipState: %w", err)
	}
	return state, nil
}

// Listen attaches to the live update feed and keeps it attached: the
// connection is redialed with backoff on any failure until ctx ends. The
// returned channel closes when ctx is done.
func (c *Client) Listen(ctx context.Context) <-chan *clickpb.UpdateNotification {
	updates := make(chan *clickpb.UpdateNotification, 256)
	go func() {
		defer close(updates)
		backoff := listenMinBackoff
		for {
			if ctx.Err() != nil {
				return
			}
			conn, resp, err := c.dialer.DialContext(ctx, c.wsURL, nil)
			if resp != nil {
				resp.Body.Close()
			}
			if err != nil {
				log.Printf("[robot] listen dial failed, retrying in %s: %v", backoff, err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				backoff = min(backoff*2, listenMaxBackoff)
				continue
			}
			backoff = listenMinBackoff

			c.readFeed(ctx, conn, updates)
			conn.Close()
		}
	}()
	return updates
}

func (c *Client) readFeed(ctx context.Context, conn *websocket.Conn, updates chan<- *clickpb.UpdateNotification) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[robot] listen feed ended: %v", err)
			}
			return
		}
		u := new(clickpb.UpdateNotification)
		if err := u.Unmarshal(frame); err != nil {
			log.Printf("[robot] dropping malformed notification: %v", err)
			continue
		}
		select {
		case updates <- u:
		case <-ctx.Done():
			return
		}
	}
}
