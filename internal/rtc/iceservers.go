package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Fallback STUN entries used when the backend returns no servers, matching
// the backend's own defaults.
var fallbackSTUNServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:stun1.l.google.com:19302"}},
}

// ICEFetcher resolves the ICE-server configuration for a new peer connection.
type ICEFetcher interface {
	Fetch(ctx context.Context) ([]webrtc.ICEServer, error)
}

// ICEClientConfig controls the backend ICE credential fetch.
type ICEClientConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// ICEClient fetches ICE-server credentials from the backend's /ice-servers
// endpoint. An empty endpoint yields the STUN fallback without a network call.
type ICEClient struct {
	cfg    ICEClientConfig
	client *http.Client
	log    *zap.Logger
}

// NewICEClient constructs an ICEClient.
func NewICEClient(cfg ICEClientConfig, httpClient *http.Client, log *zap.Logger) *ICEClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ICEClient{cfg: cfg, client: httpClient, log: log}
}

// iceServerURLs accepts both the single-string and array wire forms.
type iceServerURLs []string

func (u *iceServerURLs) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*u = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*u = many
	return nil
}

type iceServerPayload struct {
	URLs       iceServerURLs `json:"urls"`
	Username   string        `json:"username,omitempty"`
	Credential string        `json:"credential,omitempty"`
}

type iceServersResponse struct {
	ICEServers []iceServerPayload `json:"iceServers"`
}

// Fetch retrieves the ICE-server list. A reachable endpoint returning zero
// servers degrades to the STUN fallback rather than failing the connection.
func (c *ICEClient) Fetch(ctx context.Context) ([]webrtc.ICEServer, error) {
	if strings.TrimSpace(c.cfg.Endpoint) == "" {
		return append([]webrtc.ICEServer(nil), fallbackSTUNServers...), nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build ice-server request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch ice servers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch ice servers: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload iceServersResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode ice servers: %w", err)
	}

	servers := make([]webrtc.ICEServer, 0, len(payload.ICEServers))
	for _, srv := range payload.ICEServers {
		if len(srv.URLs) == 0 {
			continue
		}
		server := webrtc.ICEServer{URLs: append([]string(nil), srv.URLs...)}
		if srv.Username != "" {
			server.Username = srv.Username
		}
		if srv.Credential != "" {
			server.Credential = srv.Credential
		}
		servers = append(servers, server)
	}
	if len(servers) == 0 {
		c.log.Warn("backend returned no ice servers, using stun fallback")
		return append([]webrtc.ICEServer(nil), fallbackSTUNServers...), nil
	}
	return servers, nil
}
