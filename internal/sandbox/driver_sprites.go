package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	sprites "github.com/superfly/sprites-go"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/common/logger"
)

const (
	spritesAPIBase = "https://api.sprites.dev/v1"
	spritesTimeout = 30 * time.Second
)

// SpritesDriver backs sessions with Fly Sprites, the default for the hosted
// control plane: a Sprite is created lazily by its first command, so Create
// warms it with a no-op command to surface failures eagerly instead of on
// the session's first real prompt.
type SpritesDriver struct {
	client *sprites.Client
	token  string
	log    *logger.Logger
}

// NewSpritesDriver builds a driver authenticated with token.
func NewSpritesDriver(token string, log *logger.Logger) *SpritesDriver {
	return &SpritesDriver{
		client: sprites.New(token),
		token:  token,
		log:    log.WithFields(zap.String("component", "sandbox-sprites")),
	}
}

func (d *SpritesDriver) Name() string { return "sprites" }

func (d *SpritesDriver) Create(ctx context.Context, req CreateRequest) (*Handle, error) {
	sprite := d.client.Sprite(req.Name)

	warmCtx, cancel := context.WithTimeout(ctx, spritesTimeout)
	defer cancel()
	if _, err := sprite.CommandContext(warmCtx, "true").Output(); err != nil {
		return nil, fmt.Errorf("warming sprite %q: %w", req.Name, err)
	}

	d.log.Info("sprite created", zap.String("name", req.Name), zap.String("session_id", req.SessionID))
	return &Handle{
		SessionID: req.SessionID,
		Name:      req.Name,
		Driver:    d.Name(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (d *SpritesDriver) Probe(ctx context.Context, h *Handle) (HealthState, error) {
	sprite := d.client.Sprite(h.Name)
	probeCtx, cancel := context.WithTimeout(ctx, spritesTimeout)
	defer cancel()
	if _, err := sprite.CommandContext(probeCtx, "true").Output(); err != nil {
		return HealthUnhealthy, err
	}
	return HealthHealthy, nil
}

func (d *SpritesDriver) Stop(ctx context.Context, h *Handle) error {
	sprite := d.client.Sprite(h.Name)
	if err := sprite.Destroy(); err != nil {
		return fmt.Errorf("destroying sprite %q: %w", h.Name, err)
	}
	return nil
}

// List enumerates Sprites through the REST API (sprites-go exposes no bulk
// listing call), filtering to the ones this control plane created.
func (d *SpritesDriver) List(ctx context.Context) ([]*Handle, error) {
	reqCtx, cancel := context.WithTimeout(ctx, spritesTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, spritesAPIBase+"/sprites", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+d.token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("sprites API returned %d: %s", resp.StatusCode, string(body))
	}

	var apiSprites []struct {
		Name      string `json:"name"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiSprites); err != nil {
		return nil, err
	}

	var handles []*Handle
	for _, s := range apiSprites {
		if !strings.HasPrefix(s.Name, handlePrefix) {
			continue
		}
		createdAt, _ := time.Parse(time.RFC3339, s.CreatedAt)
		handles = append(handles, &Handle{
			Name:      s.Name,
			Driver:    d.Name(),
			CreatedAt: createdAt,
		})
	}
	return handles, nil
}
