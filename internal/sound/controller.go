package sound

import (
	"context"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/merkatolabs/merkato/backend/internal/prefs"
)

// defaultCandidates is the ordered probe list for the alert sound resource.
var defaultCandidates = []string{
	"assets/sounds/notification.wav",
	"assets/notification.wav",
	"/usr/share/sounds/merkato/notification.wav",
}

// Player performs the actual playback.
type Player interface {
	Play(ctx context.Context, path string) error
}

// PreferenceSource reads the persisted sound toggle.
type PreferenceSource interface {
	GetBool(ctx context.Context, key string, fallback bool) bool
}

// ControllerConfig wires a Controller.
type ControllerConfig struct {
	Preferences    PreferenceSource
	Player         Player
	Candidates     []string
	DefaultEnabled bool
	Logger         *zap.Logger
}

// Controller triggers the audible order alert, gated by the persisted
// preference. Missing resources and playback failures are logged and
// swallowed; MaybePlay never returns an error.
type Controller struct {
	preferences    PreferenceSource
	player         Player
	candidates     []string
	defaultEnabled bool
	logger         *zap.Logger

	resolveOnce sync.Once
	resolved    string
}

// NewController constructs a Controller with default probing and playback.
func NewController(cfg ControllerConfig) *Controller {
	candidates := cfg.Candidates
	if len(candidates) == 0 {
		candidates = defaultCandidates
	}
	player := cfg.Player
	if player == nil {
		player = &execPlayer{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		preferences:    cfg.Preferences,
		player:         player,
		candidates:     candidates,
		defaultEnabled: cfg.DefaultEnabled,
		logger:         logger,
	}
}

// MaybePlay plays the alert sound if the persisted preference allows it.
func (c *Controller) MaybePlay(ctx context.Context) {
	if c.preferences != nil && !c.preferences.GetBool(ctx, prefs.KeySoundEnabled, c.defaultEnabled) {
		return
	}
	path := c.resolve()
	if path == "" {
		return
	}
	if err := c.player.Play(ctx, path); err != nil {
		// Playback can legitimately fail on headless hosts.
		c.logger.Debug("alert playback failed", zap.String("path", path), zap.Error(err))
	}
}

// resolve probes the candidate locations once and caches the outcome.
func (c *Controller) resolve() string {
	c.resolveOnce.Do(func() {
		for _, candidate := range c.candidates {
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				c.resolved = candidate
				return
			}
		}
		c.logger.Info("no alert sound resource found", zap.Strings("candidates", c.candidates))
	})
	return c.resolved
}

// execPlayer shells out to the first available command-line audio player.
type execPlayer struct {
	lookupOnce sync.Once
	binary     string
}

var playerBinaries = []string{"paplay", "aplay", "afplay"}

func (p *execPlayer) Play(ctx context.Context, path string) error {
	p.lookupOnce.Do(func() {
		for _, candidate := range playerBinaries {
			if resolved, err := exec.LookPath(candidate); err == nil {
				p.binary = resolved
				return
			}
		}
	})
	if p.binary == "" {
		return os.ErrNotExist
	}
	return exec.CommandContext(ctx, p.binary, path).Run()
}
