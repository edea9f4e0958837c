package sound

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type stubPrefs struct {
	enabled bool
}

func (p *stubPrefs) GetBool(ctx context.Context, key string, fallback bool) bool {
	return p.enabled
}

type recordingPlayer struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (p *recordingPlayer) Play(ctx context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths = append(p.paths, path)
	return p.err
}

func (p *recordingPlayer) playCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.paths)
}

func writeSoundFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notification.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o600); err != nil {
		t.Fatalf("write sound file: %v", err)
	}
	return path
}

func TestMaybePlayRespectsDisabledPreference(t *testing.T) {
	player := &recordingPlayer{}
	controller := NewController(ControllerConfig{
		Preferences: &stubPrefs{enabled: false},
		Player:      player,
		Candidates:  []string{writeSoundFile(t)},
	})

	controller.MaybePlay(context.Background())
	if player.playCount() != 0 {
		t.Fatalf("expected no playback when preference is off")
	}
}

func TestMaybePlayUsesFirstExistingCandidate(t *testing.T) {
	player := &recordingPlayer{}
	existing := writeSoundFile(t)
	controller := NewController(ControllerConfig{
		Preferences: &stubPrefs{enabled: true},
		Player:      player,
		Candidates:  []string{"/nonexistent/a.wav", existing, "/nonexistent/b.wav"},
	})

	controller.MaybePlay(context.Background())
	controller.MaybePlay(context.Background())

	player.mu.Lock()
	defer player.mu.Unlock()
	if len(player.paths) != 2 {
		t.Fatalf("expected 2 plays, got %d", len(player.paths))
	}
	for _, path := range player.paths {
		if path != existing {
			t.Fatalf("expected resolved path %s, got %s", existing, path)
		}
	}
}

func TestMaybePlayNoOpWhenResourceMissing(t *testing.T) {
	player := &recordingPlayer{}
	controller := NewController(ControllerConfig{
		Preferences: &stubPrefs{enabled: true},
		Player:      player,
		Candidates:  []string{"/nonexistent/a.wav", "/nonexistent/b.wav"},
	})

	controller.MaybePlay(context.Background())
	if player.playCount() != 0 {
		t.Fatalf("expected no playback without a sound resource")
	}
}

func TestMaybePlayProbesOnlyOnce(t *testing.T) {
	player := &recordingPlayer{}
	path := writeSoundFile(t)
	controller := NewController(ControllerConfig{
		Preferences: &stubPrefs{enabled: true},
		Player:      player,
		Candidates:  []string{path},
	})

	controller.MaybePlay(context.Background())
	// Removing the file after the first probe must not matter: the probe
	// outcome is cached for the process lifetime.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove sound file: %v", err)
	}
	controller.MaybePlay(context.Background())
	if player.playCount() != 2 {
		t.Fatalf("expected cached resolution to keep playing, got %d plays", player.playCount())
	}
}

func TestMaybePlaySwallowsPlaybackErrors(t *testing.T) {
	player := &recordingPlayer{err: errors.New("no audio device")}
	controller := NewController(ControllerConfig{
		Preferences: &stubPrefs{enabled: true},
		Player:      player,
		Candidates:  []string{writeSoundFile(t)},
	})

	// Must not panic or propagate the error.
	controller.MaybePlay(context.Background())
	if player.playCount() != 1 {
		t.Fatalf("expected playback attempted despite error, got %d", player.playCount())
	}
}

func TestMaybePlayDefaultEnabledWithoutPreferenceSource(t *testing.T) {
	player := &recordingPlayer{}
	controller := NewController(ControllerConfig{
		Player:         player,
		Candidates:     []string{writeSoundFile(t)},
		DefaultEnabled: true,
	})

	controller.MaybePlay(context.Background())
	if player.playCount() != 1 {
		t.Fatalf("expected playback with nil preference source, got %d", player.playCount())
	}
}
