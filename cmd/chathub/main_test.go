package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chathub/internal/auth"
	"github.com/2389/chathub/internal/config"
	"github.com/2389/chathub/internal/store"
)

func writeConfig(t *testing.T, secret string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hub.yaml")
	body := "server:\n  http_addr: \"127.0.0.1:0\"\ndatabase:\n  path: \"" + filepath.Join(dir, "chathub.db") + "\"\nauth:\n  jwt_secret: \"" + secret + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRunToken_SignsTokenAndCreatesUser(t *testing.T) {
	secret := strings.Repeat("s", auth.MinSecretLength)
	path := writeConfig(t, secret)

	var out bytes.Buffer
	err := runToken(context.Background(), []string{"--config", path, "--user", "alice", "--name", "Alice", "--ttl", "1h"}, &out)
	require.NoError(t, err)

	verifier, err := auth.NewJWTVerifier([]byte(secret))
	require.NoError(t, err)
	userID, err := verifier.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	require.NoError(t, err)
	defer s.Close()

	user, err := s.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.DisplayName)
}

func TestRunToken_DevModePrintsUserID(t *testing.T) {
	path := writeConfig(t, "")

	var out bytes.Buffer
	require.NoError(t, runToken(context.Background(), []string{"--config", path, "--user", "bob"}, &out))
	assert.Equal(t, "bob\n", out.String())

	// A second run finds the existing user
	out.Reset()
	require.NoError(t, runToken(context.Background(), []string{"--config", path, "--user", "bob"}, &out))
	assert.Equal(t, "bob\n", out.String())
}

func TestRunToken_RequiresUser(t *testing.T) {
	path := writeConfig(t, "")
	err := runToken(context.Background(), []string{"--config", path}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "--user is required")
}

func TestEnsureUser(t *testing.T) {
	s := store.NewMockStore()
	ctx := context.Background()

	created, err := ensureUser(ctx, s, "carol", "Carol")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = ensureUser(ctx, s, "carol", "Someone Else")
	require.NoError(t, err)
	assert.False(t, created)

	user, err := s.GetUser(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, "Carol", user.DisplayName)
}

func TestIssueToken_RejectsWeakSecret(t *testing.T) {
	_, err := issueToken("short", "alice", time.Hour)
	assert.ErrorIs(t, err, auth.ErrWeakSecret)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "hub").WithGroup("req").Info("sent", "id", "m1")

	line := buf.String()
	assert.NotContains(t, line, "hidden")
	assert.Contains(t, line, "INF sent")
	assert.Contains(t, line, "component=hub")
	assert.Contains(t, line, "req.id=m1")
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "user_id", "alice")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"user_id":"alice"`)
}
