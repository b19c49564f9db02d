package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dvloznov/welth/internal/config"
	"github.com/dvloznov/welth/internal/infra/memory"
	"github.com/dvloznov/welth/internal/jobs"
	"github.com/dvloznov/welth/internal/logger"
	"github.com/dvloznov/welth/internal/revalidate"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStore_Memory(t *testing.T) {
	cfg := config.NewDefaultConfig()

	st, err := OpenStore(context.Background(), cfg)
	require.NoError(t, err)
	defer st.Close()
	assert.IsType(t, &memory.Store{}, st)
}

func TestOpenStore_MemoryFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.json")
	fixture := `{
		"users": [{"id": "u1", "external_id": "user_1"}],
		"accounts": [{"id": "a1", "user_id": "u1", "name": "Current", "balance": "12.50", "is_default": true}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))

	cfg := config.NewDefaultConfig()
	cfg.Storage.Fixture = path

	st, err := OpenStore(context.Background(), cfg)
	require.NoError(t, err)

	user, err := st.FindUserByExternalID(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
}

func TestOpenStore_UnknownBackend(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Storage.Backend = "sqlite"

	_, err := OpenStore(context.Background(), cfg)
	assert.ErrorContains(t, err, "sqlite")
}

func TestNewIdentity(t *testing.T) {
	_, err := NewIdentity(config.AuthConfig{JWTSecret: "secret"})
	assert.NoError(t, err)

	_, err = NewIdentity(config.AuthConfig{JWTSecret: "secret", PublicKeyFile: filepath.Join(t.TempDir(), "missing.pem")})
	assert.ErrorContains(t, err, "reading public key")
}

func TestDiagnosticMessage_SplitsRecipients(t *testing.T) {
	msg := DiagnosticMessage(config.EmailConfig{
		From:    "Welth <a@example.com>",
		To:      " b@example.com, ,c@example.com ",
		Subject: "hi",
		Text:    "body",
	})

	assert.Equal(t, []string{"b@example.com", "c@example.com"}, msg.To)
	assert.Equal(t, "Welth <a@example.com>", msg.From)
	assert.Equal(t, "hi", msg.Subject)
}

func TestSideEffects_Defaults(t *testing.T) {
	se, err := NewSideEffects(context.Background(), config.NewDefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer se.Close()

	assert.IsType(t, revalidate.LogNotifier{}, se.Notifier)
	assert.Nil(t, se.Archiver)
	assert.Len(t, se.LedgerOptions(), 1)
}

func TestSideEffects_QueuedRedisNotification(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.NewDefaultConfig()
	cfg.Revalidate.Mode = config.RevalidateRedis
	cfg.Revalidate.RedisAddr = mr.Addr()
	cfg.Revalidate.Queued = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	se, err := NewSideEffects(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &revalidate.QueuedNotifier{}, se.Notifier)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	sub := client.Subscribe(ctx, cfg.Revalidate.Channel)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, se.Start(ctx))
	require.NoError(t, se.Notifier.Invalidate(ctx, revalidate.ViewDashboard))

	select {
	case msg := <-sub.Channel():
		var inv revalidate.Invalidation
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &inv))
		assert.Equal(t, []string{revalidate.ViewDashboard}, inv.Paths)
	case <-time.After(2 * time.Second):
		t.Fatal("no invalidation received")
	}

	require.Eventually(t, func() bool {
		list, err := se.JobStore.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusCompleted})
		return err == nil && len(list) == 1
	}, 2*time.Second, 10*time.Millisecond)

	shutdownCtx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	assert.NoError(t, se.Shutdown(shutdownCtx))
}

func TestSideEffects_RedisAlsoLogs(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := config.NewDefaultConfig()
	cfg.Revalidate.Mode = config.RevalidateRedis
	cfg.Revalidate.RedisAddr = mr.Addr()

	ctx := context.Background()
	se, err := NewSideEffects(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer se.Close()

	multi, ok := se.Notifier.(revalidate.Multi)
	require.True(t, ok, "notifier is %T", se.Notifier)
	require.Len(t, multi, 2)
	assert.IsType(t, revalidate.LogNotifier{}, multi[0])
	assert.IsType(t, &revalidate.RedisNotifier{}, multi[1])

	var buf bytes.Buffer
	logCtx := logger.WithContext(ctx, logger.NewWithWriter(&buf))
	require.NoError(t, se.Notifier.Invalidate(logCtx, revalidate.ViewDashboard))
	assert.Contains(t, buf.String(), "views invalidated")
}
