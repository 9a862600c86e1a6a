package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceFlowActive(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := DeviceFlow{IssuedAt: now, ExpiresAt: now.Add(15 * time.Minute)}

	assert.True(t, f.ActiveAt(now.Add(time.Minute)))
	assert.False(t, f.ActiveAt(now.Add(15*time.Minute)))
	assert.Equal(t, 14*time.Minute, f.Remaining(now.Add(time.Minute)))
	assert.Equal(t, time.Duration(0), f.Remaining(now.Add(time.Hour)))

	f.Consumed = true
	assert.False(t, f.ActiveAt(now))
}

func TestFileDeviceFlowStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "flows.json")
	key, _ := GenerateEncryptionKey()
	enc, _ := NewTokenEncryption(key)
	s := NewFileDeviceFlowStore(path, enc)

	issued := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	flow := DeviceFlow{
		DeviceCode:      "AH-secret-device-code",
		UserCode:        "ABCD-EFGH",
		VerificationURL: "https://www.google.com/device",
		Interval:        5,
		IssuedAt:        issued,
		ExpiresAt:       issued.Add(15 * time.Minute),
	}
	require.NoError(t, s.Put(ctx, "u", flow))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-device-code")
	assert.Contains(t, string(raw), "ABCD-EFGH")

	got, err := s.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, flow, got)

	require.NoError(t, s.Delete(ctx, "u"))
	_, err = s.Get(ctx, "u")
	assert.ErrorIs(t, err, ErrNotFound)
}
