package store

import (
	"context"
	"fmt"
	"time"
)

// DeviceFlow is an in-progress device authorization attempt.
type DeviceFlow struct {
	DeviceCode              string    `json:"device_code"`
	UserCode                string    `json:"user_code"`
	VerificationURL         string    `json:"verification_url"`
	VerificationURLComplete string    `json:"verification_url_complete,omitempty"`
	Interval                int       `json:"interval"`
	IssuedAt                time.Time `json:"issued_at"`
	ExpiresAt               time.Time `json:"expires_at"`
	Consumed                bool      `json:"consumed,omitempty"`
}

// ActiveAt reports whether the attempt can still be completed at now.
func (f DeviceFlow) ActiveAt(now time.Time) bool {
	return !f.Consumed && now.Before(f.ExpiresAt)
}

// Remaining returns the time left before the attempt expires.
func (f DeviceFlow) Remaining(now time.Time) time.Duration {
	if d := f.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// DeviceFlowStore persists at most one DeviceFlow per user.
type DeviceFlowStore interface {
	Get(ctx context.Context, userID string) (DeviceFlow, error)
	Put(ctx context.Context, userID string, flow DeviceFlow) error
	Delete(ctx context.Context, userID string) error
}

// FileDeviceFlowStore is a DeviceFlowStore backed by a JSON file. Device
// codes are sealed on disk when enc is enabled.
type FileDeviceFlowStore struct {
	file *JSONFile[DeviceFlow]
	enc  *TokenEncryption
}

// NewFileDeviceFlowStore returns a FileDeviceFlowStore at path. enc may be nil.
func NewFileDeviceFlowStore(path string, enc *TokenEncryption) *FileDeviceFlowStore {
	return &FileDeviceFlowStore{file: NewJSONFile[DeviceFlow](path), enc: enc}
}

// Get returns the attempt for userID or ErrNotFound.
func (s *FileDeviceFlowStore) Get(_ context.Context, userID string) (DeviceFlow, error) {
	flow, err := s.file.Get(userID)
	if err != nil {
		return DeviceFlow{}, err
	}
	if flow.DeviceCode, err = s.enc.Decrypt(flow.DeviceCode); err != nil {
		return DeviceFlow{}, fmt.Errorf("failed to decrypt device code: %w", err)
	}
	return flow, nil
}

// Put replaces the attempt for userID.
func (s *FileDeviceFlowStore) Put(_ context.Context, userID string, flow DeviceFlow) error {
	var err error
	if flow.DeviceCode, err = s.enc.Encrypt(flow.DeviceCode); err != nil {
		return fmt.Errorf("failed to encrypt device code: %w", err)
	}
	return s.file.Put(userID, flow)
}

// Delete removes the attempt for userID.
func (s *FileDeviceFlowStore) Delete(_ context.Context, userID string) error {
	return s.file.Delete(userID)
}
