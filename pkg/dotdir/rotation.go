package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	rotationFile = "rotation.json"
)

// RotationState records the tag-secret rotation in effect for an owner. The
// nonce is what lets a rotated secret be re-derived after the local state
// database is deleted; without it the deriver would fall back to the base
// derivation and every tag issued since the rotation would stop matching.
// The nonce is not secret — it is useless without the owner's signer.
type RotationState struct {
	// Owner is the address the rotation belongs to.
	Owner string `json:"owner"`

	// Nonce is the rotation nonce mixed into the derivation message.
	Nonce string `json:"nonce"`

	// RotatedAt is when the rotation was performed.
	RotatedAt time.Time `json:"rotated_at"`
}

// LoadRotationState loads the rotation state from a target .cumdach/rotation.json.
// Returns nil, nil if no rotation has been recorded (base derivation applies).
// If overrideDir is non-empty, it is used instead of the default ~/.cumdach/ location.
func (m *Manager) LoadRotationState(overrideDir string) (*RotationState, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, rotationFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading rotation state: %w", err)
	}

	state := &RotationState{}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing rotation state: %w", err)
	}

	return state, nil
}

// SaveRotation persists the rotation state to a target .cumdach/rotation.json.
func (m *Manager) SaveRotation(state *RotationState, overrideDir string) error {
	if state == nil {
		return errors.New("cannot save nil rotation state")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling rotation state: %w", err)
	}

	path := filepath.Join(dir, rotationFile)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing rotation state: %w", err)
	}

	return nil
}

// ClearRotation removes the rotation state file, returning derivation to the
// base message. Returns nil if the file doesn't exist (already cleared).
func (m *Manager) ClearRotation(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, rotationFile)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing rotation state: %w", err)
	}

	return nil
}
