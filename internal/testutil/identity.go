package testutil

import (
	"testing"

	"filippo.io/age"
)

// NewTestIdentity generates a throwaway age identity for export tests.
func NewTestIdentity(t *testing.T) *age.X25519Identity {
	t.Helper()

	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("failed to generate age identity: %v", err)
	}
	return id
}
