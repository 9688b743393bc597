package credstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstrella/skyfeed/pkg/aviation"
)

// TestCredentialsGet tests key lookup and whitespace trimming.
func TestCredentialsGet(t *testing.T) {
	creds := Credentials{
		"username": "  alice  ",
		"password": "secret",
		"empty":    "   ",
	}

	assert.Equal(t, "alice", creds.Get("username"))
	assert.Equal(t, "secret", creds.Get("password"))
	assert.Equal(t, "", creds.Get("empty"))
	assert.Equal(t, "", creds.Get("missing"))

	var nilCreds Credentials
	assert.Equal(t, "", nilCreds.Get("anything"))
}

// TestCredentialsValidate tests the required-key check.
func TestCredentialsValidate(t *testing.T) {
	creds := Credentials{"username": "alice", "password": "secret", "blank": " "}

	t.Run("All keys present", func(t *testing.T) {
		assert.NoError(t, creds.Validate("username", "password"))
	})

	t.Run("Missing key", func(t *testing.T) {
		err := creds.Validate("username", "api_key")
		require.Error(t, err)
		assert.Equal(t, aviation.KindMissingCredentials, aviation.KindOf(err))
		assert.Contains(t, err.Error(), "api_key")
	})

	t.Run("Whitespace-only value counts as missing", func(t *testing.T) {
		err := creds.Validate("blank")
		require.Error(t, err)
		assert.Equal(t, aviation.KindMissingCredentials, aviation.KindOf(err))
	})

	t.Run("No required keys always passes", func(t *testing.T) {
		assert.NoError(t, Credentials{}.Validate())
		assert.NoError(t, Credentials(nil).Validate())
	})
}

// TestCredentialsClone tests that clones do not alias the original.
func TestCredentialsClone(t *testing.T) {
	original := Credentials{"api_key": "k1"}
	clone := original.Clone()

	clone["api_key"] = "changed"
	assert.Equal(t, "k1", original.Get("api_key"))
}
