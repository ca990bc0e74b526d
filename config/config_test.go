package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_DefaultsWhenFileMissing(t *testing.T) {
	c, err := LoadFrom(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, "8080", c.AppPort)
	assert.Equal(t, "mysql", c.DBDriver)
	assert.Equal(t, []string{"*"}, c.AllowedOrigins)
	assert.Equal(t, 5, c.ReactionMaxAttempts)
	assert.Equal(t, 20, c.ReactionBackoffBaseMs)
	assert.Equal(t, 5*time.Second, c.StatementTimeout())
	assert.Equal(t, 72*time.Hour, c.TokenTTL())
	assert.True(t, c.CacheEnabled)
}

func TestLoadFrom_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
	  "app": {"port": "9000", "jwt_secret": "from-file"},
	  "admin": {"usernames": ["root", "mod"]},
	  "database": {"driver": "postgres", "name": "forum"},
	  "reaction": {"max_attempts": 3}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	c, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", c.AppPort)
	assert.Equal(t, "from-env", c.JWTSecret)
	assert.Equal(t, "postgres", c.DBDriver)
	assert.Equal(t, "forum", c.DBName)
	assert.Equal(t, 3, c.ReactionMaxAttempts)
	assert.Equal(t, []string{"root", "mod"}, c.AdminUsernames)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.AllowedOrigins)
}

func TestLoadFrom_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := LoadFrom(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	ok := AppConfig{DBDriver: "mysql", ReactionMaxAttempts: 1, ReactionBackoffBaseMs: 10, ReactionBackoffMaxMs: 10}
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.DBDriver = "oracle"
	assert.ErrorContains(t, bad.Validate(), "oracle")

	bad = ok
	bad.ReactionMaxAttempts = 0
	assert.ErrorContains(t, bad.Validate(), "max_attempts")

	bad = ok
	bad.ReactionBackoffMaxMs = 1
	assert.ErrorContains(t, bad.Validate(), "backoff")
}

func TestDialector(t *testing.T) {
	d, err := Dialector(AppConfig{DBDriver: "mysql", DBUser: "u", DBHost: "h", DBName: "n"})
	require.NoError(t, err)
	assert.Equal(t, "mysql", d.Name())

	d, err = Dialector(AppConfig{DBDriver: "postgres", DBHost: "h", DBName: "n"})
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	_, err = Dialector(AppConfig{DBDriver: "oracle"})
	assert.Error(t, err)
}

func TestCollationFixes(t *testing.T) {
	fixes := collationFixes("mysql")
	require.Len(t, fixes, 1)
	assert.Equal(t, "tags", fixes[0].table)
	assert.Contains(t, fixes[0].sql, "COLLATE utf8mb4_bin")
	assert.Contains(t, fixes[0].sql, "VARCHAR(64)")

	assert.Empty(t, collationFixes("postgres"))
	assert.Empty(t, collationFixes("sqlite"))
}
