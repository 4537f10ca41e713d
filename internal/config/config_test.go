package config

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("test-signing-key"))

	cfg, err := NewConfig(":8000", "postgres://localhost/callhub", secret, []string{"http://localhost:3000"})
	assert.NoError(t, err, "expected no error creating config")
	assert.Equal(t, ":8000", cfg.ServerAddr, "expected server address to match")
	assert.Equal(t, "postgres://localhost/callhub", cfg.DatabaseDSN, "expected DSN to match")
	assert.Equal(t, []byte("test-signing-key"), cfg.SigningKey, "expected signing key to be decoded")
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins, "expected allowed origins to match")
}

func TestNewConfig_errors(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("test-signing-key"))

	tcases := []struct {
		name   string
		addr   string
		dsn    string
		secret string
	}{
		{name: "empty address", addr: "", dsn: "postgres://localhost/callhub", secret: secret},
		{name: "empty dsn", addr: ":8000", dsn: "", secret: secret},
		{name: "empty secret", addr: ":8000", dsn: "postgres://localhost/callhub", secret: ""},
		{name: "invalid base64 secret", addr: ":8000", dsn: "postgres://localhost/callhub", secret: "not-base64!!"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewConfig(tc.addr, tc.dsn, tc.secret, nil)
			assert.Error(t, err, "expected an error")
			assert.Nil(t, cfg, "expected no config on error")
		})
	}
}
