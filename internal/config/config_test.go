package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresDataDir(t *testing.T) {
	t.Setenv("CHAINMAIL_DATA_DIR", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "CHAINMAIL_DATA_DIR")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CHAINMAIL_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.APIPort)
	assert.Equal(t, 2525, cfg.SMTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "chainmail.local", cfg.GatewayDomain)
	assert.Equal(t, DefaultPowTarget, cfg.PowTarget.String())
	assert.Empty(t, cfg.DefaultMailServers)
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("CHAINMAIL_DATA_DIR", t.TempDir())
	t.Setenv("API_PORT", "not-a-port")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_InvalidPowTarget(t *testing.T) {
	t.Setenv("CHAINMAIL_DATA_DIR", t.TempDir())
	t.Setenv("POW_TARGET", "xyz")

	_, err := Load()
	assert.Error(t, err)
}

func TestParseServerList(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"empty", "", 0, false},
		{"single", "mail-a=10.0.0.1:3000", 1, false},
		{"multiple", "mail-a=10.0.0.1:3000, mail-b=10.0.0.2:3000", 2, false},
		{"trailing comma", "mail-a=10.0.0.1:3000,", 1, false},
		{"missing endpoint", "mail-a", 0, true},
		{"missing port", "mail-a=10.0.0.1", 0, true},
		{"empty name", "=10.0.0.1:3000", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			servers, err := ParseServerList(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, servers, tt.want)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("CHAINMAIL_DATA_DIR", t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	cfg.APIPort = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateProduction(t *testing.T) {
	t.Setenv("CHAINMAIL_DATA_DIR", t.TempDir())
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)

	// No API key configured
	assert.Error(t, cfg.ValidateProduction())

	cfg.APIKey = "secret"
	cfg.AllowedOrigins = "https://mail.example.com"
	assert.NoError(t, cfg.ValidateProduction())

	cfg.AllowedOrigins = "*"
	assert.Error(t, cfg.ValidateProduction())
}
