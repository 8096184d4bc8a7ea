package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValoresPorDefecto(t *testing.T) {
	t.Setenv("FNS_ENV", "")
	t.Setenv("STORAGE_DRIVER", "")
	t.Setenv("FNS_DAILY_LIMIT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.FNS.AppEnv)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 1000, cfg.FNS.DailyLimit)
	assert.Equal(t, 5, cfg.FNS.MaxPollAttempts)
	assert.Equal(t, 30*time.Second, cfg.FNS.RequestTimeout)
	assert.Equal(t, 24*time.Hour, cfg.FNS.ResultTTL)
	assert.Equal(t, time.Date(2017, 2, 1, 0, 0, 0, 0, time.UTC), cfg.FNS.EarliestReceiptDate())
}

func TestLoad_LeeVariablesDeEntorno(t *testing.T) {
	t.Setenv("FNS_ENV", "TEST")
	t.Setenv("FNS_MASTER_TOKEN", "master")
	t.Setenv("FNS_DAILY_LIMIT", "3")
	t.Setenv("FNS_MIN_POLL_INTERVAL_SECONDS", "7")
	t.Setenv("STORAGE_DRIVER", "postgres")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.FNS.AppEnv)
	assert.Equal(t, "master", cfg.FNS.MasterToken)
	assert.Equal(t, 3, cfg.FNS.DailyLimit)
	assert.Equal(t, 7*time.Second, cfg.FNS.MinPollInterval)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
}

func TestLoad_ProdSinMasterTokenFalla(t *testing.T) {
	t.Setenv("FNS_ENV", "prod")
	t.Setenv("FNS_MASTER_TOKEN", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_DriverInvalido(t *testing.T) {
	t.Setenv("FNS_ENV", "dev")
	t.Setenv("STORAGE_DRIVER", "sqlite")

	_, err := Load()
	assert.Error(t, err)
}

func TestFNSConfig_LocationInvalidaUsaUTC(t *testing.T) {
	assert.Equal(t, time.UTC, FNSConfig{Timezone: "Marte/Olympus"}.Location())
}

func TestParseOperators(t *testing.T) {
	ops := parseOperators(" Ana@Example.com:ADMIN:$2a$10$abc , ops@example.com:operator:$2a$10$def,, ")
	require.Len(t, ops, 2)
	assert.Equal(t, OperatorAccount{Email: "ana@example.com", Role: "admin", PasswordHash: "$2a$10$abc"}, ops[0])
	assert.Equal(t, "operator", ops[1].Role)
	assert.Empty(t, parseOperators(""))
}

func TestLoad_OperadoresSinSecretoFalla(t *testing.T) {
	t.Setenv("FNS_ENV", "dev")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("AUTH_OPERATORS", "ana@example.com:admin:$2a$10$abc")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "secreto")
	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Auth.Operators, 1)
}

func TestLoad_RolDeOperadorInvalido(t *testing.T) {
	t.Setenv("FNS_ENV", "dev")
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("JWT_SECRET", "secreto")
	t.Setenv("AUTH_OPERATORS", "ana@example.com:root:$2a$10$abc")

	_, err := Load()
	assert.Error(t, err)
}
