package dbconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_PASSWORD", "p@ss word")
	t.Setenv("DB_MAX_CONNS", "25")
	t.Setenv("DB_CONNECT_TIMEOUT", "2s")

	cfg := NewConfigFromEnv()

	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, 6543, cfg.Port)
	assert.Equal(t, "gameclock", cfg.Database)
	assert.Equal(t, "postgres://postgres@db.internal:6543/gameclock", cfg.Redacted())
	assert.NotContains(t, cfg.Redacted(), "p@ss")

	poolCfg, err := cfg.PoolConfig()
	require.NoError(t, err)
	assert.Equal(t, int32(25), poolCfg.MaxConns)
	assert.Equal(t, 2*time.Second, poolCfg.ConnConfig.ConnectTimeout)
	assert.Equal(t, "p@ss word", poolCfg.ConnConfig.Password, "the password survives URL escaping")
	assert.Equal(t, uint16(6543), poolCfg.ConnConfig.Port)
}
