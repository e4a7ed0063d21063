package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolConfigFromEnv(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want PoolConfig
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			want: DefaultPoolConfig(),
		},
		{
			name: "all custom values",
			env: map[string]string{
				"DB_MAX_OPEN_CONNS":     "40",
				"DB_MAX_IDLE_CONNS":     "20",
				"DB_CONN_MAX_LIFETIME":  "2h",
				"DB_CONN_MAX_IDLE_TIME": "10m",
			},
			want: PoolConfig{
				MaxOpenConns:    40,
				MaxIdleConns:    20,
				ConnMaxLifetime: 2 * time.Hour,
				ConnMaxIdleTime: 10 * time.Minute,
			},
		},
		{
			name: "invalid values fall back",
			env: map[string]string{
				"DB_MAX_OPEN_CONNS":     "invalid",
				"DB_MAX_IDLE_CONNS":     "-1",
				"DB_CONN_MAX_LIFETIME":  "0s",
				"DB_CONN_MAX_IDLE_TIME": "soon",
			},
			want: DefaultPoolConfig(),
		},
		{
			name: "idle pool is capped by the open limit",
			env:  map[string]string{"DB_MAX_OPEN_CONNS": "1"},
			want: PoolConfig{
				MaxOpenConns:    1,
				MaxIdleConns:    1,
				ConnMaxLifetime: 30 * time.Minute,
				ConnMaxIdleTime: 5 * time.Minute,
			},
		},
	}

	assert.Equal(t, PoolConfig{MaxOpenConns: 4, MaxIdleConns: 2, ConnMaxLifetime: 30 * time.Minute, ConnMaxIdleTime: 5 * time.Minute},
		DefaultPoolConfig())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME", "DB_CONN_MAX_IDLE_TIME"} {
				t.Setenv(key, tt.env[key])
			}
			assert.Equal(t, tt.want, poolConfigFromEnv())
		})
	}
}

func TestOpen_MissingDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	db, err := Open(context.Background())
	assert.Nil(t, db)
	assert.True(t, errors.Is(err, ErrNoDSN))
}
