package postgresql

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/repairshop-worker/shared/logger"
)

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   string
	}{
		{
			name:   "explicit ssl mode",
			config: Config{Host: "db", Port: 5432, User: "worker", Password: "secret", Database: "repairshop", SSLMode: "require"},
			want:   "host=db port=5432 user=worker password=secret dbname=repairshop sslmode=require",
		},
		{
			name:   "ssl mode defaults to disable",
			config: Config{Host: "localhost", Port: 5433, User: "u", Password: "p", Database: "d"},
			want:   "host=localhost port=5433 user=u password=p dbname=d sslmode=disable",
		},
		{
			name:   "password with spaces and quotes",
			config: Config{Host: "db", Port: 5432, User: "u", Password: `it's a secret`, Database: "d"},
			want:   `host=db port=5432 user=u password='it\'s a secret' dbname=d sslmode=disable`,
		},
		{
			name:   "empty password",
			config: Config{Host: "db", Port: 5432, User: "u", Database: "d"},
			want:   "host=db port=5432 user=u password='' dbname=d sslmode=disable",
		},
		{
			name: "application name and connect timeout",
			config: Config{
				Host: "db", Port: 5432, User: "u", Password: "p", Database: "d",
				ApplicationName: "repairshop-worker", ConnectTimeout: 3 * time.Second,
			},
			want: "host=db port=5432 user=u password=p dbname=d sslmode=disable application_name=repairshop-worker connect_timeout=3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.DSN())
		})
	}
}

func TestNewClient_CanceledWhileRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(ctx, &Config{
		Host:           "127.0.0.1",
		Port:           1,
		User:           "u",
		Database:       "d",
		ConnectTimeout: time.Second,
		ConnectRetries: 3,
		RetryInterval:  time.Hour,
	}, logger.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to PostgreSQL")
}
