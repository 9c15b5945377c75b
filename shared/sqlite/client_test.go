package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/repairshop-worker/shared/logger"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{name: "in memory", path: ":memory:"},
		{name: "file in nested directory", path: filepath.Join(t.TempDir(), "data", "worker.db")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(context.Background(), &Config{Path: tt.path}, logger.Discard())
			require.NoError(t, err)
			defer client.Close()

			require.NoError(t, client.HealthCheck(context.Background()))

			db := client.GetDB()
			_, err = db.Exec(`CREATE TABLE t (k TEXT PRIMARY KEY, v INTEGER)`)
			require.NoError(t, err)
			_, err = db.Exec(db.Rebind(`INSERT INTO t (k, v) VALUES (?, ?)`), "a", 1)
			require.NoError(t, err)

			var v int
			require.NoError(t, db.Get(&v, db.Rebind(`SELECT v FROM t WHERE k = ?`), "a"))
			assert.Equal(t, 1, v)
		})
	}
}
