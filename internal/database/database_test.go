package database

import (
	"net"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/anno_train_server/config"
	"github.com/qs3c/anno_train_server/internal/model"
)

func TestOpen_SQLite(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver:   "sqlite",
		Database: filepath.Join(t.TempDir(), "test.db"),
	}

	db, err := Open(cfg)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	require.NoError(t, AutoMigrate(db))
	assert.True(t, db.Migrator().HasTable(&model.TrainingJob{}))
	assert.True(t, db.Migrator().HasTable(&model.DatasetVersion{}))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(&config.DatabaseConfig{Driver: "postgres"})
	assert.Error(t, err)
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	client, err := NewRedis(&config.RedisConfig{Host: host, Port: p})
	require.NoError(t, err)
	defer client.Close()

	mr.Close()
	_, err = NewRedis(&config.RedisConfig{Host: host, Port: p})
	assert.Error(t, err)
}
