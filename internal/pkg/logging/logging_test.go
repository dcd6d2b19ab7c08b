package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

func TestSetup_Level(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	Setup("debug", true)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	Setup("nonsense", false)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestGormLevel(t *testing.T) {
	assert.Equal(t, logger.Info, GormLevel("DEBUG"))
	assert.Equal(t, logger.Warn, GormLevel("info"))
	assert.Equal(t, logger.Error, GormLevel("error"))
	assert.Equal(t, logger.Silent, GormLevel("disabled"))
}
