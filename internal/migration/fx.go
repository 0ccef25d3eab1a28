package migration

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(apply),
)

// apply migrates postgres on boot. Other dialects are only used by tests,
// which build their own tables.
func apply(conn *gorm.DB, log *zap.Logger) error {
	log = log.Named("migration")
	dialect := conn.Dialector.Name()
	if dialect != "postgres" {
		log.Warn("schema migrations skipped", zap.String("dialect", dialect))
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	version, err := Up(sqlDB)
	if err != nil {
		return err
	}
	log.Info("schema ready", zap.Uint("version", version))
	return nil
}
