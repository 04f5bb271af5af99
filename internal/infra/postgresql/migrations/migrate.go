package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/alert-relay/internal/repository"
	"github.com/kursadbilgin/alert-relay/internal/rules"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_alert_events",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.AlertEventModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_alert_events_rule_triggered ON alert_events (rule_id, triggered_at)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.AlertEventModel{})
			},
		},
		{
			ID: "000002_create_alert_deliveries",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.AlertDeliveryModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_deliveries_alert_id ON alert_deliveries (alert_id)`,
					`CREATE INDEX IF NOT EXISTS idx_deliveries_status ON alert_deliveries (status)`,
					`CREATE INDEX IF NOT EXISTS idx_deliveries_poison_at ON alert_deliveries (poison_at) WHERE status = 'POISON'`,
					`CREATE INDEX IF NOT EXISTS idx_deliveries_stuck ON alert_deliveries (last_attempt_at) WHERE status = 'IN_PROGRESS'`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.AlertDeliveryModel{})
			},
		},
		{
			ID: "000003_create_alert_rules",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&rules.RuleModel{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&rules.RuleChannelModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_rule_channels_rule_enabled ON alert_rule_channels (rule_id) WHERE enabled`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				if err := tx.Migrator().DropTable(&rules.RuleChannelModel{}); err != nil {
					return err
				}
				return tx.Migrator().DropTable(&rules.RuleModel{})
			},
		},
	})

	return m.Migrate()
}
