package database

import (
	"errors"
	"fmt"
	"strconv"

	"landflow/internal/config"
	"landflow/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AllModels lists every table in migration order. Data copy tools reuse it.
func AllModels() []interface{} {
	return []interface{}{
		&models.Client{},
		&models.Lead{},
		&models.Email{},
		&models.Automation{},
		&models.ScheduledTask{},
		&models.AutomationLog{},
		&models.SystemSetting{},
	}
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("auto-migration: %w", err)
	}
	return nil
}

// SyncConfig reconciles mail defaults with system_settings. Values stored in
// the database win over the environment; missing keys are seeded from it.
func SyncConfig(db *gorm.DB, cfg *config.Config, log *zap.Logger) {
	smtpPort := strconv.Itoa(cfg.Mail.SMTPPort)

	settings := []struct {
		Key   string
		Value *string
	}{
		{"MAIL_TRANSPORT", &cfg.Mail.Transport},
		{"SMTP_HOST", &cfg.Mail.SMTPHost},
		{"SMTP_PORT", &smtpPort},
		{"MAIL_FROM", &cfg.Mail.FromEmail},
		{"MAIL_FROM_NAME", &cfg.Mail.FromName},
	}

	for _, s := range settings {
		var setting models.SystemSetting
		err := db.Where("key = ?", s.Key).First(&setting).Error
		switch {
		case err == nil:
			if setting.Value != "" {
				*s.Value = setting.Value
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			if *s.Value != "" {
				if err := db.Create(&models.SystemSetting{Key: s.Key, Value: *s.Value}).Error; err != nil {
					log.Warn("seed system setting", zap.String("key", s.Key), zap.Error(err))
				}
			}
		default:
			log.Warn("read system setting", zap.String("key", s.Key), zap.Error(err))
		}
	}

	if port, err := strconv.Atoi(smtpPort); err == nil {
		cfg.Mail.SMTPPort = port
	}
	log.Info("system settings synchronized from database")
}
