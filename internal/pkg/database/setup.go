package database

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/ProUnlock/app/models"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/config"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// DSN renders the driver connection string for cfg.
func DSN(cfg config.DBConfig) string {
	c := mysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(cfg.Host, cfg.Port)
	c.DBName = cfg.Name
	c.ParseTime = true
	c.Loc = time.UTC
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN()
}

// MigrateURL renders the golang-migrate database URL for cfg.
func MigrateURL(cfg config.DBConfig) string {
	c := mysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(cfg.Host, cfg.Port)
	c.DBName = cfg.Name
	c.MultiStatements = true
	return "mysql://" + c.FormatDSN()
}

// Open connects to MySQL, retrying while the server comes up.
func Open(ctx context.Context, cfg config.DBConfig, log logrus.FieldLogger) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(gormmysql.New(gormmysql.Config{
			DSN:                       DSN(cfg),
			DefaultStringSize:         256,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.Warn),
			NowFunc:        func() time.Time { return time.Now().UTC() },
		})
		if err == nil {
			if err = configurePool(db, cfg); err == nil {
				return db, nil
			}
		}

		log.WithFields(logrus.Fields{
			"attempt": i + 1,
			"max":     maxRetries,
			"host":    cfg.Host,
		}).WithError(err).Warn("failed to connect to database")
		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return nil, fmt.Errorf("connect database: %w", err)
}

func configurePool(db *gorm.DB, cfg config.DBConfig) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return sqlDB.Ping()
}

// AutoMigrate syncs the schema from the models. Production schemas come from
// the SQL migrations; this is for local development.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.UserSettings{},
		&models.PaymentEvent{},
		&models.PaymentClaim{},
	)
}
