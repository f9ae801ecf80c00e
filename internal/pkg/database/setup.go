package database

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/LinkFox/app/models"
	"github.com/ManuelReschke/LinkFox/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

const DriverMemory = "memory"

// DB is nil when DB_DRIVER=memory.
var DB *gorm.DB

func GetDB() *gorm.DB {
	return DB
}

// UsesMemory reports whether the process runs without MySQL.
func UsesMemory() bool {
	return env.GetEnv("DB_DRIVER", "mysql") == DriverMemory
}

func SetupDatabase() {
	if UsesMemory() {
		log.Warn("[Database] DB_DRIVER=memory, identities are kept in process memory only")
		DB = nil
		return
	}

	var err error
	// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		env.GetEnv("DB_USER", ""),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", ""),
	)

	gormLogLevel := logger.Warn
	if env.IsDev() {
		gormLogLevel = logger.Info
	}

	for i := 0; i < maxRetries; i++ {
		DB, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{
			// unique violations surface as gorm.ErrDuplicatedKey
			TranslateError: true,
			Logger:         logger.Default.LogMode(gormLogLevel),
		})
		if err == nil {
			if err = DB.AutoMigrate(
				&models.Identity{},
				&models.ProviderLink{},
				&models.Token{},
			); err != nil {
				log.Errorf("[Database] AutoMigrate failed: %v", err)
			}
			return
		}

		log.Warnf("[Database] Failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("[Database] Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}
