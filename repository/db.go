package repository

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var db *gorm.DB
var dbOnce sync.Once

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	DatabaseName string `mapstructure:"database_name"`
}

func defaultConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		Host:         "localhost",
		Port:         3306,
		Username:     "liblend",
		Password:     "liblend",
		DatabaseName: "liblend",
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("DB_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.DatabaseName = v
	}
	return cfg
}

func InitDatabase() *gorm.DB {
	dbOnce.Do(
		func() {
			dbConfig := defaultConfig()
			dsn := fmt.Sprintf(
				"%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
				dbConfig.Username,
				dbConfig.Password,
				dbConfig.Host,
				dbConfig.Port,
				dbConfig.DatabaseName,
			)
			var err error
			db, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
			if err != nil {
				panic(fmt.Errorf("failed to connect database, error: %v", err))
			}
			if err = Migrate(db); err != nil {
				panic(fmt.Errorf("failed to migrate database, error: %v", err))
			}
		},
	)

	return db
}

// Migrate creates or updates the tables the engine persists to.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Book{}, &Ticket{}, &EventLog{})
}
