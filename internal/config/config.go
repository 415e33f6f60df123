package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

type Config struct {
	ServerAddress  string
	StoreDriver    string
	DatabaseURL    string
	MongoURI       string
	MongoDatabase  string
	JWTSecret      string
	JWTTTL         time.Duration
	ClientURL      string
	UploadDir      string
	MaxUploadBytes int64
	LogLevel       string
	Env            string
}

// Load reads an optional .env file from the working directory and resolves
// every setting from the environment, falling back to defaults.
func Load() *Config {
	_ = godotenv.Load()
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	cwd, err := os.Getwd()
	if err != nil {
		panic(err)
	}

	v := viper.New()
	v.SetDefault("SERVER_ADDRESS", ":8080")
	v.SetDefault("STORE_DRIVER", DriverSQLite)
	v.SetDefault("DATABASE_URL", "sqlite://"+filepath.Join(cwd, "data", "messenger.db"))
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DATABASE", "pairchat")
	v.SetDefault("JWT_SECRET", "your-secret-key")
	v.SetDefault("JWT_TTL", 30*24*time.Hour)
	v.SetDefault("CLIENT_URL", "http://localhost:3000")
	v.SetDefault("UPLOAD_DIR", filepath.Join(cwd, "uploads"))
	v.SetDefault("MAX_UPLOAD_BYTES", 50<<20)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ENV", "development")
	v.AutomaticEnv()
	return v
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		ServerAddress:  v.GetString("SERVER_ADDRESS"),
		StoreDriver:    strings.ToLower(v.GetString("STORE_DRIVER")),
		DatabaseURL:    v.GetString("DATABASE_URL"),
		MongoURI:       v.GetString("MONGO_URI"),
		MongoDatabase:  v.GetString("MONGO_DATABASE"),
		JWTSecret:      v.GetString("JWT_SECRET"),
		JWTTTL:         v.GetDuration("JWT_TTL"),
		ClientURL:      v.GetString("CLIENT_URL"),
		UploadDir:      v.GetString("UPLOAD_DIR"),
		MaxUploadBytes: v.GetInt64("MAX_UPLOAD_BYTES"),
		LogLevel:       strings.ToLower(v.GetString("LOG_LEVEL")),
		Env:            v.GetString("ENV"),
	}
}

// IsProduction reports whether the server runs with production defaults
// (JSON logs, secure cookies).
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// CleanDatabasePath returns a clean filesystem path from a database URL
func (c *Config) CleanDatabasePath() string {
	dbPath := strings.TrimPrefix(c.DatabaseURL, "sqlite://")

	if !filepath.IsAbs(dbPath) {
		cwd, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		dbPath = filepath.Join(cwd, dbPath)
	}

	return dbPath
}

// UpdateDatabasePath updates the database path, maintaining the sqlite:// prefix if it was present
func (c *Config) UpdateDatabasePath(newPath string) {
	if strings.HasPrefix(c.DatabaseURL, "sqlite://") {
		c.DatabaseURL = "sqlite://" + newPath
	} else {
		c.DatabaseURL = newPath
	}
}
