package config

import (
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration for the GitPress service.
type Config struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	JWTSecret          string
	PATEncryptionKey   string
	AccessTokenTTL     time.Duration
	WorkspaceRoot      string
	PublishRoot        string
	DefaultBranch      string
	GitTimeout         time.Duration
	BuildTimeout       time.Duration
	ValidateTimeout    time.Duration
	MaxConcurrentTasks int
	TaskRetention      time.Duration
	TaskSweepEvery     time.Duration
	TablePolicyFile    string
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// Load constructs a Config from environment variables. A .env file in the
// working directory is honored when present.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("GITPRESS_ADDR", ":4000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://gitpress:gitpress@db:5432/gitpress?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		PATEncryptionKey:   GetString("PAT_ENCRYPTION_KEY", "supersecuresecret"),
		AccessTokenTTL:     time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 60)) * time.Minute,
		WorkspaceRoot:      GetString("WORKSPACE_ROOT", "/var/lib/gitpress/sites"),
		PublishRoot:        GetString("PUBLISH_ROOT", "/var/lib/gitpress/public"),
		DefaultBranch:      GetString("GIT_DEFAULT_BRANCH", "main"),
		GitTimeout:         time.Duration(GetInt("GIT_TIMEOUT_SECONDS", 300)) * time.Second,
		BuildTimeout:       time.Duration(GetInt("BUILD_TIMEOUT_MINUTES", 30)) * time.Minute,
		ValidateTimeout:    time.Duration(GetInt("VALIDATE_TIMEOUT_MINUTES", 10)) * time.Minute,
		MaxConcurrentTasks: GetInt("MAX_CONCURRENT_DEPLOYMENTS", 4),
		TaskRetention:      time.Duration(GetInt("TASK_RETENTION_HOURS", 24)) * time.Hour,
		TaskSweepEvery:     time.Duration(GetInt("TASK_SWEEP_MINUTES", 15)) * time.Minute,
		TablePolicyFile:    GetString("TABLE_POLICY_FILE", ""),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
