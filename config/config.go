package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig holds environment driven configuration values.
// Secrets never have defaults in code; provide them via .env, config.json or the environment.
type AppConfig struct {
	AppPort     string
	JWTSecret   string
	TokenTTLHrs int
	// Database
	DBDriver    string
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	// OAuth
	GitHubClientID     string
	GitHubClientSecret string
	GoogleClientID     string
	GoogleClientSecret string
	OAuthRedirectBase  string
	// Points economy
	CheckinRewardPoints int
	CheckinStreakBonus  int
	LoginActivityPoints int
	// HTTP
	RateLimitPerMinute int
	AllowedOrigins     []string
	GinMode            string
	GinPath            string
	// SMTP for password reset codes
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	SMTPTLS      bool
	// Redis for cache, realtime and token revocation
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// Backends: "memory" or "redis"
	CacheBackend    string
	RealtimeBackend string
	CacheTTLSeconds int
	// Idle user cache scopes are released after this many minutes
	CacheIdleMinutes int
	// Activity log worker pool
	ActivityWorkers int
	ActivityQueue   int
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
	// Usernames promoted to admin on sign-in
	AdminUsernames []string
	// Registration anti-abuse, per client IP
	RegisterAttemptCooldownSec    int
	RegisterMaxPerIPPerDay        int
	RegisterFailedMaxPerIPPerHour int
	RegisterTempBanMinutes        int
}

var cfg AppConfig
var loaded bool

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	if loaded {
		return cfg
	}

	// Precedence: .env -> config/config.json -> defaults -> environment variable overrides
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, reading environment variables directly")
	}

	if err := loadJSONConfig(filepath.Join("config", "config.json"), &cfg); err != nil {
		log.Printf("invalid config/config.json: %v", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set in environment variables")
	}

	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

// Set replaces the cached configuration. Tests use it to avoid touching the environment.
func Set(c AppConfig) {
	applyDefaults(&c)
	cfg = c
	loaded = true
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// loadJSONConfig reads grouped sections from a JSON file. A missing file is not an error.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var raw map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return err
	}

	getString := func(m map[string]any, key string) string {
		if s, ok := m[key].(string); ok {
			return s
		}
		return ""
	}
	getInt := func(m map[string]any, key string) int {
		switch t := m[key].(type) {
		case float64:
			return int(t)
		case int:
			return t
		}
		return 0
	}
	getBool := func(m map[string]any, key string) bool {
		b, _ := m[key].(bool)
		return b
	}
	getStringSlice := func(m map[string]any, key string) []string {
		arr, ok := m[key].([]any)
		if !ok {
			return nil
		}
		res := make([]string, 0, len(arr))
		for _, it := range arr {
			if s, ok := it.(string); ok {
				res = append(res, s)
			}
		}
		return res
	}

	if app, ok := raw["app"].(map[string]any); ok {
		out.AppPort = getString(app, "AppPort")
		out.JWTSecret = getString(app, "JWTSecret")
		out.TokenTTLHrs = getInt(app, "TokenTTLHours")
		out.RateLimitPerMinute = getInt(app, "RateLimitPerMinute")
		out.AllowedOrigins = getStringSlice(app, "AllowedOrigins")
		out.OAuthRedirectBase = getString(app, "OAuthRedirectBase")
		out.AdminUsernames = getStringSlice(app, "AdminUsernames")
		out.GinMode = getString(app, "GinMode")
		out.GinPath = getString(app, "GinPath")
	}

	if reg, ok := raw["register"].(map[string]any); ok {
		out.RegisterAttemptCooldownSec = getInt(reg, "AttemptCooldownSec")
		out.RegisterMaxPerIPPerDay = getInt(reg, "MaxPerIPPerDay")
		out.RegisterFailedMaxPerIPPerHour = getInt(reg, "FailedMaxPerIPPerHour")
		out.RegisterTempBanMinutes = getInt(reg, "TempBanMinutes")
	}

	if pts, ok := raw["points"].(map[string]any); ok {
		out.CheckinRewardPoints = getInt(pts, "CheckinReward")
		out.CheckinStreakBonus = getInt(pts, "CheckinStreakBonus")
		out.LoginActivityPoints = getInt(pts, "LoginActivity")
	}

	if dbs, ok := raw["database"].(map[string]any); ok {
		out.DBDriver = getString(dbs, "Driver")
		out.DatabaseURI = getString(dbs, "DatabaseURI")
		out.DBHost = getString(dbs, "DBHost")
		out.DBPort = getString(dbs, "DBPort")
		out.DBUser = getString(dbs, "DBUser")
		out.DBPassword = getString(dbs, "DBPassword")
		out.DBName = getString(dbs, "DBName")
	}

	if rds, ok := raw["redis"].(map[string]any); ok {
		out.RedisHost = getString(rds, "RedisHost")
		out.RedisPort = getInt(rds, "RedisPort")
		out.RedisDB = getInt(rds, "RedisDB")
		out.RedisPassword = getString(rds, "RedisPassword")
	}

	if cc, ok := raw["cache"].(map[string]any); ok {
		out.CacheBackend = getString(cc, "Backend")
		out.RealtimeBackend = getString(cc, "RealtimeBackend")
		out.CacheTTLSeconds = getInt(cc, "TTLSeconds")
		out.CacheIdleMinutes = getInt(cc, "IdleMinutes")
	}

	if wk, ok := raw["workers"].(map[string]any); ok {
		out.ActivityWorkers = getInt(wk, "ActivityWorkers")
		out.ActivityQueue = getInt(wk, "ActivityQueue")
	}

	if oa, ok := raw["oauth"].(map[string]any); ok {
		out.GitHubClientID = getString(oa, "GitHubClientID")
		out.GitHubClientSecret = getString(oa, "GitHubClientSecret")
		out.GoogleClientID = getString(oa, "GoogleClientID")
		out.GoogleClientSecret = getString(oa, "GoogleClientSecret")
	}

	if sm, ok := raw["smtp"].(map[string]any); ok {
		out.SMTPHost = getString(sm, "SMTPHost")
		out.SMTPPort = getInt(sm, "SMTPPort")
		out.SMTPUsername = getString(sm, "SMTPUsername")
		out.SMTPPassword = getString(sm, "SMTPPassword")
		out.SMTPFrom = getString(sm, "SMTPFrom")
		out.SMTPFromName = getString(sm, "SMTPFromName")
		out.SMTPTLS = getBool(sm, "SMTPTLS")
	}

	if lg, ok := raw["log"].(map[string]any); ok {
		out.LogLevel = getString(lg, "Level")
		out.LogPath = getString(lg, "Path")
		out.LogMaxSizeMB = getInt(lg, "MaxSizeMB")
		out.LogMaxBackups = getInt(lg, "MaxBackups")
		out.LogMaxAgeDays = getInt(lg, "MaxAgeDays")
		out.LogCompress = getBool(lg, "Compress")
	}

	return nil
}

func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.TokenTTLHrs == 0 {
		c.TokenTTLHrs = 72
	}
	if c.DBDriver == "" {
		c.DBDriver = "postgres"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		if c.DBDriver == "mysql" {
			c.DBPort = "3306"
		} else {
			c.DBPort = "5432"
		}
	}
	if c.DBUser == "" {
		c.DBUser = "questboard"
	}
	if c.DBName == "" {
		c.DBName = "questboard"
	}
	if c.OAuthRedirectBase == "" {
		c.OAuthRedirectBase = "http://localhost:8080"
	}
	if c.CheckinRewardPoints == 0 {
		c.CheckinRewardPoints = 10
	}
	if c.CheckinStreakBonus == 0 {
		c.CheckinStreakBonus = 2
	}
	if c.LoginActivityPoints == 0 {
		c.LoginActivityPoints = 5
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/gin.log"
	}
	if c.SMTPPort == 0 {
		c.SMTPPort = 587
	}
	// An empty RedisHost disables Redis; token, code and state stores fall back to memory.
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.CacheBackend == "" {
		c.CacheBackend = "memory"
	}
	if c.RealtimeBackend == "" {
		c.RealtimeBackend = "memory"
	}
	if c.CacheTTLSeconds == 0 {
		c.CacheTTLSeconds = 3600
	}
	if c.CacheIdleMinutes == 0 {
		c.CacheIdleMinutes = 30
	}
	if c.ActivityWorkers == 0 {
		c.ActivityWorkers = 4
	}
	if c.ActivityQueue == 0 {
		c.ActivityQueue = 256
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	str := map[string]*string{
		"APP_PORT":                &c.AppPort,
		"JWT_SECRET":              &c.JWTSecret,
		"DB_DRIVER":               &c.DBDriver,
		"DATABASE_URI":            &c.DatabaseURI,
		"DB_HOST":                 &c.DBHost,
		"DB_PORT":                 &c.DBPort,
		"DB_USER":                 &c.DBUser,
		"DB_PASSWORD":             &c.DBPassword,
		"DB_NAME":                 &c.DBName,
		"GITHUB_CLIENT_ID":        &c.GitHubClientID,
		"GITHUB_CLIENT_SECRET":    &c.GitHubClientSecret,
		"GOOGLE_CLIENT_ID":        &c.GoogleClientID,
		"GOOGLE_CLIENT_SECRET":    &c.GoogleClientSecret,
		"OAUTH_REDIRECT_BASE_URL": &c.OAuthRedirectBase,
		"GIN_MODE":                &c.GinMode,
		"GIN_PATH":                &c.GinPath,
		"SMTP_HOST":               &c.SMTPHost,
		"SMTP_USERNAME":           &c.SMTPUsername,
		"SMTP_PASSWORD":           &c.SMTPPassword,
		"SMTP_FROM":               &c.SMTPFrom,
		"SMTP_FROM_NAME":          &c.SMTPFromName,
		"REDIS_HOST":              &c.RedisHost,
		"REDIS_PASSWORD":          &c.RedisPassword,
		"CACHE_BACKEND":           &c.CacheBackend,
		"REALTIME_BACKEND":        &c.RealtimeBackend,
		"LOG_LEVEL":               &c.LogLevel,
		"LOG_PATH":                &c.LogPath,
	}
	for key, dst := range str {
		if v := getEnv(key, ""); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"TOKEN_TTL_HOURS":       &c.TokenTTLHrs,
		"CHECKIN_REWARD":        &c.CheckinRewardPoints,
		"CHECKIN_STREAK_BONUS":  &c.CheckinStreakBonus,
		"LOGIN_ACTIVITY_POINTS": &c.LoginActivityPoints,
		"RATE_LIMIT_PER_MINUTE": &c.RateLimitPerMinute,
		"SMTP_PORT":             &c.SMTPPort,
		"REDIS_PORT":            &c.RedisPort,
		"REDIS_DB":              &c.RedisDB,
		"CACHE_TTL_SECONDS":     &c.CacheTTLSeconds,
		"CACHE_IDLE_MINUTES":    &c.CacheIdleMinutes,
		"ACTIVITY_WORKERS":      &c.ActivityWorkers,
		"ACTIVITY_QUEUE":        &c.ActivityQueue,
		"LOG_MAX_SIZE_MB":       &c.LogMaxSizeMB,
		"LOG_MAX_BACKUPS":       &c.LogMaxBackups,
		"LOG_MAX_AGE_DAYS":      &c.LogMaxAgeDays,

		"REGISTER_ATTEMPT_COOLDOWN_SEC":       &c.RegisterAttemptCooldownSec,
		"REGISTER_MAX_PER_IP_PER_DAY":         &c.RegisterMaxPerIPPerDay,
		"REGISTER_FAILED_MAX_PER_IP_PER_HOUR": &c.RegisterFailedMaxPerIPPerHour,
		"REGISTER_TEMP_BAN_MINUTES":           &c.RegisterTempBanMinutes,
	}
	for key, dst := range ints {
		if v := getEnv(key, ""); v != "" {
			*dst = mustParseInt(v)
		}
	}

	if v := getEnv("SMTP_TLS", ""); v != "" {
		c.SMTPTLS = v == "true"
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = v == "true"
	}
	c.AllowedOrigins = readListEnv("CORS_ALLOWED_ORIGINS", c.AllowedOrigins)
	c.AdminUsernames = readListEnv("ADMIN_USERNAMES", c.AdminUsernames)
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func readListEnv(key string, defaults []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaults
	}
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
