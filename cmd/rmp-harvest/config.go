package main

import (
	"fmt"
	"os"
	"time"

	"github.com/Sternrassler/rmp-harvest/pkg/client"
	"github.com/Sternrassler/rmp-harvest/pkg/dedup"
	"github.com/Sternrassler/rmp-harvest/pkg/harvest"
	"github.com/Sternrassler/rmp-harvest/pkg/logging"
	"github.com/Sternrassler/rmp-harvest/pkg/ratelimit"
	"github.com/spf13/viper"
)

// Configuration keys.
const (
	keyBaseURL           = "service.base_url"
	keyGraphQLPath       = "service.graphql_path"
	keyAuthorization     = "service.authorization"
	keyUserAgent         = "service.user_agent"
	keyRequestTimeout    = "service.request_timeout"
	keyRequestsPerSecond = "service.requests_per_second"
	keyBurst             = "service.burst"
	keyBreakerFailures   = "service.breaker_failures"
	keyBreakerTimeout    = "service.breaker_timeout"

	keyWorkers     = "dispatch.workers"
	keyUnitTimeout = "dispatch.unit_timeout"
	keyGrace       = "dispatch.grace"

	keyBatchSize = "batch_size"
	keyPageSize  = "page_size"
	keyMaxPages  = "max_pages"

	keyCooldownRateLimit = "cooldown.rate_limit"
	keyCooldownServer    = "cooldown.server"
	keyCooldownNetwork   = "cooldown.network"

	keyRunID        = "run_id"
	keyDedupBackend = "dedup.backend"
	keyRedisAddr    = "redis.addr"
	keyRedisDB      = "redis.db"
	keySQLitePath   = "sqlite.path"

	keyLogLevel    = "log.level"
	keyLogPretty   = "log.pretty"
	keyMetricsAddr = "metrics.addr"

	keyQueryResources  = "queries.resources"
	keyQuerySubrecords = "queries.subrecords"

	keyFailedOut = "output.failed"
	keyProgress  = "output.progress"
)

// setDefaults registers every key so environment variables are picked up
// even without a config file.
func setDefaults(v *viper.Viper) {
	cc := client.DefaultConfig()
	hc := harvest.DefaultConfig()
	pol := ratelimit.DefaultPolicies()

	v.SetDefault(keyBaseURL, cc.BaseURL)
	v.SetDefault(keyGraphQLPath, cc.GraphQLPath)
	v.SetDefault(keyAuthorization, cc.Authorization)
	v.SetDefault(keyUserAgent, cc.UserAgent)
	v.SetDefault(keyRequestTimeout, cc.RequestTimeout)
	v.SetDefault(keyRequestsPerSecond, cc.RequestsPerSecond)
	v.SetDefault(keyBurst, cc.Burst)
	v.SetDefault(keyBreakerFailures, cc.BreakerFailures)
	v.SetDefault(keyBreakerTimeout, cc.BreakerTimeout)

	v.SetDefault(keyWorkers, hc.Workers)
	v.SetDefault(keyUnitTimeout, time.Duration(0))
	v.SetDefault(keyGrace, hc.Grace)

	v.SetDefault(keyBatchSize, hc.BatchSize)
	v.SetDefault(keyPageSize, hc.PageSize)
	v.SetDefault(keyMaxPages, hc.MaxPages)

	v.SetDefault(keyCooldownRateLimit, pol.For(client.ErrorClassRateLimit).Cooldown)
	v.SetDefault(keyCooldownServer, pol.For(client.ErrorClassServer).Cooldown)
	v.SetDefault(keyCooldownNetwork, pol.For(client.ErrorClassNetwork).Cooldown)

	v.SetDefault(keyRunID, "")
	v.SetDefault(keyDedupBackend, dedup.BackendMemory)
	v.SetDefault(keyRedisAddr, "")
	v.SetDefault(keyRedisDB, 0)
	v.SetDefault(keySQLitePath, "rmp-harvest-dedup.db")

	v.SetDefault(keyLogLevel, string(logging.LevelInfo))
	v.SetDefault(keyLogPretty, false)
	v.SetDefault(keyMetricsAddr, "")

	v.SetDefault(keyQueryResources, "")
	v.SetDefault(keyQuerySubrecords, "")

	v.SetDefault(keyFailedOut, "")
	v.SetDefault(keyProgress, false)
}

// appConfig is the resolved configuration of one invocation.
type appConfig struct {
	Client   client.Config
	Harvest  harvest.Config
	Cooldown ratelimit.Policies

	// RunID names the run in logs and dedup keys. Processes sharing a
	// Redis set, or resuming a SQLite file, must use the same id.
	RunID        string
	DedupBackend string
	RedisAddr    string
	RedisDB      int
	SQLitePath   string

	Log         logging.Config
	MetricsAddr string

	FailedOut string
	Progress  bool
}

// loadConfig resolves the configuration from v.
func loadConfig(v *viper.Viper) (appConfig, error) {
	var cfg appConfig

	cfg.Client = client.DefaultConfig()
	cfg.Client.BaseURL = v.GetString(keyBaseURL)
	cfg.Client.GraphQLPath = v.GetString(keyGraphQLPath)
	cfg.Client.Authorization = v.GetString(keyAuthorization)
	cfg.Client.UserAgent = v.GetString(keyUserAgent)
	cfg.Client.RequestTimeout = v.GetDuration(keyRequestTimeout)
	cfg.Client.RequestsPerSecond = v.GetFloat64(keyRequestsPerSecond)
	cfg.Client.Burst = v.GetInt(keyBurst)
	cfg.Client.BreakerFailures = v.GetUint32(keyBreakerFailures)
	cfg.Client.BreakerTimeout = v.GetDuration(keyBreakerTimeout)

	cfg.Harvest = harvest.DefaultConfig()
	cfg.Harvest.Workers = v.GetInt(keyWorkers)
	if d := v.GetDuration(keyUnitTimeout); d > 0 {
		cfg.Harvest.ProfessorTimeout = d
		cfg.Harvest.ReviewTimeout = d
	}
	cfg.Harvest.Grace = v.GetDuration(keyGrace)
	cfg.Harvest.BatchSize = v.GetInt(keyBatchSize)
	cfg.Harvest.PageSize = v.GetInt(keyPageSize)
	cfg.Harvest.MaxPages = v.GetInt(keyMaxPages)

	var err error
	if cfg.Harvest.ProfessorsQuery, err = readQuery(v.GetString(keyQueryResources)); err != nil {
		return cfg, err
	}
	if cfg.Harvest.ReviewsQuery, err = readQuery(v.GetString(keyQuerySubrecords)); err != nil {
		return cfg, err
	}
	if err := cfg.Harvest.Validate(); err != nil {
		return cfg, err
	}

	cfg.Cooldown = ratelimit.DefaultPolicies()
	setCooldown(cfg.Cooldown, client.ErrorClassRateLimit, v.GetDuration(keyCooldownRateLimit))
	setCooldown(cfg.Cooldown, client.ErrorClassServer, v.GetDuration(keyCooldownServer))
	setCooldown(cfg.Cooldown, client.ErrorClassNetwork, v.GetDuration(keyCooldownNetwork))

	cfg.RunID = v.GetString(keyRunID)
	cfg.DedupBackend = v.GetString(keyDedupBackend)
	cfg.RedisAddr = v.GetString(keyRedisAddr)
	cfg.RedisDB = v.GetInt(keyRedisDB)
	cfg.SQLitePath = v.GetString(keySQLitePath)
	switch cfg.DedupBackend {
	case dedup.BackendMemory, dedup.BackendSQLite:
	case dedup.BackendRedis:
		if cfg.RedisAddr == "" {
			return cfg, fmt.Errorf("dedup backend %q requires %s", cfg.DedupBackend, keyRedisAddr)
		}
	default:
		return cfg, fmt.Errorf("unknown dedup backend %q", cfg.DedupBackend)
	}

	level := v.GetString(keyLogLevel)
	if err := logging.ValidateLevel(level); err != nil {
		return cfg, err
	}
	cfg.Log = logging.DefaultConfig()
	cfg.Log.Level = logging.LogLevel(level)
	cfg.Log.Pretty = v.GetBool(keyLogPretty)

	cfg.MetricsAddr = v.GetString(keyMetricsAddr)
	cfg.FailedOut = v.GetString(keyFailedOut)
	cfg.Progress = v.GetBool(keyProgress)
	return cfg, nil
}

// setCooldown overrides the pause of class, keeping its other settings.
func setCooldown(p ratelimit.Policies, class client.ErrorClass, d time.Duration) {
	pol := p.For(class)
	pol.Cooldown = d
	p[class] = pol
}

func readQuery(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read query document: %w", err)
	}
	return string(data), nil
}
