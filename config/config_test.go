package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursehub/learning-analytics/internal/domain/progress"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "learning-analytics", cfg.App.Name)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "analytics.db", cfg.Database.SQLitePath)
	assert.Equal(t, int32(10), cfg.Database.MaxConns)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Redis.SummaryTTL)
	assert.Equal(t, progress.MergeHighWater, cfg.MergePolicy())
	assert.Equal(t, 30, cfg.Analytics.DefaultRangeDays)
	assert.Equal(t, 12, cfg.Analytics.DefaultBucketLimit)
	assert.Equal(t, "00:15", cfg.Scheduler.SweepAt)
	assert.Equal(t, 4, cfg.Scheduler.Concurrency)
	assert.Equal(t, "json", cfg.LoggerOptions().Format)
	assert.Equal(t, ":8081", cfg.Observability.HealthAddr)
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"APP_ENV":                  "production",
		"DATABASE_DRIVER":          "postgres",
		"DATABASE_URL":             "postgres://u:p@db:5432/analytics",
		"ANALYTICS_PROGRESS_MERGE": "overwrite",
		"ANALYTICS_SYNTHETIC_SEED": "7",
		"REDIS_ENABLED":            "true",
		"REDIS_SUMMARY_TTL":        "90s",
		"LOG_FORMAT":               "TEXT",
	})
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, progress.MergeOverwrite, cfg.MergePolicy())
	assert.Equal(t, uint64(7), cfg.Analytics.SyntheticSeed)
	assert.Equal(t, 90*time.Second, cfg.Redis.SummaryTTL)
	assert.Equal(t, "text", cfg.LoggerOptions().Format)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want string
	}{
		{
			name: "unknown driver",
			vars: map[string]string{"DATABASE_DRIVER": "mysql"},
			want: "DATABASE_DRIVER",
		},
		{
			name: "postgres without url",
			vars: map[string]string{"DATABASE_DRIVER": "postgres"},
			want: "DATABASE_URL",
		},
		{
			name: "unknown merge policy",
			vars: map[string]string{"ANALYTICS_PROGRESS_MERGE": "latest"},
			want: "ANALYTICS_PROGRESS_MERGE",
		},
		{
			name: "range too wide",
			vars: map[string]string{"ANALYTICS_DEFAULT_RANGE_DAYS": "400"},
			want: "ANALYTICS_DEFAULT_RANGE_DAYS",
		},
		{
			name: "bad sweep time",
			vars: map[string]string{"SCHEDULER_SWEEP_AT": "25:00"},
			want: "SCHEDULER_SWEEP_AT",
		},
		{
			name: "bad log format",
			vars: map[string]string{"LOG_FORMAT": "xml"},
			want: "LOG_FORMAT",
		},
		{
			name: "sqlite in production",
			vars: map[string]string{"APP_ENV": "production"},
			want: "not supported in production",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.vars)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_ReadsDotenvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SQLITE_PATH=/tmp/from-dotenv.db\n"), 0o600))
	t.Setenv("SQLITE_PATH", "")
	require.NoError(t, os.Unsetenv("SQLITE_PATH"))

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-dotenv.db", cfg.Database.SQLitePath)
}
