package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/freelance-manager/freelance-api/internal/filestore"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, FileStoreLocal, cfg.FileStoreBackend)
	require.Equal(t, 10*time.Minute, cfg.FinanceCacheTTL)
	require.Equal(t, []string{"http://localhost:3000"}, cfg.CORSAllowedOrigins)
	require.False(t, cfg.IsProduction())

	calc, err := cfg.TaxYearCalculator()
	require.NoError(t, err)
	w := calc.Specified(2015)
	require.Equal(t, time.Date(2015, time.April, 6, 0, 0, 0, 0, time.UTC), w.Start)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("FILE_STORE_BACKEND", FileStoreGCS)
	t.Setenv("GCS_BUCKET", "freelance-files")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com,https://admin.example.com")
	t.Setenv("TAX_YEAR_START_MONTH", "1")
	t.Setenv("TAX_YEAR_START_DAY", "1")
	t.Setenv("TAX_YEAR_END_MONTH", "12")
	t.Setenv("TAX_YEAR_END_DAY", "31")
	t.Setenv("APP_ENV", "production")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "freelance-files", cfg.GCSBucket)
	require.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.CORSAllowedOrigins)
	require.True(t, cfg.IsProduction())
	require.Equal(t, time.January, cfg.TaxYearRule().StartMonth)
}

func TestConfigValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			FileStoreBackend:  FileStoreLocal,
			FilesPath:         "/srv/files",
			TaxYearStartMonth: 4,
			TaxYearStartDay:   6,
			TaxYearEndMonth:   4,
			TaxYearEndDay:     5,
			TaxYearLocation:   "UTC",
		}
	}
	require.NoError(t, base().Validate())

	cfg := base()
	cfg.FileStoreBackend = FileStoreGCS
	require.ErrorContains(t, cfg.Validate(), "gcs bucket")

	cfg = base()
	cfg.FileStoreBackend = "s3"
	require.ErrorContains(t, cfg.Validate(), "unknown file store backend")

	cfg = base()
	cfg.TaxYearStartDay = 31
	require.ErrorContains(t, cfg.Validate(), "tax year rule")

	cfg = base()
	cfg.TaxYearLocation = "Mars/Olympus"
	require.ErrorContains(t, cfg.Validate(), "tax year location")
}

func TestOpenFileStoreLocal(t *testing.T) {
	cfg := &Config{FileStoreBackend: FileStoreLocal, FilesPath: t.TempDir()}
	store, closeFn, err := OpenFileStore(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	require.NotNil(t, store)
	require.NoError(t, closeFn())

	for _, dir := range []string{filestore.ExpenseProofsDir, filestore.ProjectInvoicesDir, filestore.ReportsDir} {
		info, err := os.Stat(filepath.Join(cfg.FilesPath, dir))
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}
