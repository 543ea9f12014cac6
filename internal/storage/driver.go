package storage

import (
	"fmt"

	"github.com/stemsi/exstem-grader/internal/config"
)

// NewFromConfig builds the FileStore selected by STORAGE_DRIVER.
func NewFromConfig(cfg *config.Config) (FileStore, error) {
	switch cfg.StorageDriver {
	case "local":
		return NewLocalStore(cfg.UploadDir, cfg.PublicBaseURL+"/uploads"), nil
	case "supabase":
		if cfg.SupabaseURL == "" || cfg.SupabaseKey == "" {
			return nil, fmt.Errorf("supabase storage requires SUPABASE_PROJECT_URL and SUPABASE_SERVICE_ROLE_KEY")
		}
		return NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.StorageBucket, cfg.DownloadTimeout), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
