// validate.go: settings validation performed after loading.
package conf

import (
	"errors"
	"fmt"
)

// ValidateSettings checks the loaded settings for values the rest of the
// system cannot tolerate. Errors are joined so a broken config reports every
// problem at once.
func ValidateSettings(settings *Settings) error {
	var errs []error

	switch settings.Database.Type {
	case "sqlite":
		if settings.Database.SQLite.Path == "" {
			errs = append(errs, errors.New("database.sqlite.path must not be empty"))
		}
	case "mysql":
		if settings.Database.MySQL.Host == "" || settings.Database.MySQL.Database == "" {
			errs = append(errs, errors.New("database.mysql.host and database.mysql.database are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.type must be sqlite or mysql, got %q", settings.Database.Type))
	}

	if settings.Vendor.BaseURL == "" {
		errs = append(errs, errors.New("vendor.baseurl must not be empty"))
	}
	if settings.Vendor.Timeout <= 0 {
		errs = append(errs, errors.New("vendor.timeout must be positive"))
	}

	if settings.Cache.ProviderTTL <= 0 || settings.Cache.BlendedTTL <= 0 || settings.Cache.CandidateTTL <= 0 {
		errs = append(errs, errors.New("cache TTLs must all be positive"))
	}

	if settings.Search.ScoreThreshold < 0 || settings.Search.ScoreThreshold > 1 {
		errs = append(errs, fmt.Errorf("search.scorethreshold must be in [0,1], got %v", settings.Search.ScoreThreshold))
	}
	if settings.Search.DefaultLimit <= 0 || settings.Search.MaxLimit < settings.Search.DefaultLimit {
		errs = append(errs, errors.New("search limits must satisfy 0 < defaultlimit <= maxlimit"))
	}

	if settings.Ingest.MaxBytes <= 0 {
		errs = append(errs, errors.New("ingest.maxbytes must be positive"))
	}
	if settings.Ingest.Timeout <= 0 {
		errs = append(errs, errors.New("ingest.timeout must be positive"))
	}
	if settings.Ingest.MaxRetries < 1 {
		errs = append(errs, errors.New("ingest.maxretries must be at least 1"))
	}

	if settings.Promotion.Threshold < 1 {
		errs = append(errs, errors.New("promotion.threshold must be at least 1"))
	}
	if settings.Promotion.Cooloff <= 0 {
		errs = append(errs, errors.New("promotion.cooloff must be positive"))
	}

	if settings.Blob.Root == "" {
		errs = append(errs, errors.New("blob.root must not be empty"))
	}
	if settings.CDN.BaseURL == "" {
		errs = append(errs, errors.New("cdn.baseurl must not be empty"))
	}

	if settings.Deferred.Workers < 1 {
		errs = append(errs, errors.New("deferred.workers must be at least 1"))
	}
	if settings.Deferred.QueueSize < 1 {
		errs = append(errs, errors.New("deferred.queuesize must be at least 1"))
	}

	return errors.Join(errs...)
}
