package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/gobwas/glob"

	"github.com/raptscallions/storage/internal/storageerr"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, err := range e {
		parts = append(parts, err.Error())
	}
	return strings.Join(parts, "; ")
}

// ConfigurationError folds every violation into one ConfigurationError.
func (e ValidationErrors) ConfigurationError() *storageerr.Error {
	fields := make([]string, 0, len(e))
	problems := make([]string, 0, len(e))
	for _, err := range e {
		fields = append(fields, err.Field)
		problems = append(problems, err.Error())
	}
	return storageerr.Configuration(
		"invalid storage configuration: "+e.Error(),
		map[string]any{
			"fields": fields,
			"errors": problems,
		},
	)
}

// EnvName returns the environment variable that feeds a setting key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(key)
}

// Source is the read side of the settings store handed to backend schemas.
type Source interface {
	GetString(key string) string
	IsSet(key string) bool
}

func positiveInt(src Source, key string, errs *ValidationErrors) int64 {
	raw := strings.TrimSpace(src.GetString(key))
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		*errs = append(*errs, ValidationError{Field: EnvName(key), Message: "must be an integer"})
		return 0
	}
	if n <= 0 {
		*errs = append(*errs, ValidationError{Field: EnvName(key), Message: "must be greater than 0"})
		return 0
	}
	return n
}

func requiredString(src Source, key string, errs *ValidationErrors) string {
	v := strings.TrimSpace(src.GetString(key))
	if v == "" {
		*errs = append(*errs, ValidationError{Field: EnvName(key), Message: "required"})
	}
	return v
}

func optionalBool(src Source, key string, fallback bool, errs *ValidationErrors) bool {
	if !src.IsSet(key) {
		return fallback
	}
	raw := strings.TrimSpace(src.GetString(key))
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, ValidationError{Field: EnvName(key), Message: "must be a boolean"})
		return fallback
	}
	return b
}

func httpURL(raw, key string, errs *ValidationErrors) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		*errs = append(*errs, ValidationError{Field: EnvName(key), Message: "must be an absolute http(s) URL"})
	}
}

func contentTypePatterns(src Source, key string, errs *ValidationErrors) []string {
	var patterns []string
	for _, p := range strings.Split(src.GetString(key), ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := glob.Compile(p, '/'); err != nil {
			*errs = append(*errs, ValidationError{
				Field:   EnvName(key),
				Message: fmt.Sprintf("invalid pattern %q", p),
			})
			continue
		}
		patterns = append(patterns, p)
	}
	return patterns
}

// LocalSchema validates the filesystem backend settings.
func LocalSchema(src Source) (any, ValidationErrors) {
	var errs ValidationErrors

	cfg := LocalConfig{
		Path:          strings.TrimSpace(src.GetString(keyLocalPath)),
		BaseURL:       strings.TrimSpace(src.GetString(keyLocalBaseURL)),
		SigningSecret: src.GetString(keyLocalSigningSecret),
	}
	if cfg.Path == "" {
		cfg.Path = DefaultLocalPath
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultLocalBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	httpURL(cfg.BaseURL, keyLocalBaseURL, &errs)

	if cfg.SigningSecret != "" && len(cfg.SigningSecret) < minSigningSecretLength {
		errs = append(errs, ValidationError{
			Field:   EnvName(keyLocalSigningSecret),
			Message: fmt.Sprintf("must be at least %d characters", minSigningSecretLength),
		})
	}

	return cfg, errs
}

// S3Schema validates the S3-compatible backend settings.
func S3Schema(src Source) (any, ValidationErrors) {
	var errs ValidationErrors

	cfg := S3Config{
		Endpoint:        strings.TrimSpace(src.GetString(keyS3Endpoint)),
		Region:          requiredString(src, keyS3Region, &errs),
		Bucket:          requiredString(src, keyS3Bucket, &errs),
		AccessKeyID:     requiredString(src, keyS3AccessKeyID, &errs),
		SecretAccessKey: requiredString(src, keyS3SecretAccessKey, &errs),
	}

	if cfg.Endpoint != "" {
		httpURL(cfg.Endpoint, keyS3Endpoint, &errs)
	}

	cfg.ForcePathStyle = optionalBool(src, keyS3ForcePathStyle, cfg.Endpoint != "", &errs)

	return cfg, errs
}
