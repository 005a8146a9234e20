package config

// EnvPrefix is prepended to every setting name to form its environment
// variable, e.g. backend -> STORAGE_BACKEND.
const EnvPrefix = "STORAGE"

// Default configuration values.
const (
	DefaultBackend                    = "local"
	DefaultMaxFileSizeBytes           = 10 * 1024 * 1024   // 10MiB
	DefaultQuotaBytes                 = 1024 * 1024 * 1024 // 1GiB
	DefaultSignedURLExpirationSeconds = 900                // 15m

	// Local backend defaults.
	DefaultLocalPath    = "./data/storage"
	DefaultLocalBaseURL = "http://localhost:8080/files"

	minSigningSecretLength = 16
)

// Setting keys as seen by viper (lower case, no prefix).
const (
	keyBackend             = "backend"
	keyMaxFileSizeBytes    = "max_file_size_bytes"
	keyQuotaBytes          = "quota_bytes"
	keySignedURLExpiration = "signed_url_expiration_seconds"
	keyAllowedContentTypes = "allowed_content_types"

	keyLocalPath          = "local_path"
	keyLocalBaseURL       = "local_base_url"
	keyLocalSigningSecret = "local_signing_secret"

	keyS3Endpoint        = "s3_endpoint"
	keyS3Region          = "s3_region"
	keyS3Bucket          = "s3_bucket"
	keyS3AccessKeyID     = "s3_access_key_id"
	keyS3SecretAccessKey = "s3_secret_access_key"
	keyS3ForcePathStyle  = "s3_force_path_style"
)
