package config

import (
	"encoding/json"
	"os"

	"github.com/linqyard/linqyard/internal/flagx"
	"github.com/linqyard/linqyard/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "15m" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON configuration
// files. After unmarshalling, non-zero fields are copied into the runtime
// Config; absent fields keep their defaults.
type JsonConfig struct {
	EndpointAddrHTTP string `json:"endpoint_addr_http"`
	DatabaseDSN      string `json:"database_dsn"`
	SecretKey        string `json:"secret_key"`

	AccessTokenValidity  timex.Duration `json:"access_token_validity"`
	RefreshTokenValidity timex.Duration `json:"refresh_token_validity"`
	OtpValidity          timex.Duration `json:"otp_validity"`

	BcryptCost      int    `json:"bcrypt_cost"`
	DefaultTierID   string `json:"default_tier_id"`
	FrontendBaseURL string `json:"frontend_base_url"`

	GoogleClientID     string `json:"google_client_id"`
	GoogleClientSecret string `json:"google_client_secret"`
	GoogleCallbackURL  string `json:"google_callback_url"`
	GitHubClientID     string `json:"github_client_id"`
	GitHubClientSecret string `json:"github_client_secret"`
	GitHubCallbackURL  string `json:"github_callback_url"`

	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"smtp_password"`
	SMTPFrom     string `json:"smtp_from"`
	SMTPFromName string `json:"smtp_from_name"`

	S3Region        string `json:"s3_region"`
	S3BaseEndpoint  string `json:"s3_base_endpoint"`
	S3Bucket        string `json:"s3_bucket"`
	S3AccessKey     string `json:"s3_access_key"`
	S3SecretKey     string `json:"s3_secret_key"`
	S3PublicBaseURL string `json:"s3_public_base_url"`

	OtpPerEmailPerHour  int `json:"otp_per_email_per_hour"`
	LoginPerIPPerMinute int `json:"login_per_ip_per_minute"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path comes from the -c or -config command-line flags; when neither
// is set, no JSON file is loaded. If the file cannot be read or contains
// invalid JSON, the function panics.
//
// Only fields present in the file override defaults: zero values in the DTO
// are skipped during the copy.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)

	if c.AccessTokenValidity.Duration != 0 {
		config.AccessTokenValidity = c.AccessTokenValidity.Duration
	}
	if c.RefreshTokenValidity.Duration != 0 {
		config.RefreshTokenValidity = c.RefreshTokenValidity.Duration
	}
	if c.OtpValidity.Duration != 0 {
		config.OtpValidity = c.OtpValidity.Duration
	}

	setInt(&config.BcryptCost, c.BcryptCost)
	setString(&config.DefaultTierID, c.DefaultTierID)
	setString(&config.FrontendBaseURL, c.FrontendBaseURL)

	setString(&config.GoogleClientID, c.GoogleClientID)
	setString(&config.GoogleClientSecret, c.GoogleClientSecret)
	setString(&config.GoogleCallbackURL, c.GoogleCallbackURL)
	setString(&config.GitHubClientID, c.GitHubClientID)
	setString(&config.GitHubClientSecret, c.GitHubClientSecret)
	setString(&config.GitHubCallbackURL, c.GitHubCallbackURL)

	setString(&config.SMTPHost, c.SMTPHost)
	setInt(&config.SMTPPort, c.SMTPPort)
	setString(&config.SMTPUsername, c.SMTPUsername)
	setString(&config.SMTPPassword, c.SMTPPassword)
	setString(&config.SMTPFrom, c.SMTPFrom)
	setString(&config.SMTPFromName, c.SMTPFromName)

	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	setString(&config.S3PublicBaseURL, c.S3PublicBaseURL)

	setInt(&config.OtpPerEmailPerHour, c.OtpPerEmailPerHour)
	setInt(&config.LoginPerIPPerMinute, c.LoginPerIPPerMinute)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
