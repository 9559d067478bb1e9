// Package config loads agent settings from appsettings.json and the environment.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/spf13/viper"
)

const (
	DefaultPath = "appsettings.json"
	EnvPrefix   = "ROCKETDRIVE"

	schemaURL = "https://rocketdrive.local/appsettings.schema.json"
)

//go:embed schema.json
var schemaJSON []byte

var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrBucketMissing = errors.New("S3.Bucket is required")
)

type Settings struct {
	Backup   BackupSettings   `mapstructure:"BackupSettings"`
	Email    EmailSettings    `mapstructure:"Email"`
	Telegram TelegramSettings `mapstructure:"Telegram"`
	S3       S3Settings       `mapstructure:"S3"`
	History  HistorySettings  `mapstructure:"History"`
	Log      LogSettings      `mapstructure:"Log"`

	// Path is the file the settings were read from, if any.
	Path string `mapstructure:"-"`
}

type BackupSettings struct {
	Folders                  []string       `mapstructure:"Folders"`
	AllowedExtensions        []string       `mapstructure:"AllowedExtensions"`
	TargetDriveFolderName    string         `mapstructure:"TargetDriveFolderName"`
	LastUploadedFileTimePath string         `mapstructure:"LastUploadedFileTimePath"`
	OverwriteExisting        bool           `mapstructure:"OverwriteExisting"`
	UploadRetryCount         int            `mapstructure:"UploadRetryCount"`
	StatusFilePath           string         `mapstructure:"StatusFilePath"`
	Notify                   NotifySettings `mapstructure:"Notify"`
}

type NotifySettings struct {
	OnSuccess bool `mapstructure:"OnSuccess"`
	OnFailure bool `mapstructure:"OnFailure"`
}

type EmailSettings struct {
	Enabled        bool   `mapstructure:"Enabled"`
	SendgridAPIKey string `mapstructure:"SendgridApiKey"`
	FromName       string `mapstructure:"FromName"`
	FromEmail      string `mapstructure:"FromEmail"`
	ToName         string `mapstructure:"ToName"`
	ToEmail        string `mapstructure:"ToEmail"`
}

type TelegramSettings struct {
	Enabled  bool   `mapstructure:"Enabled"`
	BotToken string `mapstructure:"BotToken"`
	ChatID   string `mapstructure:"ChatId"`
	BaseURL  string `mapstructure:"BaseUrl"`
}

type S3Settings struct {
	Bucket       string `mapstructure:"Bucket"`
	Prefix       string `mapstructure:"Prefix"`
	Region       string `mapstructure:"Region"`
	StorageClass string `mapstructure:"StorageClass"`
	Endpoint     string `mapstructure:"Endpoint"`
}

type HistorySettings struct {
	Path string `mapstructure:"Path"`
}

type LogSettings struct {
	Level              string `mapstructure:"Level"`
	Dir                string `mapstructure:"Dir"`
	RetainFiles        int    `mapstructure:"RetainFiles"`
	FileSizeLimitBytes int64  `mapstructure:"FileSizeLimitBytes"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("BackupSettings.Folders", []string{})
	v.SetDefault("BackupSettings.AllowedExtensions", []string{})
	v.SetDefault("BackupSettings.TargetDriveFolderName", "RocketDriveUploads")
	v.SetDefault("BackupSettings.LastUploadedFileTimePath", "last_uploaded.txt")
	v.SetDefault("BackupSettings.OverwriteExisting", false)
	v.SetDefault("BackupSettings.UploadRetryCount", 3)
	v.SetDefault("BackupSettings.StatusFilePath", "logs/status.json")
	v.SetDefault("BackupSettings.Notify.OnSuccess", false)
	v.SetDefault("BackupSettings.Notify.OnFailure", false)

	v.SetDefault("Email.Enabled", false)
	v.SetDefault("Email.SendgridApiKey", "")
	v.SetDefault("Email.FromName", "")
	v.SetDefault("Email.FromEmail", "")
	v.SetDefault("Email.ToName", "")
	v.SetDefault("Email.ToEmail", "")

	v.SetDefault("Telegram.Enabled", false)
	v.SetDefault("Telegram.BotToken", "")
	v.SetDefault("Telegram.ChatId", "")
	v.SetDefault("Telegram.BaseUrl", "")

	v.SetDefault("S3.Bucket", "")
	v.SetDefault("S3.Prefix", "")
	v.SetDefault("S3.Region", "us-east-1")
	v.SetDefault("S3.StorageClass", "GLACIER_IR")
	v.SetDefault("S3.Endpoint", "")

	v.SetDefault("History.Path", "")

	v.SetDefault("Log.Level", "info")
	v.SetDefault("Log.Dir", "logs")
	v.SetDefault("Log.RetainFiles", 14)
	v.SetDefault("Log.FileSizeLimitBytes", 10*1024*1024)
}

// Load reads settings from path and overlays ROCKETDRIVE_* environment
// variables, e.g. ROCKETDRIVE_S3_BUCKET. A missing file is only an error when
// explicit is set.
func Load(path string, explicit bool) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigType("json")

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := ValidateDocument(data); err != nil {
			return nil, fmt.Errorf("config '%s': %w", path, err)
		}
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("config read '%s': %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		slog.Warn("config file not found, using defaults and environment", "path", path)
		path = ""
	default:
		return nil, fmt.Errorf("config read '%s': %w", path, err)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	s.Path = path
	s.normalize()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ValidateDocument checks a raw settings document against the embedded schema.
func ValidateDocument(data []byte) error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse settings schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add settings schema: %w", err)
	}
	return c.Compile(schemaURL)
}

func (s *Settings) normalize() {
	folders := s.Backup.Folders[:0]
	for _, f := range s.Backup.Folders {
		if f = strings.TrimSpace(f); f != "" {
			folders = append(folders, f)
		}
	}
	s.Backup.Folders = folders
	exts := s.Backup.AllowedExtensions[:0]
	for _, e := range s.Backup.AllowedExtensions {
		if e = strings.TrimSpace(e); e != "" {
			exts = append(exts, e)
		}
	}
	s.Backup.AllowedExtensions = exts
	s.Backup.TargetDriveFolderName = strings.TrimSpace(s.Backup.TargetDriveFolderName)
	s.Log.Level = strings.ToLower(strings.TrimSpace(s.Log.Level))
	if s.Log.RetainFiles < 1 {
		s.Log.RetainFiles = 1
	}
}

// Validate reports settings that can never produce a working run. Missing
// source folders are left to the run itself so they surface as a failed run.
func (s *Settings) Validate() error {
	if s.Backup.TargetDriveFolderName == "" {
		return fmt.Errorf("%w: BackupSettings.TargetDriveFolderName is empty", ErrInvalidConfig)
	}
	if s.Backup.UploadRetryCount < 0 {
		return fmt.Errorf("%w: BackupSettings.UploadRetryCount must not be negative", ErrInvalidConfig)
	}
	if s.Backup.LastUploadedFileTimePath == "" {
		return fmt.Errorf("%w: BackupSettings.LastUploadedFileTimePath is empty", ErrInvalidConfig)
	}
	if s.Telegram.Enabled && (s.Telegram.BotToken == "" || s.Telegram.ChatID == "") {
		return fmt.Errorf("%w: Telegram.BotToken and Telegram.ChatId are required when enabled", ErrInvalidConfig)
	}
	if s.Email.Enabled && (s.Email.SendgridAPIKey == "" || s.Email.FromEmail == "" || s.Email.ToEmail == "") {
		return fmt.Errorf("%w: Email.SendgridApiKey, Email.FromEmail and Email.ToEmail are required when enabled", ErrInvalidConfig)
	}
	return nil
}

// RequireBucket is checked only by commands that talk to the remote store.
func (s *Settings) RequireBucket() error {
	if strings.TrimSpace(s.S3.Bucket) == "" {
		return ErrBucketMissing
	}
	return nil
}

func (s *Settings) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("path", s.Path),
		slog.Any("folders", s.Backup.Folders),
		slog.Any("extensions", s.Backup.AllowedExtensions),
		slog.String("target", s.Backup.TargetDriveFolderName),
		slog.String("checkpoint", s.Backup.LastUploadedFileTimePath),
		slog.Bool("overwrite", s.Backup.OverwriteExisting),
		slog.Int("retries", s.Backup.UploadRetryCount),
		slog.String("bucket", s.S3.Bucket),
		slog.String("prefix", s.S3.Prefix),
		slog.String("region", s.S3.Region),
		slog.Bool("email", s.Email.Enabled),
		slog.String("sendgridKey", maskSecret(s.Email.SendgridAPIKey)),
		slog.Bool("telegram", s.Telegram.Enabled),
		slog.String("botToken", maskSecret(s.Telegram.BotToken)),
	)
}

// String renders the settings as JSON with secrets masked.
func (s *Settings) String() string {
	masked := *s
	masked.Email.SendgridAPIKey = maskSecret(s.Email.SendgridAPIKey)
	masked.Telegram.BotToken = maskSecret(s.Telegram.BotToken)
	b, err := json.MarshalIndent(masked, "", "  ")
	if err != nil {
		return fmt.Sprintf("settings: %v", err)
	}
	return string(b)
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "*****"
	}
	return s[:4] + "*****"
}
