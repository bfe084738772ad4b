/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the speech service
type Config struct {
	Server  ServerConfig
	STT     STTConfig
	Models  ModelsConfig
	Keyword LocalModelConfig
	Summary LocalModelConfig
	Remote  RemoteConfig
	Logging LoggingConfig
	NATS    NATSConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host         string
	Port         int
	GRPCPort     int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DBPath       string
}

// STTConfig holds transcription provider configuration
type STTConfig struct {
	Provider         string // explicit override: openai, google or whisper
	OpenAIAPIKey     string
	OpenAIEndpoint   string
	OpenAIModel      string
	Language         string
	GoogleAPIKey     string
	GoogleEndpoint   string
	GoogleLanguage   string
	GoogleSampleRate int
	GoogleModel      string
	WhisperModelID   string
	WhisperModelPath string // bundle-relative path of the ggml model
}

// ModelsConfig holds the on-device model storage layout
type ModelsConfig struct {
	Dir       string
	BundleDir string
	Platform  string
}

// LocalModelConfig holds the model and sampling settings of one on-device task
type LocalModelConfig struct {
	ModelID     string
	ModelPath   string // bundle-relative path
	Filename    string // optional destination filename
	Temperature float32
	MaxTokens   int
	ContextSize int
	Threads     int
}

// RemoteConfig holds the OpenAI chat fallback used when on-device
// inference is unavailable
type RemoteConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// Enabled reports whether the remote fallback can be used.
func (r RemoteConfig) Enabled() bool {
	return r.APIKey != ""
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// NATSConfig holds NATS messaging configuration
type NATSConfig struct {
	Enabled       bool
	URL           string
	Subject       string
	MaxReconnect  int
	ReconnectWait time.Duration
}

var validProviders = map[string]bool{"": true, "openai": true, "google": true, "whisper": true}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	keywordID := getEnvString("LOCAL_KEYWORD_MODEL_ID", "gemma-3-270m-it-Q4_K_S")
	summaryID := getEnvString("LOCAL_SUMMARY_MODEL_ID", "gemma-3-270m-it-Q4_K_S")
	openAIKey := getEnvString("OPENAI_API_KEY", "")

	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("LOQA_HOST", "0.0.0.0"),
			Port:         getEnvInt("LOQA_PORT", 8080),
			GRPCPort:     getEnvInt("LOQA_GRPC_PORT", 50051),
			ReadTimeout:  getEnvDuration("LOQA_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("LOQA_WRITE_TIMEOUT", 120*time.Second),
			DBPath:       getEnvString("DB_PATH", "./data/loqa-speech.db"),
		},
		STT: STTConfig{
			Provider:         strings.ToLower(getEnvString("STT_PROVIDER", "")),
			OpenAIAPIKey:     openAIKey,
			OpenAIEndpoint:   getEnvString("STT_OPENAI_ENDPOINT", "https://api.openai.com/v1/audio/transcriptions"),
			OpenAIModel:      getEnvString("STT_OPENAI_MODEL", "whisper-1"),
			Language:         getEnvString("STT_LANGUAGE", "ko"),
			GoogleAPIKey:     getEnvString("GOOGLE_SPEECH_API_KEY", ""),
			GoogleEndpoint:   getEnvString("GOOGLE_SPEECH_ENDPOINT", "https://speech.googleapis.com/v1p1beta1/speech:recognize"),
			GoogleLanguage:   getEnvString("GOOGLE_SPEECH_LANGUAGE", "ko-KR"),
			GoogleSampleRate: getEnvInt("GOOGLE_SPEECH_SAMPLE_RATE", 44100),
			GoogleModel:      getEnvString("GOOGLE_SPEECH_MODEL", ""),
			WhisperModelID:   getEnvString("WHISPER_MODEL_ID", "ggml-base"),
			WhisperModelPath: getEnvString("WHISPER_MODEL_PATH", "models/ggml-base.bin"),
		},
		Models: ModelsConfig{
			Dir:       getEnvString("MODELS_DIR", "./data/models"),
			BundleDir: getEnvString("BUNDLE_DIR", "./bundle"),
			Platform:  getEnvString("LOQA_PLATFORM", runtime.GOOS),
		},
		Keyword: LocalModelConfig{
			ModelID:     keywordID,
			ModelPath:   getEnvString("LOCAL_KEYWORD_MODEL_PATH", "models/"+keywordID+".gguf"),
			Filename:    getEnvString("LOCAL_KEYWORD_MODEL_FILENAME", ""),
			Temperature: getEnvFloat32("LOCAL_KEYWORD_TEMPERATURE", 0.2),
			MaxTokens:   getEnvInt("LOCAL_KEYWORD_MAX_TOKENS", 120),
			ContextSize: getEnvInt("LOCAL_KEYWORD_CTX", 2048),
			Threads:     getEnvInt("LOCAL_KEYWORD_THREADS", 4),
		},
		Summary: LocalModelConfig{
			ModelID:     summaryID,
			ModelPath:   getEnvString("LOCAL_SUMMARY_MODEL_PATH", "models/"+summaryID+".gguf"),
			Filename:    getEnvString("LOCAL_SUMMARY_MODEL_FILENAME", ""),
			Temperature: getEnvFloat32("LOCAL_SUMMARY_TEMPERATURE", 0.3),
			MaxTokens:   getEnvInt("LOCAL_SUMMARY_MAX_TOKENS", 220),
			ContextSize: getEnvInt("LOCAL_SUMMARY_CTX", 2048),
			Threads:     getEnvInt("LOCAL_SUMMARY_THREADS", 4),
		},
		Remote: RemoteConfig{
			APIKey:      openAIKey,
			BaseURL:     getEnvString("OPENAI_CHAT_BASE_URL", ""),
			Model:       getEnvString("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
			Temperature: getEnvFloat32("OPENAI_CHAT_TEMPERATURE", 0.6),
			MaxTokens:   getEnvInt("OPENAI_CHAT_MAX_TOKENS", 320),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
		},
		NATS: NATSConfig{
			Enabled:       getEnvBool("NATS_ENABLED", true),
			URL:           getEnvString("NATS_URL", "nats://localhost:4222"),
			Subject:       getEnvString("NATS_SUBJECT", "loqa.speech.analyses"),
			MaxReconnect:  getEnvInt("NATS_MAX_RECONNECT", -1),
			ReconnectWait: getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		},
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.Server.GRPCPort)
	}

	if !validProviders[c.STT.Provider] {
		return fmt.Errorf("unknown STT provider: %s", c.STT.Provider)
	}

	if c.STT.GoogleSampleRate <= 0 {
		return fmt.Errorf("Google sample rate must be positive: %d", c.STT.GoogleSampleRate)
	}

	if c.Models.Dir == "" {
		return fmt.Errorf("models directory must be provided")
	}

	for name, local := range map[string]LocalModelConfig{"keyword": c.Keyword, "summary": c.Summary} {
		if err := local.validate(name); err != nil {
			return err
		}
	}

	if c.Remote.MaxTokens <= 0 {
		return fmt.Errorf("remote max tokens must be positive: %d", c.Remote.MaxTokens)
	}

	if c.Remote.Temperature < 0 || c.Remote.Temperature > 2 {
		return fmt.Errorf("remote temperature out of range: %f", c.Remote.Temperature)
	}

	return nil
}

func (l LocalModelConfig) validate(name string) error {
	if l.ModelID == "" {
		return fmt.Errorf("%s model ID must be provided", name)
	}
	if l.MaxTokens <= 0 {
		return fmt.Errorf("%s max tokens must be positive: %d", name, l.MaxTokens)
	}
	if l.ContextSize <= 0 {
		return fmt.Errorf("%s context size must be positive: %d", name, l.ContextSize)
	}
	if l.Threads <= 0 {
		return fmt.Errorf("%s threads must be positive: %d", name, l.Threads)
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("%s temperature out of range: %f", name, l.Temperature)
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatValue)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
