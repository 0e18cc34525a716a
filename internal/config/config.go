/**
 * Configuration for the KanGen CLI and sheet worker
 *
 * Loads configuration from an optional YAML file and environment variables.
 * Priority: ENV > YAML > env-default tags.
 */

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/kangen/kangen/internal/layout"
)

// Config holds the complete application configuration
type Config struct {
	Log        LogConfig        `yaml:"log"`
	OCR        OCRConfig        `yaml:"ocr"`
	Image      ImageConfig      `yaml:"image"`
	Anchoring  AnchoringConfig  `yaml:"anchoring"`
	Validation ValidationConfig `yaml:"validation"`
	LLM        LLMConfig        `yaml:"llm"`
	Anki       AnkiConfig       `yaml:"anki"`
	Worker     WorkerConfig     `yaml:"worker"`
	Database   DatabaseConfig   `yaml:"database"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}

// OCRConfig holds Tesseract settings.
type OCRConfig struct {
	Languages     string  `yaml:"languages"      env:"OCR_LANGUAGES"      env-default:"jpn,eng"`
	TessdataPath  string  `yaml:"tessdata_path"  env:"TESSDATA_PREFIX"`
	PageSegMode   int     `yaml:"page_seg_mode"  env:"OCR_PAGE_SEG_MODE"  env-default:"11"`
	MinConfidence float64 `yaml:"min_confidence" env:"OCR_MIN_CONFIDENCE" env-default:"0.5"`
}

// ImageConfig controls preprocessing before OCR.
type ImageConfig struct {
	MaxDimension int   `yaml:"max_dimension" env:"IMAGE_MAX_DIMENSION" env-default:"3000"`
	Grayscale    bool  `yaml:"grayscale"     env:"IMAGE_GRAYSCALE"     env-default:"true"`
	MaxFileSize  int64 `yaml:"max_file_size" env:"MAX_FILE_SIZE"       env-default:"52428800"`
}

// AnchoringConfig holds the spatial anchoring tunables.
type AnchoringConfig struct {
	VerticalPenalty float64 `yaml:"vertical_penalty"  env:"ANCHOR_VERTICAL_PENALTY"  env-default:"2.0"`
	CutoffFactor    float64 `yaml:"cutoff_factor"     env:"ANCHOR_CUTOFF_FACTOR"     env-default:"5.0"`
	TieEpsilon      float64 `yaml:"tie_epsilon"       env:"ANCHOR_TIE_EPSILON"       env-default:"0.000001"`
	MinSplitExtent  float64 `yaml:"min_split_extent"  env:"ANCHOR_MIN_SPLIT_EXTENT"  env-default:"1.0"`
	LineTolerance   float64 `yaml:"line_tolerance"    env:"ANCHOR_LINE_TOLERANCE"    env-default:"0.5"`
	MeaningMaxRunes int     `yaml:"meaning_max_runes" env:"ANCHOR_MEANING_MAX_RUNES" env-default:"60"`
	ExampleMinRunes int     `yaml:"example_min_runes" env:"ANCHOR_EXAMPLE_MIN_RUNES" env-default:"4"`
	AnchorWeight    float64 `yaml:"anchor_weight"     env:"ANCHOR_WEIGHT_ANCHOR"     env-default:"0.3"`
	CoverageWeight  float64 `yaml:"coverage_weight"   env:"ANCHOR_WEIGHT_COVERAGE"   env-default:"0.4"`
	FragmentWeight  float64 `yaml:"fragment_weight"   env:"ANCHOR_WEIGHT_FRAGMENT"   env-default:"0.3"`
	LowConfidence   float64 `yaml:"low_confidence"    env:"ANCHOR_LOW_CONFIDENCE"    env-default:"0.5"`
}

// ValidationConfig holds dictionary validation settings.
type ValidationConfig struct {
	Enabled          bool    `yaml:"enabled"           env:"VALIDATION_ENABLED"           env-default:"true"`
	Threshold        float64 `yaml:"threshold"         env:"VALIDATION_THRESHOLD"         env-default:"0.7"`
	DiscardUnmatched bool    `yaml:"discard_unmatched" env:"VALIDATION_DISCARD_UNMATCHED" env-default:"false"`
}

// LLMConfig holds the enhancement client settings. An empty API key
// disables enhancement.
type LLMConfig struct {
	APIKey     string        `yaml:"api_key"     env:"ANTHROPIC_API_KEY"`
	Model      string        `yaml:"model"       env:"LLM_MODEL"       env-default:"claude-3-5-haiku-latest"`
	MaxTokens  int64         `yaml:"max_tokens"  env:"LLM_MAX_TOKENS"  env-default:"8192"`
	BatchSize  int           `yaml:"batch_size"  env:"LLM_BATCH_SIZE"  env-default:"500"`
	MaxRetries int           `yaml:"max_retries" env:"LLM_MAX_RETRIES" env-default:"2"`
	Timeout    time.Duration `yaml:"timeout"     env:"LLM_TIMEOUT"     env-default:"120s"`
}

// AnkiConfig holds deck identity and output settings.
type AnkiConfig struct {
	DeckName   string `yaml:"deck_name"   env:"ANKI_DECK_NAME"   env-default:"KanGen Flashcards"`
	DeckID     int64  `yaml:"deck_id"     env:"ANKI_DECK_ID"     env-default:"1558220604"`
	ModelID    int64  `yaml:"model_id"    env:"ANKI_MODEL_ID"    env-default:"2126758096"`
	OutputPath string `yaml:"output_path" env:"ANKI_OUTPUT_PATH" env-default:"output_deck.apkg"`
}

// WorkerConfig holds queue worker settings.
type WorkerConfig struct {
	RedisURL          string        `yaml:"redis_url"          env:"REDIS_URL"`
	QueueBackend      string        `yaml:"queue_backend"      env:"WORKER_QUEUE_BACKEND"      env-default:"redis"`
	QueueName         string        `yaml:"queue_name"         env:"WORKER_QUEUE_NAME"         env-default:"kangen:sheets"`
	Concurrency       int           `yaml:"concurrency"        env:"WORKER_CONCURRENCY"        env-default:"4"`
	ProcessingTimeout time.Duration `yaml:"processing_timeout" env:"WORKER_PROCESSING_TIMEOUT" env-default:"5m"`
	MaxRetries        int           `yaml:"max_retries"        env:"WORKER_MAX_RETRIES"        env-default:"3"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `yaml:"url"                env:"DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns"     env:"DATABASE_MAX_OPEN_CONNS"     env-default:"25"`
	MaxIdleConns    int           `yaml:"max_idle_conns"     env:"DATABASE_MAX_IDLE_CONNS"     env-default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"  env:"DATABASE_CONN_MAX_LIFETIME"  env-default:"5m"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"DATABASE_CONN_MAX_IDLE_TIME" env-default:"2m"`
}

// Load reads configuration from path (or CONFIG_PATH, or ./config.yaml)
// and the environment. A missing file is only an error when the path was
// given explicitly.
func Load(path string) (*Config, error) {
	var cfg Config

	explicitPath := path != ""
	if !explicitPath {
		path = os.Getenv("CONFIG_PATH")
		explicitPath = path != ""
	}
	if !explicitPath {
		path = "./config.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if explicitPath {
		return nil, fmt.Errorf("config: file %s: %w", path, err)
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// Options converts the anchoring section into engine options.
func (a AnchoringConfig) Options() layout.Options {
	return layout.Options{
		VerticalPenalty: a.VerticalPenalty,
		CutoffFactor:    a.CutoffFactor,
		TieEpsilon:      a.TieEpsilon,
		MinSplitExtent:  a.MinSplitExtent,
		LineTolerance:   a.LineTolerance,
		MeaningMaxRunes: a.MeaningMaxRunes,
		ExampleMinRunes: a.ExampleMinRunes,
		AnchorWeight:    a.AnchorWeight,
		CoverageWeight:  a.CoverageWeight,
		FragmentWeight:  a.FragmentWeight,
		LowConfidence:   a.LowConfidence,
	}
}
