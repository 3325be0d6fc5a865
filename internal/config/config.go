package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"spendbot/internal/core"
	"spendbot/internal/log"
	"spendbot/internal/parser"
)

const (
	IntakeMatrix = "matrix"
	IntakeAMQP   = "amqp"
)

// Duration accepts "10s"-style strings or a number of seconds in JSON.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		d.Duration = parsed
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", b)
	}
	d.Duration = time.Duration(secs * float64(time.Second))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

type Config struct {
	Matrix  MatrixConfig  `json:"matrix"`
	Firefly FireflyConfig `json:"firefly_iii"`
	Bot     BotConfig     `json:"bot"`
	AMQP    AMQPConfig    `json:"amqp"`
	Journal JournalConfig `json:"journal"`
	HTTP    HTTPConfig    `json:"http"`
	Log     LogConfig     `json:"log"`

	// envProblems holds env values that could not be parsed; Validate reports them.
	envProblems []string
}

type MatrixConfig struct {
	Homeserver string `json:"homeserver"`
	UserID     string `json:"user_id"`
	Password   string `json:"password"`
}

type FireflyConfig struct {
	BaseURL string   `json:"base_url"`
	Token   string   `json:"token"`
	Timeout Duration `json:"timeout"`
}

type BotConfig struct {
	Prefix         string   `json:"prefix"`
	Command        string   `json:"command"`
	SourceName     string   `json:"source_name"`
	Tag            string   `json:"tag"`
	NoteScope      string   `json:"note_scope"`
	Intake         string   `json:"intake"`
	Workers        int      `json:"workers"`
	QueueSize      int      `json:"queue_size"`
	HandlerTimeout Duration `json:"handler_timeout"`
	ReactTimeout   Duration `json:"react_timeout"`
}

type AMQPConfig struct {
	URL          string `json:"url"`
	Exchange     string `json:"exchange"`
	CommandQueue string `json:"command_queue"`
	ReactionKey  string `json:"reaction_key"`
	OutcomeKey   string `json:"outcome_key"`
}

type JournalConfig struct {
	SQLitePath string `json:"sqlite_path"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns the configuration used for every key not set by the file or env.
func Default() *Config {
	return &Config{
		Firefly: FireflyConfig{Timeout: Duration{10 * time.Second}},
		Bot: BotConfig{
			Prefix:         "$",
			Command:        "spend",
			SourceName:     core.DefaultSourceName,
			Tag:            core.DefaultTag,
			NoteScope:      parser.NoteScopeAnywhere.String(),
			Intake:         IntakeMatrix,
			Workers:        4,
			QueueSize:      64,
			HandlerTimeout: Duration{30 * time.Second},
			ReactTimeout:   Duration{10 * time.Second},
		},
		AMQP: AMQPConfig{
			Exchange:     "spendbot",
			CommandQueue: "spendbot_commands",
			ReactionKey:  "spendbot.reactions",
			OutcomeKey:   "spendbot.outcomes",
		},
		HTTP: HTTPConfig{Addr: ":9090"},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration from defaults, the JSON file at path (skipped
// when path is empty) and environment overrides, in that order. It does not
// validate; call Validate before using the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("configuration file %s not found", path)
			}
			return nil, fmt.Errorf("read configuration file: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse configuration file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Matrix.Homeserver = getEnv("MATRIX_HOMESERVER", c.Matrix.Homeserver)
	c.Matrix.UserID = getEnv("MATRIX_USER_ID", c.Matrix.UserID)
	c.Matrix.Password = getEnv("MATRIX_PASSWORD", c.Matrix.Password)

	c.Firefly.BaseURL = getEnv("FIREFLY_BASE_URL", c.Firefly.BaseURL)
	c.Firefly.Token = getEnv("FIREFLY_TOKEN", c.Firefly.Token)
	c.Firefly.Timeout.Duration = c.getEnvDuration("FIREFLY_TIMEOUT", c.Firefly.Timeout.Duration)

	c.Bot.Prefix = getEnv("BOT_PREFIX", c.Bot.Prefix)
	c.Bot.Command = getEnv("BOT_COMMAND", c.Bot.Command)
	c.Bot.SourceName = getEnv("BOT_SOURCE_NAME", c.Bot.SourceName)
	c.Bot.Tag = getEnv("BOT_TAG", c.Bot.Tag)
	c.Bot.NoteScope = getEnv("BOT_NOTE_SCOPE", c.Bot.NoteScope)
	c.Bot.Intake = getEnv("BOT_INTAKE", c.Bot.Intake)
	c.Bot.Workers = c.getEnvInt("BOT_WORKERS", c.Bot.Workers)
	c.Bot.QueueSize = c.getEnvInt("BOT_QUEUE_SIZE", c.Bot.QueueSize)
	c.Bot.HandlerTimeout.Duration = c.getEnvDuration("BOT_HANDLER_TIMEOUT", c.Bot.HandlerTimeout.Duration)
	c.Bot.ReactTimeout.Duration = c.getEnvDuration("BOT_REACT_TIMEOUT", c.Bot.ReactTimeout.Duration)

	c.AMQP.URL = getEnv("AMQP_URL", c.AMQP.URL)
	c.AMQP.Exchange = getEnv("AMQP_EXCHANGE", c.AMQP.Exchange)
	c.AMQP.CommandQueue = getEnv("AMQP_COMMAND_QUEUE", c.AMQP.CommandQueue)
	c.AMQP.ReactionKey = getEnv("AMQP_REACTION_KEY", c.AMQP.ReactionKey)
	c.AMQP.OutcomeKey = getEnv("AMQP_OUTCOME_KEY", c.AMQP.OutcomeKey)

	c.Journal.SQLitePath = getEnv("JOURNAL_SQLITE_PATH", c.Journal.SQLitePath)
	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate checks every field and returns a *core.ConfigurationError listing
// all problems, or nil.
func (c *Config) Validate() error {
	problems := append([]string(nil), c.envProblems...)
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	// Ledger
	if c.Firefly.BaseURL == "" {
		add("firefly_iii.base_url is required")
	} else if err := validateHTTPURL(c.Firefly.BaseURL); err != nil {
		add("invalid firefly_iii.base_url '%s': %v", c.Firefly.BaseURL, err)
	}
	if c.Firefly.Token == "" {
		add("firefly_iii.token is required")
	}
	validateTimeout(add, "firefly_iii.timeout", c.Firefly.Timeout.Duration)

	// Intake
	switch c.Bot.Intake {
	case IntakeMatrix:
		if c.Matrix.Homeserver == "" {
			add("matrix.homeserver is required")
		} else if err := validateHTTPURL(c.Matrix.Homeserver); err != nil {
			add("invalid matrix.homeserver '%s': %v", c.Matrix.Homeserver, err)
		}
		if c.Matrix.UserID == "" {
			add("matrix.user_id is required")
		} else if !isMatrixUserID(c.Matrix.UserID) {
			add("invalid matrix.user_id '%s': must look like @name:server", c.Matrix.UserID)
		}
		if c.Matrix.Password == "" {
			add("matrix.password is required")
		}
	case IntakeAMQP:
		if c.AMQP.URL == "" {
			add("amqp.url is required when bot.intake is 'amqp'")
		}
		if c.AMQP.CommandQueue == "" {
			add("amqp.command_queue is required when bot.intake is 'amqp'")
		}
		if c.AMQP.ReactionKey == "" {
			add("amqp.reaction_key is required when bot.intake is 'amqp'")
		}
	default:
		add("invalid bot.intake '%s': must be one of [%s %s]", c.Bot.Intake, IntakeMatrix, IntakeAMQP)
	}

	// Command grammar
	if c.Bot.Prefix == "" || strings.ContainsAny(c.Bot.Prefix, " \t\n") {
		add("invalid bot.prefix '%s': must be non-empty without white space", c.Bot.Prefix)
	}
	if c.Bot.Command == "" || strings.ContainsAny(c.Bot.Command, " \t\n") {
		add("invalid bot.command '%s': must be non-empty without white space", c.Bot.Command)
	}
	if strings.TrimSpace(c.Bot.SourceName) == "" {
		add("bot.source_name cannot be empty")
	}
	if strings.TrimSpace(c.Bot.Tag) == "" {
		add("bot.tag cannot be empty")
	}
	if _, err := parser.ParseNoteScope(c.Bot.NoteScope); err != nil {
		add("invalid bot.note_scope: %v", err)
	}

	// Workers
	if c.Bot.Workers < 1 || c.Bot.Workers > 256 {
		add("invalid bot.workers %d: must be between 1 and 256", c.Bot.Workers)
	}
	if c.Bot.QueueSize < 0 || c.Bot.QueueSize > 10000 {
		add("invalid bot.queue_size %d: must be between 0 and 10000", c.Bot.QueueSize)
	}
	validateTimeout(add, "bot.handler_timeout", c.Bot.HandlerTimeout.Duration)
	validateTimeout(add, "bot.react_timeout", c.Bot.ReactTimeout.Duration)

	// AMQP
	if c.AMQP.URL != "" {
		if parsedURL, err := url.Parse(c.AMQP.URL); err != nil {
			add("invalid amqp.url: %v", err)
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			add("invalid amqp.url scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme)
		}
		if c.AMQP.Exchange == "" {
			add("amqp.exchange cannot be empty when amqp.url is provided")
		}
		if c.AMQP.OutcomeKey == "" {
			add("amqp.outcome_key cannot be empty when amqp.url is provided")
		}
	}

	// Logging
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		add("invalid log.level: %v", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		add("invalid log.format '%s': must be 'text' or 'json'", c.Log.Format)
	}

	if len(problems) > 0 {
		return &core.ConfigurationError{Problems: problems}
	}
	return nil
}

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	out := *c
	if out.Matrix.Password != "" {
		out.Matrix.Password = "***"
	}
	if out.Firefly.Token != "" {
		out.Firefly.Token = "***"
	}
	if out.AMQP.URL != "" {
		if u, err := url.Parse(out.AMQP.URL); err == nil && u.User != nil {
			u.User = url.UserPassword(u.User.Username(), "***")
			out.AMQP.URL = u.String()
		}
	}
	return out
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func isMatrixUserID(s string) bool {
	if !strings.HasPrefix(s, "@") {
		return false
	}
	local, server, ok := strings.Cut(s[1:], ":")
	return ok && local != "" && server != ""
}

func validateTimeout(add func(string, ...any), name string, d time.Duration) {
	if d <= 0 {
		add("invalid %s %v: must be positive", name, d)
	} else if d > 5*time.Minute {
		add("invalid %s %v: must be at most 5 minutes", name, d)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt keeps defaultValue and records a problem when the value is not an integer.
func (c *Config) getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		c.envProblems = append(c.envProblems, fmt.Sprintf("invalid %s %q: must be an integer", key, value))
		return defaultValue
	}
	return i
}

func (c *Config) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		c.envProblems = append(c.envProblems, fmt.Sprintf("invalid %s %q: must be a duration like 10s", key, value))
		return defaultValue
	}
	return d
}
