// Package config loads and saves the scorebot.yaml settings file.
package config

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/kirsle/configdir"
	"github.com/leighmacdonald/scorebot/internal/platform"
	"github.com/leighmacdonald/scorebot/internal/session"
	"github.com/leighmacdonald/scorebot/pkg/rcon"
	"github.com/leighmacdonald/scorebot/pkg/tail"
	"github.com/leighmacdonald/scorebot/pkg/util"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	configRoot             = "scorebot"
	defaultConfigFileName  = "scorebot.yaml"
	defaultLogFileName     = "scorebot.log"
	defaultPasswordLength  = 16
	defaultRCONPort        = 27015
	defaultHTTPListenAddr  = "localhost:8900"
	defaultWatchdogSeconds = 5
)

var (
	errConfigNotFound  = errors.New("config path does not exist")
	errInvalidRunMode  = errors.New("invalid run mode")
	errInvalidLogLevel = errors.New("invalid log level")
	errEmptyHost       = errors.New("rcon host is empty")
	errEmptyLogPath    = errors.New("log path is empty")
)

type RunMode string

const (
	ModeRelease RunMode = "release"
	ModeDebug   RunMode = "debug"
	ModeTest    RunMode = "test"
)

type RCONSettings struct {
	Host      string `yaml:"host"`
	Port      uint16 `yaml:"port"`
	Password  string `yaml:"password"`
	Transport string `yaml:"transport"`
	Challenge bool   `yaml:"challenge"`
	RetryMax  int    `yaml:"retry_max"`
	// RetryFrequency uses time.ParseDuration syntax, eg "2s".
	RetryFrequency string `yaml:"retry_frequency"`
	RequestID      int32  `yaml:"request_id"`
}

type LogSettings struct {
	Path            string `yaml:"path"`
	PollInterval    string `yaml:"poll_interval"`
	FailureRetry    string `yaml:"failure_retry"`
	MaxPollFailures int    `yaml:"max_poll_failures"`
	Encoding        string `yaml:"encoding"`
	FromStart       bool   `yaml:"from_start"`
}

type Settings struct {
	configPath string

	RCON               RCONSettings `yaml:"rcon"`
	Log                LogSettings  `yaml:"log"`
	SetupCommands      []string     `yaml:"setup_commands"`
	ClassifyBroadcasts bool         `yaml:"classify_broadcasts"`
	ServerPID          int          `yaml:"server_pid"`
	// ServerBinary is looked up in the process list when ServerPID is unset.
	ServerBinary       string       `yaml:"server_binary"`
	HTTPEnabled        bool         `yaml:"http_enabled"`
	HTTPListenAddr     string       `yaml:"http_listen_addr"`
	LogLevel           string       `yaml:"log_level"`
	RunMode            RunMode      `yaml:"run_mode"`
	DebugLogEnabled    bool         `yaml:"debug_log_enabled"`
}

// NewSettings returns defaults with a freshly generated rcon password.
func NewSettings() *Settings {
	return &Settings{
		RCON: RCONSettings{
			Host:           "127.0.0.1",
			Port:           defaultRCONPort,
			Password:       util.RandomPassword(defaultPasswordLength),
			Transport:      rcon.TransportStream.String(),
			RetryMax:       rcon.DefaultRetryMax,
			RetryFrequency: rcon.DefaultRetryFrequency.String(),
			RequestID:      rcon.DefaultRequestID,
		},
		Log: LogSettings{
			Path:            platform.DefaultLogPath,
			PollInterval:    tail.DefaultPollInterval.String(),
			FailureRetry:    tail.DefaultFailureRetry.String(),
			MaxPollFailures: tail.DefaultMaxPollFailures,
			Encoding:        "utf-8",
		},
		SetupCommands:  []string{"log on", "mp_logdetail 3"},
		HTTPEnabled:    false,
		HTTPListenAddr: defaultHTTPListenAddr,
		LogLevel:       "info",
		RunMode:        ModeRelease,
	}
}

func (s *Settings) ConfigPath() string {
	return s.configPath
}

// ConfigRoot is the per user directory holding scorebot.yaml.
func ConfigRoot() string {
	return configdir.LocalConfig(configRoot)
}

func (s *Settings) LogFilePath() string {
	return filepath.Join(ConfigRoot(), defaultLogFileName)
}

// ReadDefaultOrCreate reads the default config file, writing the defaults
// there first when it does not exist yet.
func (s *Settings) ReadDefaultOrCreate() error {
	configPath := ConfigRoot()
	if errMake := configdir.MakePath(configPath); errMake != nil {
		return errors.Wrap(errMake, "Failed to create config dir")
	}

	errRead := s.ReadFilePath(filepath.Join(configPath, defaultConfigFileName))
	if errRead != nil && errors.Is(errRead, errConfigNotFound) {
		return s.Save()
	}

	return errRead
}

func (s *Settings) ReadFilePath(filePath string) error {
	expanded, errExpand := util.ExpandPath(filePath)
	if errExpand != nil {
		return errExpand
	}

	if !util.Exists(expanded) {
		// Use defaults
		s.configPath = expanded

		return errConfigNotFound
	}

	settingsFile, errOpen := os.Open(expanded)
	if errOpen != nil {
		return errors.Wrap(errOpen, "Failed to open settings file")
	}

	defer util.IgnoreClose(settingsFile)

	if errRead := s.Read(settingsFile); errRead != nil {
		return errRead
	}

	s.configPath = expanded

	return nil
}

func (s *Settings) Read(inputFile io.Reader) error {
	if errDecode := yaml.NewDecoder(inputFile).Decode(s); errDecode != nil {
		return errors.Wrap(errDecode, "Failed to decode settings")
	}

	return s.Validate()
}

func (s *Settings) Save() error {
	return s.WriteFilePath(s.configPath)
}

func (s *Settings) WriteFilePath(filePath string) error {
	settingsFile, errOpen := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if errOpen != nil {
		return errors.Wrapf(errOpen, "Failed to open settings file for writing")
	}

	defer util.IgnoreClose(settingsFile)

	return s.Write(settingsFile)
}

func (s *Settings) Write(outputFile io.Writer) error {
	encoder := yaml.NewEncoder(outputFile)
	encoder.SetIndent(2)

	if errEncode := encoder.Encode(s); errEncode != nil {
		return errors.Wrap(errEncode, "Failed to encode settings")
	}

	return errors.Wrap(encoder.Close(), "Failed to flush settings")
}

func (s *Settings) Validate() error {
	switch s.RunMode {
	case ModeRelease, ModeDebug, ModeTest:
	default:
		return errors.Wrapf(errInvalidRunMode, "%q", s.RunMode)
	}

	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.Wrapf(errInvalidLogLevel, "%q", s.LogLevel)
	}

	if s.RCON.Host == "" {
		return errEmptyHost
	}

	if s.Log.Path == "" {
		return errEmptyLogPath
	}

	if _, errTransport := rcon.ParseTransport(s.RCON.Transport); errTransport != nil {
		return errTransport
	}

	for _, value := range []string{s.RCON.RetryFrequency, s.Log.PollInterval, s.Log.FailureRetry} {
		if _, errDuration := parseDuration(value); errDuration != nil {
			return errDuration
		}
	}

	_, errEncoding := tail.NewLineSplitter(s.Log.Encoding)

	return errEncoding
}

// SessionConfig converts the settings into a session configuration. The log
// path has ~ expanded.
func (s *Settings) SessionConfig() (session.Config, error) {
	if errValidate := s.Validate(); errValidate != nil {
		return session.Config{}, errValidate
	}

	transport, _ := rcon.ParseTransport(s.RCON.Transport)
	retryFrequency, _ := parseDuration(s.RCON.RetryFrequency)
	pollInterval, _ := parseDuration(s.Log.PollInterval)
	failureRetry, _ := parseDuration(s.Log.FailureRetry)

	logPath, errExpand := util.ExpandPath(s.Log.Path)
	if errExpand != nil {
		return session.Config{}, errExpand
	}

	return session.Config{
		RCON: rcon.Options{
			Host:           s.RCON.Host,
			Port:           s.RCON.Port,
			Password:       s.RCON.Password,
			Transport:      transport,
			Challenge:      s.RCON.Challenge,
			RetryMax:       s.RCON.RetryMax,
			RetryFrequency: retryFrequency,
			RequestID:      s.RCON.RequestID,
		},
		Tail: tail.Config{
			Path:            logPath,
			PollInterval:    pollInterval,
			FailureRetry:    failureRetry,
			MaxPollFailures: s.Log.MaxPollFailures,
			FromStart:       s.Log.FromStart,
		},
		Encoding:           s.Log.Encoding,
		SetupCommands:      s.SetupCommands,
		ClassifyBroadcasts: s.ClassifyBroadcasts,
		PID:                s.ServerPID,
		WatchdogInterval:   time.Second * defaultWatchdogSeconds,
	}, nil
}

// parseDuration treats an empty value as unset.
func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}

	duration, errParse := time.ParseDuration(value)
	if errParse != nil {
		return 0, errors.Wrapf(errParse, "Invalid duration %q", value)
	}

	return duration, nil
}
