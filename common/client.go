package common

import (
	"math/rand"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Client is the context object handed to every component of a mounted
// firefuse. It carries the configuration and the ambient services; there is no
// package level state.
type Client struct {
	Config  FirefuseConfig
	Fs      afero.Fs
	Id      uint64
	Level   *LogLevel
	Logger  *zap.SugaredLogger
	Started time.Time
}

// NewClient creates a client that logs to stdout (unless silent) and to
// logFile at the given level, and reads and writes through the OS filesystem.
func NewClient(
	config FirefuseConfig,
	logFile string,
	logLevel string,
	silent bool,
) *Client {
	level, _ := ParseLevel(logLevel)
	client := &Client{
		Config:  config,
		Fs:      afero.NewOsFs(),
		Id:      rand.Uint64(),
		Level:   NewLogLevel(level),
		Started: time.Now(),
	}

	// Setup logger after client is initialized
	client.Logger = SetupLogger(logFile, client.Level, silent)

	return client
}

// NewTestClient creates a client backed by an in-memory filesystem whose
// logger writes into core. A nil core discards all records.
func NewTestClient(config FirefuseConfig, core zapcore.Core) *Client {
	if core == nil {
		core = zapcore.NewNopCore()
	}
	return &Client{
		Config:  config,
		Fs:      afero.NewMemMapFs(),
		Id:      rand.Uint64(),
		Level:   NewLogLevel(zapcore.InfoLevel),
		Logger:  zap.New(core).Sugar(),
		Started: time.Now(),
	}
}

// Uptime returns how long the client has existed
func (c *Client) Uptime() time.Duration {
	return time.Since(c.Started)
}
