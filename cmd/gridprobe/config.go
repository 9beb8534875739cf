package main

import (
	"time"
)

const (
	defaultBindHost          = "127.0.0.1"
	defaultAPIPort           = 8000
	defaultHubBuffer         = 256
	defaultConnectingTimeout = 30 * time.Second
	defaultKeepAlive         = 15 * time.Second
	defaultConnectDelay      = 200 * time.Millisecond
	defaultStation           = 1
	defaultOriginator        = 1
	defaultClientLocal       = "127.0.0.1:52301"
	defaultServerLocal       = "127.0.0.1:2404"
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	APIPort           int           `mapstructure:"api-port"`
	APIAddr           string        `mapstructure:"api-addr"`
	DataDir           string        `mapstructure:"data-dir"`
	DBPath            string        `mapstructure:"db-path"`
	HubBuffer         int           `mapstructure:"hub-buffer"`
	ConnectingTimeout time.Duration `mapstructure:"connecting-timeout"`
	KeepAlive         time.Duration `mapstructure:"keep-alive"`
	ConnectDelay      time.Duration `mapstructure:"connect-delay"`
	Station           int           `mapstructure:"station"`
	Originator        int           `mapstructure:"originator"`
	ClientEndpoint    string        `mapstructure:"client-endpoint"`
	ServerEndpoint    string        `mapstructure:"server-endpoint"`
	SignalList        string        `mapstructure:"signal-list"`
	ConfigPath        string        `mapstructure:"-"` // not from config file
}
