package server

import "time"

type Config struct {
	// ListenAddr is the HTTP listen address for the API server (the CLI's
	// analyze command runs the pipeline in-process and does not need it).
	ListenAddr string `yaml:"listen_addr"`
	// ReadTimeout bounds reading a request. Writes are unbounded so the
	// event stream can stay open.
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

func DefaultConfig() Config {
	return Config{ListenAddr: ":8080", ReadTimeout: 15 * time.Second}
}
