package nats

import (
	"strings"

	"github.com/nats-io/nats.go"
)

type Config struct {
	Url  string
	Jwt  string
	Seed string
}

// Options returns connection options for cfg; credentials are only applied when both the
// jwt and the seed are present.
func Options(name string, cfg Config) []nats.Option {
	opts := []nats.Option{
		nats.Name(name),
	}

	if cfg.Jwt != "" && cfg.Seed != "" {
		opts = append(opts, nats.UserJWTAndSeed(cfg.Jwt, cfg.Seed))
	}

	return opts
}

func Connect(name string, cfg Config) (*nats.Conn, error) {
	url := strings.TrimSpace(cfg.Url)
	if url == "" {
		url = nats.DefaultURL
	}

	return nats.Connect(url, Options(name, cfg)...)
}
