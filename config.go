package xembed

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the tunables of an embedding context. It can be filled from
// the environment with LoadConfig and applied with ContextBuilder.WithConfig.
type Config struct {
	Host         string        `envconfig:"XEMBED_HOST" default:"memory" validate:"required"`
	Codec        string        `envconfig:"XEMBED_CODEC" default:"json" validate:"required"`
	SendTimeout  time.Duration `envconfig:"XEMBED_SEND_TIMEOUT" default:"5s" validate:"gt=0"`
	FrameTimeout time.Duration `envconfig:"XEMBED_FRAME_TIMEOUT" default:"60s" validate:"gt=0"`
	// VerifyOrigin restricts relayed deliveries to origins this context embedded.
	VerifyOrigin    bool `envconfig:"XEMBED_VERIFY_ORIGIN" default:"false"`
	ObserverWorkers int  `envconfig:"XEMBED_OBSERVER_WORKERS" default:"2" validate:"gte=0"`
	ObserverBuffer  int  `envconfig:"XEMBED_OBSERVER_BUFFER" default:"256" validate:"gte=0"`
}

// DefaultConfig matches the envconfig defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "memory",
		Codec:           "json",
		SendTimeout:     DefaultSendTimeout,
		FrameTimeout:    DefaultFrameTimeout,
		ObserverWorkers: 2,
		ObserverBuffer:  256,
	}
}

// LoadConfig reads Config from XEMBED_* environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
