package pipeline

type Config struct {
	ChannelSize int
}

func DefaultConfig() *Config {
	return &Config{ChannelSize: 16}
}
