package config

import "time"

// Config holds client session configuration values.
type Config struct {
	ServerURL            string        `mapstructure:"server_url" yaml:"server_url"`
	LogLevel             string        `mapstructure:"log_level" yaml:"log_level"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	LivenessTimeout      time.Duration `mapstructure:"liveness_timeout" yaml:"liveness_timeout"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay" yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `mapstructure:"reconnect_max_delay" yaml:"reconnect_max_delay"`
	MessageAckTimeout    time.Duration `mapstructure:"message_ack_timeout" yaml:"message_ack_timeout"`
	CallAnswerTimeout    time.Duration `mapstructure:"call_answer_timeout" yaml:"call_answer_timeout"`
	TypingDebounce       time.Duration `mapstructure:"typing_debounce" yaml:"typing_debounce"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		ServerURL:            "ws://localhost:8080/ws",
		LogLevel:             "info",
		HeartbeatInterval:    30 * time.Second,
		LivenessTimeout:      60 * time.Second,
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MessageAckTimeout:    10 * time.Second,
		CallAnswerTimeout:    15 * time.Second,
		TypingDebounce:       300 * time.Millisecond,
	}
}
