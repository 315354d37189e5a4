package subscription

// registryConfig holds tunables shared by every cell the registry creates.
type registryConfig struct {
	mailboxSize int
}

func defaultConfig() registryConfig {
	return registryConfig{
		mailboxSize: 256,
	}
}

// Option defines a functional configuration type for the Registry.
type Option func(*registryConfig)

// WithMailboxSize sets the buffer capacity of each subscriber's mailbox.
// A saturated mailbox sheds events rather than stalling the topic pump.
func WithMailboxSize(size int) Option {
	return func(c *registryConfig) {
		if size > 0 {
			c.mailboxSize = size
		}
	}
}
