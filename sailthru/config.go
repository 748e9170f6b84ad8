package sailthru

import (
	"flag"
	"time"
)

// Config provides the values necessary to talk to the Sailthru API.
type Config struct {
	Endpoint string
	Key      string
	Secret   string
	Timeout  time.Duration
}

// RegisterFlags registers flags to configure a Sailthru client.
func (c *Config) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&c.Endpoint, "sailthru.endpoint", "https://api.sailthru.com", "Endpoint for the Sailthru API")
	f.StringVar(&c.Key, "sailthru.key", "", "API key for the Sailthru API")
	f.StringVar(&c.Secret, "sailthru.secret", "", "Shared secret used to sign Sailthru requests")
	f.DurationVar(&c.Timeout, "sailthru.timeout", 10*time.Second, "Timeout for requests to the Sailthru API")
}
