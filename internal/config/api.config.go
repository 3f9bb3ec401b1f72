package config

import "time"

// Server configures the HTTP listener and the admin surface.
type Server struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	TrustProxyHeaders bool          `yaml:"trust_proxy_headers"` // Honour CF-Connecting-IP, X-Forwarded-For and X-Real-IP.
	AdminAllowedIPs   []string      `yaml:"admin_allowed_ips"`   // IPs or CIDRs allowed on /api/admin; empty allows all.
	EventOrigins      []string      `yaml:"event_origins"`       // Origins allowed on the event websocket; empty means same origin.
	Debug             bool          `yaml:"debug"`
}

// Timeouts returns the listener timeouts with defaults for unset values.
func (s Server) Timeouts() (read, write, idle time.Duration) {
	read, write, idle = s.ReadTimeout, s.WriteTimeout, s.IdleTimeout
	if read == 0 {
		read = 15 * time.Second
	}
	if write == 0 {
		write = 15 * time.Second
	}
	if idle == 0 {
		idle = 60 * time.Second
	}
	return read, write, idle
}
