package config

import (
	"errors"
	"fmt"
)

// Validate 检查全部约束并一次性报告所有问题
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, err error) {
		if !ok {
			errs = append(errs, err)
		}
	}

	srv := c.Server
	check(srv.HTTPPort > 0 && srv.HTTPPort <= 65535, fmt.Errorf("invalid HTTP port %d", srv.HTTPPort))
	check(srv.MetricsPort >= 0 && srv.MetricsPort <= 65535, fmt.Errorf("invalid metrics port %d", srv.MetricsPort))
	check(srv.MetricsPort == 0 || srv.MetricsPort != srv.HTTPPort, errors.New("metrics port must differ from HTTP port"))

	s := c.Stream
	check(s.PollInterval > 0, errors.New("stream.poll_interval must be positive"))
	check(s.MaxPollAttempts > 0, errors.New("stream.max_poll_attempts must be positive"))
	check(s.HeartbeatInterval > 0, errors.New("stream.heartbeat_interval must be positive"))
	// 心跳必须在记录过期前续期，否则活跃的流会被误判为已结束
	check(s.LivenessTTL > s.HeartbeatInterval, fmt.Errorf(
		"stream.liveness_ttl (%s) must exceed stream.heartbeat_interval (%s)", s.LivenessTTL, s.HeartbeatInterval))
	check(s.MaxSteps >= 0, errors.New("stream.max_steps must not be negative"))

	check(c.Retry.MaxRetries >= 0, errors.New("retry.max_retries must not be negative"))
	check(c.Retry.MaxDelay >= c.Retry.BaseDelay, errors.New("retry.max_delay must not be below retry.base_delay"))

	check(!c.Sandbox.Enabled || c.Sandbox.BaseURL != "", errors.New("sandbox.base_url is required when sandbox is enabled"))
	check(c.Execution.Provider == "loopback", fmt.Errorf("unsupported execution provider %q", c.Execution.Provider))

	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}
	return nil
}
