package config

import (
	"github.com/davidbalbert/ospfsync/sync"
)

// ConfigManager holds the running configuration and announces reloads.
type ConfigManager struct {
	*sync.Notifier[*Config]
	path string
}

func NewConfigManager(path string) (*ConfigManager, error) {
	conf, err := Load(path)
	if err != nil {
		return nil, err
	}

	return &ConfigManager{sync.NewNotifier(conf), path}, nil
}

// Reload reads the file again. The running configuration is only replaced
// if the new one is valid.
func (c *ConfigManager) Reload() error {
	conf, err := Load(c.path)
	if err != nil {
		return err
	}

	c.NotifyChange(conf)

	return nil
}

// TopologyChanged reports whether b describes different routers or links
// than a. Only logging settings can change without a restart.
func TopologyChanged(a, b *Config) bool {
	return !a.sameTopology(b)
}

func (c *Config) sameTopology(other *Config) bool {
	if c.LinkDelay != other.LinkDelay || len(c.Links) != len(other.Links) || len(c.Routers) != len(other.Routers) {
		return false
	}

	for i := range c.Links {
		if c.Links[i].Name != other.Links[i].Name {
			return false
		}
	}

	for name, rc := range c.Routers {
		orc, ok := other.Routers[name]
		if !ok || rc.RouterID != orc.RouterID {
			return false
		}

		a, b := rc.Interfaces(), orc.Interfaces()
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i].Name != b[i].Name || a[i].Prefix != b[i].Prefix || a[i].Type != b[i].Type {
				return false
			}
		}
	}

	return true
}
