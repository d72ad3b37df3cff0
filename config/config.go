// Package config reads the YAML description of a network of OSPF routers:
// the routers and their interfaces, the segments joining them, and the
// LSAs each database starts with.
package config

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"slices"
	"strings"
	"time"

	"go4.org/netipx"
	"gopkg.in/yaml.v3"

	"github.com/davidbalbert/ospfsync/chatterd/common"
	"github.com/davidbalbert/ospfsync/ospf"
)

type Endpoint struct {
	Router    string
	Interface string
}

func (e Endpoint) String() string {
	return e.Router + "." + e.Interface
}

// Link is one network segment. Every endpoint on it hears every other.
type Link struct {
	Name      string
	Endpoints []Endpoint
}

type Config struct {
	LogLevel      slog.Level
	LogFile       string
	Duration      time.Duration
	MetricsListen string
	LinkDelay     time.Duration

	Routers map[string]*RouterConfig
	Links   []Link
}

func Load(path string) (*Config, error) {
	s, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config, err := Parse(string(s))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return config, nil
}

func Parse(s string) (*Config, error) {
	var data map[string]interface{}

	if err := yaml.Unmarshal([]byte(s), &data); err != nil {
		return nil, err
	}

	c := Config{
		LogLevel:  slog.LevelInfo,
		Duration:  2 * time.Minute,
		LinkDelay: time.Millisecond,
		Routers:   make(map[string]*RouterConfig),
	}

	// lsas refer to routers, so they are read last.
	var lsas map[string]interface{}

	for k, v := range data {
		switch k {
		case "log-level":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("log-level must be a string")
			}

			if err := c.LogLevel.UnmarshalText([]byte(s)); err != nil {
				return nil, fmt.Errorf("invalid log-level: %w", err)
			}
		case "log-file":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("log-file must be a string")
			}

			c.LogFile = s
		case "duration", "link-delay":
			d, err := parseDuration(k, v)
			if err != nil {
				return nil, err
			}

			if k == "duration" {
				c.Duration = d
			} else {
				c.LinkDelay = d
			}
		case "metrics-listen":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("metrics-listen must be a string")
			}

			c.MetricsListen = s
		case "routers":
			routers, ok := v.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("routers must be a map")
			}

			for name, rv := range routers {
				r, ok := rv.(map[string]interface{})
				if !ok {
					return nil, fmt.Errorf("router %s: must be a map", name)
				}

				rc, err := parseRouterConfig(name, r)
				if err != nil {
					return nil, err
				}

				c.Routers[name] = rc
			}
		case "links":
			list, ok := v.([]interface{})
			if !ok {
				return nil, fmt.Errorf("links must be a list")
			}

			for _, item := range list {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("links: each link must be a string of router.interface endpoints")
				}

				l, err := parseLink(s)
				if err != nil {
					return nil, err
				}

				c.Links = append(c.Links, *l)
			}
		case "lsas":
			m, ok := v.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("lsas must be a map")
			}

			lsas = m
		default:
			return nil, fmt.Errorf("unknown top level key: %s", k)
		}
	}

	for name, v := range lsas {
		rc, ok := c.Routers[name]
		if !ok {
			return nil, fmt.Errorf("lsas: unknown router %s", name)
		}

		list, ok := v.([]interface{})
		if !ok {
			return nil, fmt.Errorf("lsas %s: must be a list", name)
		}

		for i, item := range list {
			prefix := fmt.Sprintf("lsas %s[%d]", name, i)

			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%s: must be a map", prefix)
			}

			lc, err := parseLSAConfig(prefix, m)
			if err != nil {
				return nil, err
			}

			rc.LSAs = append(rc.LSAs, *lc)
		}
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

func parseDuration(key string, v any) (time.Duration, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("%s must be a duration like \"90s\"", key)
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative: %v", key, d)
	}

	return d, nil
}

func parseLink(s string) (*Link, error) {
	l := Link{Name: s}

	for _, f := range strings.Fields(s) {
		router, iface, ok := strings.Cut(f, ".")
		if !ok || router == "" || iface == "" {
			return nil, fmt.Errorf("link %q: endpoint %q must be router.interface", s, f)
		}

		l.Endpoints = append(l.Endpoints, Endpoint{Router: router, Interface: iface})
	}

	if len(l.Endpoints) < 2 {
		return nil, fmt.Errorf("link %q: needs at least two endpoints", s)
	}

	return &l, nil
}

// RouterNames returns the configured router names in order.
func (c *Config) RouterNames() []string {
	names := make([]string, 0, len(c.Routers))
	for name := range c.Routers {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

func (c *Config) validate() error {
	if len(c.Routers) == 0 {
		return fmt.Errorf("at least one router must be configured")
	}

	ids := make(map[common.RouterID]string)
	for _, name := range c.RouterNames() {
		rc := c.Routers[name]
		if other, ok := ids[rc.RouterID]; ok {
			return fmt.Errorf("router %s: router-id %v already used by router %s", name, rc.RouterID, other)
		}
		ids[rc.RouterID] = name

		for _, lc := range rc.LSAs {
			if _, ok := rc.Areas[lc.Area]; !ok {
				return fmt.Errorf("lsas %s: area %v is not configured on the router", name, lc.Area)
			}
		}
	}

	used := make(map[Endpoint]string)
	var subnets netipx.IPSetBuilder

	for _, l := range c.Links {
		var prefixes []netip.Prefix
		var types []ospf.InterfaceType

		for _, e := range l.Endpoints {
			rc, ok := c.Routers[e.Router]
			if !ok {
				return fmt.Errorf("link %q: unknown router %s", l.Name, e.Router)
			}

			ic, ok := rc.Interface(e.Interface)
			if !ok {
				return fmt.Errorf("link %q: router %s has no interface %s", l.Name, e.Router, e.Interface)
			}

			if other, ok := used[e]; ok {
				return fmt.Errorf("link %q: %v is already on link %q", l.Name, e, other)
			}
			used[e] = l.Name

			prefixes = append(prefixes, ic.Prefix)
			types = append(types, ic.Type)
		}

		for i := range types {
			if types[i] != types[0] {
				return fmt.Errorf("link %q: interface types differ (%v, %v)", l.Name, types[0], types[i])
			}
		}

		if types[0] == ospf.InterfacePointToPoint && len(l.Endpoints) != 2 {
			return fmt.Errorf("link %q: a point-to-point link has exactly two endpoints", l.Name)
		}

		// Virtual links cross the transit area and don't share a subnet.
		if types[0] == ospf.InterfaceVirtual {
			continue
		}

		subnet := prefixes[0].Masked()
		for _, p := range prefixes[1:] {
			if p.Masked() != subnet {
				return fmt.Errorf("link %q: %v and %v are not on the same subnet", l.Name, prefixes[0], p)
			}
		}

		set, err := subnets.IPSet()
		if err != nil {
			return err
		}
		if set.OverlapsPrefix(subnet) {
			return fmt.Errorf("link %q: subnet %v overlaps another link", l.Name, subnet)
		}
		subnets.AddPrefix(subnet)
	}

	return nil
}
