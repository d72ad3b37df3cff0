package config

import (
	"fmt"
	"math"
	"net/netip"
	"slices"
	"strings"
	"time"

	"go4.org/netipx"

	"github.com/davidbalbert/ospfsync/chatterd/common"
	"github.com/davidbalbert/ospfsync/ospf"
)

// InterfaceDefaults are the per-interface settings that can also be given
// on a router or an area. Unset values are inherited from the enclosing
// level. Intervals are in seconds.
type InterfaceDefaults struct {
	Cost          uint16
	MTU           int
	HelloInterval uint16
	DeadInterval  uint32
	RxmtInterval  uint16
	TransmitDelay uint16
	PollInterval  uint32
}

var builtinDefaults = InterfaceDefaults{
	Cost:          10,
	MTU:           1500,
	HelloInterval: 10,
	DeadInterval:  40,
	RxmtInterval:  5,
	TransmitDelay: 1,
	PollInterval:  120,
}

func (d *InterfaceDefaults) inherit(parent InterfaceDefaults) {
	if d.Cost == 0 {
		d.Cost = parent.Cost
	}

	if d.MTU == 0 {
		d.MTU = parent.MTU
	}

	if d.HelloInterval == 0 {
		d.HelloInterval = parent.HelloInterval
	}

	if d.DeadInterval == 0 {
		d.DeadInterval = parent.DeadInterval
	}

	if d.RxmtInterval == 0 {
		d.RxmtInterval = parent.RxmtInterval
	}

	if d.TransmitDelay == 0 {
		d.TransmitDelay = parent.TransmitDelay
	}

	if d.PollInterval == 0 {
		d.PollInterval = parent.PollInterval
	}
}

// parse handles k if it is one of the inheritable keys.
func (d *InterfaceDefaults) parse(prefix, k string, v any) (bool, error) {
	var err error
	var n int

	switch k {
	case "cost":
		n, err = parseInt(prefix, k, v, 1, math.MaxUint16)
		d.Cost = uint16(n)
	case "mtu":
		n, err = parseInt(prefix, k, v, 576, math.MaxUint16)
		d.MTU = n
	case "hello-interval":
		n, err = parseInt(prefix, k, v, 1, math.MaxUint16)
		d.HelloInterval = uint16(n)
	case "dead-interval":
		n, err = parseInt(prefix, k, v, 1, math.MaxUint32)
		d.DeadInterval = uint32(n)
	case "retransmit-interval":
		n, err = parseInt(prefix, k, v, 1, math.MaxUint16)
		d.RxmtInterval = uint16(n)
	case "transmit-delay":
		n, err = parseInt(prefix, k, v, 1, ospf.MaxAge)
		d.TransmitDelay = uint16(n)
	case "poll-interval":
		n, err = parseInt(prefix, k, v, 1, math.MaxUint32)
		d.PollInterval = uint32(n)
	default:
		return false, nil
	}

	return true, err
}

func parseInt(prefix, key string, v any, min, max int) (int, error) {
	n, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("%s: %s must be an integer", prefix, key)
	}

	if n < min {
		return 0, fmt.Errorf("%s: %s too small: %d", prefix, key, n)
	} else if n > max {
		return 0, fmt.Errorf("%s: %s too big: %d", prefix, key, n)
	}

	return n, nil
}

func parseRouterID(prefix, key string, v any) (common.RouterID, error) {
	switch v := v.(type) {
	case string:
		id, err := common.ParseID(v)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid %s: %w", prefix, key, err)
		}

		return common.RouterID(id), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("%s: %s must be positive: %d", prefix, key, v)
		} else if v > math.MaxUint32 {
			return 0, fmt.Errorf("%s: %s too big: %d", prefix, key, v)
		}

		return common.RouterID(v), nil
	default:
		return 0, fmt.Errorf("%s: %s must be an IPv4 address or an unsigned 32 bit integer", prefix, key)
	}
}

type RouterConfig struct {
	Name     string
	RouterID common.RouterID
	InterfaceDefaults

	Areas map[common.AreaID]AreaConfig
	LSAs  []LSAConfig
}

// Interfaces returns every interface of the router in name order.
func (c *RouterConfig) Interfaces() []InterfaceConfig {
	var ifaces []InterfaceConfig
	for _, area := range c.Areas {
		for _, ic := range area.Interfaces {
			ifaces = append(ifaces, ic)
		}
	}

	slices.SortFunc(ifaces, func(a, b InterfaceConfig) int {
		return strings.Compare(a.Name, b.Name)
	})

	return ifaces
}

func (c *RouterConfig) Interface(name string) (InterfaceConfig, bool) {
	for _, area := range c.Areas {
		if ic, ok := area.Interfaces[name]; ok {
			return ic, true
		}
	}

	return InterfaceConfig{}, false
}

type AreaConfig struct {
	InterfaceDefaults
	Interfaces map[string]InterfaceConfig
}

type InterfaceConfig struct {
	Name   string
	AreaID common.AreaID
	Type   ospf.InterfaceType
	Prefix netip.Prefix
	InterfaceDefaults

	Priority               uint8
	Role                   ospf.InterfaceRole
	DesignatedRouter       common.RouterID
	BackupDesignatedRouter common.RouterID
	Neighbors              []netip.Addr
}

func seconds[T uint16 | uint32](n T) time.Duration {
	return time.Duration(n) * time.Second
}

// OSPF converts the interface to the form the engine takes.
func (ic *InterfaceConfig) OSPF() ospf.InterfaceConfig {
	return ospf.InterfaceConfig{
		Name:                   ic.Name,
		Type:                   ic.Type,
		Prefix:                 ic.Prefix,
		MTU:                    ic.MTU,
		Cost:                   ic.Cost,
		Priority:               ic.Priority,
		HelloInterval:          seconds(ic.HelloInterval),
		DeadInterval:           seconds(ic.DeadInterval),
		RxmtInterval:           seconds(ic.RxmtInterval),
		TransmitDelay:          seconds(ic.TransmitDelay),
		PollInterval:           seconds(ic.PollInterval),
		Role:                   ic.Role,
		DesignatedRouter:       ic.DesignatedRouter,
		BackupDesignatedRouter: ic.BackupDesignatedRouter,
		StaticNeighbors:        slices.Clone(ic.Neighbors),
	}
}

func parseRouterConfig(name string, data map[string]interface{}) (*RouterConfig, error) {
	prefix := fmt.Sprintf("router %s", name)

	c := &RouterConfig{
		Name:  name,
		Areas: make(map[common.AreaID]AreaConfig),
	}

	for k, v := range data {
		if ok, err := c.InterfaceDefaults.parse(prefix, k, v); ok {
			if err != nil {
				return nil, err
			}
			continue
		}

		if k == "router-id" {
			id, err := parseRouterID(prefix, k, v)
			if err != nil {
				return nil, err
			}

			c.RouterID = id
		} else if strings.HasPrefix(k, "area ") {
			areaName := strings.TrimPrefix(k, "area ")

			id, err := common.ParseID(areaName)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid area id: %w", prefix, err)
			}

			area, ok := v.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%s: area must be a map", prefix)
			}

			ac, err := parseAreaConfig(prefix, common.AreaID(id), area)
			if err != nil {
				return nil, err
			}

			c.Areas[common.AreaID(id)] = *ac
		} else {
			return nil, fmt.Errorf("%s: unknown key: %s", prefix, k)
		}
	}

	if c.RouterID == 0 {
		return nil, fmt.Errorf("%s: router-id is required", prefix)
	}

	if len(c.Areas) == 0 {
		return nil, fmt.Errorf("%s: at least one area must be configured", prefix)
	}

	c.setDefaults()

	return c, nil
}

func (c *RouterConfig) setDefaults() {
	c.inherit(builtinDefaults)

	for k, ac := range c.Areas {
		ac.setDefaults(c)
		c.Areas[k] = ac
	}
}

func (ac *AreaConfig) setDefaults(c *RouterConfig) {
	ac.inherit(c.InterfaceDefaults)

	for k, ic := range ac.Interfaces {
		ic.inherit(ac.InterfaceDefaults)
		ac.Interfaces[k] = ic
	}
}

func parseAreaConfig(routerPrefix string, id common.AreaID, data map[string]interface{}) (*AreaConfig, error) {
	prefix := fmt.Sprintf("%s area %v", routerPrefix, id)

	ac := AreaConfig{
		Interfaces: make(map[string]InterfaceConfig),
	}

	for k, v := range data {
		if ok, err := ac.InterfaceDefaults.parse(prefix, k, v); ok {
			if err != nil {
				return nil, err
			}
			continue
		}

		if strings.HasPrefix(k, "interface ") {
			interfaceName := strings.TrimPrefix(k, "interface ")

			i, ok := v.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%s interface %s: interface must be a map", prefix, interfaceName)
			}

			ic, err := parseInterfaceConfig(prefix, id, interfaceName, i)
			if err != nil {
				return nil, err
			}

			ac.Interfaces[interfaceName] = *ic
		} else {
			return nil, fmt.Errorf("%s: unknown key: %s", prefix, k)
		}
	}

	return &ac, nil
}

func parseInterfaceConfig(areaPrefix string, areaID common.AreaID, name string, data map[string]interface{}) (*InterfaceConfig, error) {
	prefix := fmt.Sprintf("%s interface %s", areaPrefix, name)

	ic := InterfaceConfig{
		Name:     name,
		AreaID:   areaID,
		Type:     ospf.InterfaceBroadcast,
		Priority: 1,
	}

	for k, v := range data {
		if ok, err := ic.InterfaceDefaults.parse(prefix, k, v); ok {
			if err != nil {
				return nil, err
			}
			continue
		}

		switch k {
		case "type":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s: type must be a string", prefix)
			}

			t, err := ospf.ParseInterfaceType(s)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", prefix, err)
			}

			ic.Type = t
		case "address":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s: address must be a string", prefix)
			}

			p, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid address: %w", prefix, err)
			}

			ic.Prefix = p
		case "priority":
			n, err := parseInt(prefix, k, v, 0, math.MaxUint8)
			if err != nil {
				return nil, err
			}

			ic.Priority = uint8(n)
		case "role":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s: role must be a string", prefix)
			}

			r, err := ospf.ParseInterfaceRole(s)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", prefix, err)
			}

			ic.Role = r
		case "dr":
			id, err := parseRouterID(prefix, k, v)
			if err != nil {
				return nil, err
			}

			ic.DesignatedRouter = id
		case "bdr":
			id, err := parseRouterID(prefix, k, v)
			if err != nil {
				return nil, err
			}

			ic.BackupDesignatedRouter = id
		case "neighbors":
			list, ok := v.([]interface{})
			if !ok {
				return nil, fmt.Errorf("%s: neighbors must be a list", prefix)
			}

			for _, item := range list {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("%s: neighbor must be an address", prefix)
				}

				addr, err := netip.ParseAddr(s)
				if err != nil || !addr.Is4() {
					return nil, fmt.Errorf("%s: invalid neighbor address: %s", prefix, s)
				}

				ic.Neighbors = append(ic.Neighbors, addr)
			}
		default:
			return nil, fmt.Errorf("%s: unknown key: %s", prefix, k)
		}
	}

	if err := ic.validate(prefix); err != nil {
		return nil, err
	}

	return &ic, nil
}

func (ic *InterfaceConfig) validate(prefix string) error {
	if !ic.Prefix.IsValid() {
		return fmt.Errorf("%s: address is required", prefix)
	}

	if !ic.Prefix.Addr().Is4() {
		return fmt.Errorf("%s: address must be IPv4", prefix)
	}

	// Host addresses only, except on /31 and /32 where every address is usable.
	if ic.Prefix.Bits() < 31 {
		masked := ic.Prefix.Masked()
		if ic.Prefix.Addr() == masked.Addr() || ic.Prefix.Addr() == netipx.PrefixLastIP(masked) {
			return fmt.Errorf("%s: %v is not a host address", prefix, ic.Prefix)
		}
	}

	switch ic.Type {
	case ospf.InterfaceNBMA:
		if len(ic.Neighbors) == 0 {
			return fmt.Errorf("%s: non-broadcast interfaces need neighbors", prefix)
		}
	case ospf.InterfaceVirtual:
		if ic.AreaID != common.Backbone {
			return fmt.Errorf("%s: virtual links belong to the backbone", prefix)
		}
		if len(ic.Neighbors) != 1 {
			return fmt.Errorf("%s: a virtual link has exactly one neighbor", prefix)
		}
	}

	if ic.Role != ospf.RoleDROther && ic.Type != ospf.InterfaceBroadcast && ic.Type != ospf.InterfaceNBMA {
		return fmt.Errorf("%s: role %v needs a broadcast or non-broadcast interface", prefix, ic.Role)
	}

	return nil
}

// LSAConfig describes an LSA installed in a router's database before it
// starts.
type LSAConfig struct {
	Area              common.AreaID
	Type              ospf.LSType
	Prefix            netip.Prefix
	AdvertisingRouter common.RouterID
	SequenceNumber    int32
	Age               uint16
	Metric            uint32
}

func parseLSType(s string) (ospf.LSType, error) {
	for t := ospf.LSTypeRouter; t <= ospf.LSTypeASExternal; t++ {
		if t.String() == s {
			return t, nil
		}
	}

	return 0, fmt.Errorf("unknown lsa type %q", s)
}

func parseLSAConfig(prefix string, data map[string]interface{}) (*LSAConfig, error) {
	c := LSAConfig{
		SequenceNumber: ospf.InitialSequenceNumber,
		Metric:         1,
	}

	for k, v := range data {
		switch k {
		case "area":
			var id uint32
			var err error

			switch v := v.(type) {
			case int:
				if v < 0 || v > math.MaxUint32 {
					return nil, fmt.Errorf("%s: invalid area id: %d", prefix, v)
				}
				id = uint32(v)
			case string:
				id, err = common.ParseID(v)
				if err != nil {
					return nil, fmt.Errorf("%s: invalid area id: %w", prefix, err)
				}
			default:
				return nil, fmt.Errorf("%s: invalid area id", prefix)
			}

			c.Area = common.AreaID(id)
		case "type":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s: type must be a string", prefix)
			}

			t, err := parseLSType(s)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", prefix, err)
			}

			c.Type = t
		case "id":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s: id must be an address or prefix", prefix)
			}

			p, err := netip.ParsePrefix(s)
			if err != nil {
				addr, aerr := netip.ParseAddr(s)
				if aerr != nil {
					return nil, fmt.Errorf("%s: invalid id: %s", prefix, s)
				}
				p = netip.PrefixFrom(addr, 32)
			}

			if !p.Addr().Is4() {
				return nil, fmt.Errorf("%s: id must be IPv4", prefix)
			}

			c.Prefix = p
		case "adv-router":
			id, err := parseRouterID(prefix, k, v)
			if err != nil {
				return nil, err
			}

			c.AdvertisingRouter = id
		case "seq":
			n, ok := v.(int)
			if !ok || n < math.MinInt32+1 || n > math.MaxInt32 {
				return nil, fmt.Errorf("%s: seq must be a 32 bit signed integer above %d", prefix, math.MinInt32)
			}

			c.SequenceNumber = int32(n)
		case "age":
			n, err := parseInt(prefix, k, v, 0, ospf.MaxAge)
			if err != nil {
				return nil, err
			}

			c.Age = uint16(n)
		case "metric":
			n, err := parseInt(prefix, k, v, 0, 1<<24-1)
			if err != nil {
				return nil, err
			}

			c.Metric = uint32(n)
		default:
			return nil, fmt.Errorf("%s: unknown key: %s", prefix, k)
		}
	}

	if c.Type == 0 {
		return nil, fmt.Errorf("%s: type is required", prefix)
	}

	if !c.Prefix.IsValid() {
		return nil, fmt.Errorf("%s: id is required", prefix)
	}

	if c.AdvertisingRouter == 0 {
		return nil, fmt.Errorf("%s: adv-router is required", prefix)
	}

	return &c, nil
}

// LSA builds the LSA. Bodies are the minimal well-formed body for the
// type: a router LSA with no links, a network LSA listing only the
// advertising router, and summary and external LSAs carrying the prefix
// mask and metric.
func (c *LSAConfig) LSA() *ospf.LSA {
	mask := netipx.PrefixLastIP(netip.PrefixFrom(netip.IPv4Unspecified(), c.Prefix.Bits())).As4()
	for i := range mask {
		mask[i] = ^mask[i]
	}

	var body []byte
	switch c.Type {
	case ospf.LSTypeRouter:
		body = make([]byte, 4)
	case ospf.LSTypeNetwork:
		adv := c.AdvertisingRouter.Addr().As4()
		body = append(mask[:], adv[:]...)
	case ospf.LSTypeSummary, ospf.LSTypeASBRSummary:
		body = append(mask[:], 0, byte(c.Metric>>16), byte(c.Metric>>8), byte(c.Metric))
	case ospf.LSTypeASExternal:
		body = append(mask[:], 0, byte(c.Metric>>16), byte(c.Metric>>8), byte(c.Metric))
		body = append(body, make([]byte, 8)...)
	}

	return ospf.NewLSA(ospf.LSAHeader{
		Age:               c.Age,
		Options:           0x02,
		Type:              c.Type,
		ID:                c.Prefix.Addr(),
		AdvertisingRouter: c.AdvertisingRouter,
		SequenceNumber:    c.SequenceNumber,
	}, body)
}
