package events

import (
	"fmt"
	"time"

	"github.com/davidbalbert/ospfsync/chatterd/common"
)

type EventType string

const (
	NeighborStateChanged EventType = "NeighborStateChanged"
	LSAInstalled         EventType = "LSAInstalled"
	LSAOriginated        EventType = "LSAOriginated"
)

type Event struct {
	Type EventType
	At   time.Duration // scheduler time
	Data any
}

func (e Event) String() string {
	return fmt.Sprintf("%v %s %v", e.At, e.Type, e.Data)
}

type NeighborChange struct {
	Router    common.RouterID
	Interface string
	Neighbor  common.RouterID
	From      string
	To        string
}

func (c NeighborChange) String() string {
	return fmt.Sprintf("router=%v interface=%s neighbor=%v %s -> %s", c.Router, c.Interface, c.Neighbor, c.From, c.To)
}

type LSAChange struct {
	Router         common.RouterID
	Area           common.AreaID
	Key            string
	SequenceNumber int32
	Age            uint16
}

func (c LSAChange) String() string {
	return fmt.Sprintf("router=%v area=%v lsa=%s seq=0x%08x age=%d", c.Router, c.Area, c.Key, uint32(c.SequenceNumber), c.Age)
}

type Sender interface {
	SendEvent(event Event)
}
