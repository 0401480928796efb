package persist

import (
	"strings"
	"time"

	"github.com/segmentio/ksuid"
)

// DBID represents a database ID
type DBID string

// Millis represents an instant as milliseconds since the unix epoch, the
// wire format used by backup containers and entity timestamps
type Millis int64

// DemoIDPrefix marks reserved demo entities that are never imported or
// reported as conflicts
const DemoIDPrefix = "demo_"

// GenerateID generates an application-wide unique ID
func GenerateID() DBID {
	id, err := ksuid.NewRandom()
	if err != nil {
		panic(err)
	}
	return DBID(id.String())
}

func (d DBID) String() string {
	return string(d)
}

// IsDemo returns true for reserved demo identifiers
func (d DBID) IsDemo() bool {
	return strings.HasPrefix(string(d), DemoIDPrefix)
}

// NowMillis returns the current instant as Millis
func NowMillis() Millis {
	return Millis(time.Now().UnixMilli())
}

// Time returns the time.Time representation of the Millis
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m))
}
