// Package tag implements the gettag collaborator: rendering an outbound tag
// prefix for a senblk. The tag format itself is a host/configuration concern
// out of scope per spec.md §1; this package supplies the minimal concrete
// behaviour needed to exercise spec.md §4.G step 1 (render into iov[0], fall
// back to data-only on failure).
package tag

import (
	"fmt"
	"time"

	"github.com/nmeabus/nmeabus/senblk"
)

// Flags selects which fields a rendered tag includes. The zero value
// disables tagging.
type Flags uint8

const (
	// Timestamp includes a Unix-epoch microsecond timestamp.
	Timestamp Flags = 1 << iota
	// IfaceName includes the originating interface's name.
	IfaceName
)

// Render renders a tag for s according to flags, returning the tag bytes and
// true, or nil and false if flags is zero (no tag requested) or rendering
// failed. A failure here is the trigger for §4.G step 1's "disable tags and
// continue with data only".
func Render(flags Flags, ifaceName string, s *senblk.Senblk) ([]byte, bool) {
	if flags == 0 {
		return nil, false
	}
	var out []byte
	if flags&Timestamp != 0 {
		out = append(out, fmt.Appendf(nil, "s:%d,", time.Now().UnixMicro())...)
	}
	if flags&IfaceName != 0 {
		if ifaceName == "" {
			return nil, false
		}
		out = append(out, fmt.Appendf(nil, "t:%s,", ifaceName)...)
	}
	if len(out) == 0 {
		return nil, false
	}
	// Replace the trailing separator with the tag terminator.
	out[len(out)-1] = '*'
	return out, true
}
