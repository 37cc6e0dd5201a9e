package amievent

import (
	"encoding/hex"
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// Identity holds the fields stamped onto every published event.
type Identity struct {
	// EntityID is six colon separated lowercase hex bytes.
	EntityID   string
	SystemName string
}

const entityIDLen = 17

// FormatEntityID renders a six byte id as aa:bb:cc:dd:ee:ff.
func FormatEntityID(b [6]byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3], b[4], b[5])
}

// ParseEntityID validates a configured entity id and normalizes it to
// lowercase. Both ':' and '-' separators are accepted.
func ParseEntityID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) != entityIDLen {
		return "", errors.Newf("entity id %q: want 6 hex bytes", s)
	}
	var b [6]byte
	for i := range b {
		part := s[i*3 : i*3+2]
		if i < 5 && s[i*3+2] != ':' && s[i*3+2] != '-' {
			return "", errors.Newf("entity id %q: bad separator", s)
		}
		v, err := hex.DecodeString(part)
		if err != nil {
			return "", errors.Wrapf(err, "entity id %q", s)
		}
		b[i] = v[0]
	}
	return FormatEntityID(b), nil
}

// DefaultEntityID derives the id from the first hardware address of a
// non-loopback interface. Hosts without one get a random locally
// administered id.
func DefaultEntityID() string {
	if id, ok := interfaceEntityID(); ok {
		return id
	}
	return randomEntityID()
}

func interfaceEntityID() (string, bool) {
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return "", false
	}
	slices.SortFunc(ifaces, func(a, b psnet.InterfaceStat) int { return a.Index - b.Index })
	for _, iface := range ifaces {
		if slices.Contains(iface.Flags, "loopback") || iface.HardwareAddr == "" {
			continue
		}
		hw, err := net.ParseMAC(iface.HardwareAddr)
		if err != nil || len(hw) != 6 || isZero(hw) {
			continue
		}
		return FormatEntityID([6]byte(hw)), true
	}
	return "", false
}

func randomEntityID() string {
	u := uuid.New()
	var b [6]byte
	copy(b[:], u[:6])
	b[0] = (b[0] | 0x02) &^ 0x01
	return FormatEntityID(b)
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
