package policy

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"
)

// IPPolicy is an allow- or deny-CIDR predicate (spec §4.3, §6).
type IPPolicy struct {
	Deny   bool
	Prefix netip.Prefix
}

func (p IPPolicy) String() string {
	s := p.Prefix.String()
	if p.Deny {
		return "!" + s
	}
	return s
}

// Extension is the parsed form of a p.v3 extension-policy string: an IP
// CIDR allow/deny, a daily time window, and an absolute expiry, any of
// which may be absent (spec §4.3, §6, §8).
type Extension struct {
	IP         *IPPolicy
	Start      *DailyTime
	End        *DailyTime
	ExpireDate *time.Time
}

// DailyTime is a wall-clock HH:MM with a fixed UTC offset, used for the
// daily window predicate.
type DailyTime struct {
	Hour, Minute int
	Offset       int // seconds east of UTC
}

const offsetLayout = "-0700"

func parseOffset(s string) (int, error) {
	t, err := time.Parse(offsetLayout, s)
	if err != nil {
		return 0, err
	}
	_, offset := t.Zone()
	return offset, nil
}

func formatOffset(offset int) string {
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	return fmt.Sprintf("%s%02d%02d", sign, offset/3600, (offset%3600)/60)
}

func parseDailyTime(s string) (DailyTime, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return DailyTime{}, fmt.Errorf("policy: invalid daily time %q", s)
	}
	hh, mm, ok := splitHHMM(parts[0])
	if !ok {
		return DailyTime{}, fmt.Errorf("policy: invalid time-of-day %q", parts[0])
	}
	offset, err := parseOffset(parts[1])
	if err != nil {
		return DailyTime{}, fmt.Errorf("policy: invalid offset %q: %w", parts[1], err)
	}
	return DailyTime{Hour: hh, Minute: mm, Offset: offset}, nil
}

func splitHHMM(s string) (int, int, bool) {
	var hh, mm int
	if _, err := fmt.Sscanf(s, "%2d:%2d", &hh, &mm); err != nil {
		return 0, 0, false
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, false
	}
	return hh, mm, true
}

func (d DailyTime) String() string {
	return fmt.Sprintf("%02d:%02d %s", d.Hour, d.Minute, formatOffset(d.Offset))
}

// minutesOfDay returns the number of minutes since local midnight for t
// interpreted in the offset's timezone.
func minutesOfDay(t time.Time, offset int) int {
	loc := time.FixedZone("", offset)
	lt := t.In(loc)
	return lt.Hour()*60 + lt.Minute()
}

// ParseExtension parses the four comma-separated fields described in
// spec §6: ip_policy, start_time, end_time, expire_date. Any field may be
// empty. start_time and end_time must be jointly present or jointly absent
// and share the same offset.
func ParseExtension(s string) (Extension, error) {
	parts := strings.Split(s, ",")
	for len(parts) < 4 {
		parts = append(parts, "")
	}
	var ext Extension

	if ip := strings.TrimSpace(parts[0]); ip != "" {
		deny := false
		if strings.HasPrefix(ip, "!") {
			deny = true
			ip = ip[1:]
		}
		prefix, err := netip.ParsePrefix(ip)
		if err != nil {
			// Tolerate bare IPs (no mask) as a /32 or /128.
			addr, aerr := netip.ParseAddr(ip)
			if aerr != nil {
				return Extension{}, fmt.Errorf("policy: invalid ip_policy %q: %w", ip, err)
			}
			bits := 32
			if addr.Is6() {
				bits = 128
			}
			prefix = netip.PrefixFrom(addr, bits)
		}
		ext.IP = &IPPolicy{Deny: deny, Prefix: prefix}
	}

	startStr := strings.TrimSpace(parts[1])
	endStr := strings.TrimSpace(parts[2])
	if (startStr == "") != (endStr == "") {
		return Extension{}, fmt.Errorf("policy: start_time and end_time must both be present or both absent")
	}
	if startStr != "" {
		start, err := parseDailyTime(startStr)
		if err != nil {
			return Extension{}, err
		}
		end, err := parseDailyTime(endStr)
		if err != nil {
			return Extension{}, err
		}
		if start.Offset != end.Offset {
			return Extension{}, fmt.Errorf("policy: start_time and end_time must share the same offset")
		}
		ext.Start = &start
		ext.End = &end
	}

	if exp := strings.TrimSpace(parts[3]); exp != "" {
		t, err := time.Parse("2006-01-02 15:04:05 -0700", exp)
		if err != nil {
			return Extension{}, fmt.Errorf("policy: invalid expire_date %q: %w", exp, err)
		}
		ext.ExpireDate = &t
	}

	return ext, nil
}

// String renders the canonical wire form, the inverse of ParseExtension.
func (e Extension) String() string {
	var parts [4]string
	if e.IP != nil {
		parts[0] = e.IP.String()
	}
	if e.Start != nil && e.End != nil {
		parts[1] = e.Start.String()
		parts[2] = e.End.String()
	}
	if e.ExpireDate != nil {
		parts[3] = e.ExpireDate.Format("2006-01-02 15:04:05 -0700")
	}
	return strings.Join(parts[:], ",")
}

// Env carries the request-time environment an Extension is evaluated
// against: the client's IP (if known) and the current instant.
type Env struct {
	IP  net.IP
	Now time.Time
}

// Accepts reports whether every present predicate in e holds for env.
func (e Extension) Accepts(env Env) bool {
	if e.IP != nil {
		if env.IP == nil {
			return false
		}
		addr, err := netip.ParseAddr(env.IP.String())
		if err != nil {
			return false
		}
		in := e.IP.Prefix.Contains(addr)
		if e.IP.Deny {
			in = !in
		}
		if !in {
			return false
		}
	}

	if e.Start != nil && e.End != nil {
		now := env.Now
		if now.IsZero() {
			now = time.Now()
		}
		startMin := e.Start.Hour*60 + e.Start.Minute
		endMin := e.End.Hour*60 + e.End.Minute
		nowMin := minutesOfDay(now, e.Start.Offset)
		if startMin <= endMin {
			if !(nowMin >= startMin && nowMin < endMin) {
				return false
			}
		} else {
			// Wraps midnight.
			if !(nowMin >= startMin || nowMin < endMin) {
				return false
			}
		}
	}

	if e.ExpireDate != nil {
		now := env.Now
		if now.IsZero() {
			now = time.Now()
		}
		if !now.Before(*e.ExpireDate) {
			return false
		}
	}

	return true
}
