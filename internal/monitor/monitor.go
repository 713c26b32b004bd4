// Package monitor holds the pure reconciliation logic: classifying
// tracked pids as alive or dead and attributing observed listening
// sockets to registered server configs. It keeps no state of its own -
// the orchestrator applies its findings.
package monitor

import (
	"log/slog"
	"strings"

	"go.brondum.dev/steward/internal/core"
	"go.brondum.dev/steward/internal/osproc"
)

// Liveness is the result of one poll over tracked pids, keyed by server id.
type Liveness struct {
	Alive []string
	Dead  []string
}

// PollLiveness checks OS-level process existence for each tracked pid.
// The signal-0 existence check is positive evidence either way; there is
// no inconclusive outcome here (scan degradation is handled separately
// by the socket scan).
func PollLiveness(sys osproc.System, pids map[string]int) Liveness {
	var result Liveness
	for id, pid := range pids {
		if pid > 0 && sys.Alive(pid) {
			result.Alive = append(result.Alive, id)
		} else {
			result.Dead = append(result.Dead, id)
		}
	}
	return result
}

// VerifyCommand reports whether pid's command line still looks like the
// config's launch command. Guards against pid reuse after a crash. Best
// effort: an unreadable command line verifies as true, since killing or
// crashing a record on inconclusive evidence is worse than a stale match.
func VerifyCommand(sys osproc.System, pid int, cfg *core.ServerConfig) bool {
	cmdline, err := sys.Cmdline(pid)
	if err != nil || cmdline == "" {
		return true
	}
	if strings.Contains(cmdline, cfg.Command) {
		return true
	}
	// The shell may rewrite the command line; fall back to token matching
	return nameMatches(osproc.SocketSample{Cmdline: cmdline}, cfg)
}

// Attribution maps scan samples to server ids; the rest are orphan
// candidates. ByPort is the subset of Matched backed by a declared-port
// binding, the only evidence strong enough to claim an untracked process.
type Attribution struct {
	Matched  map[string][]osproc.SocketSample
	ByPort   map[string][]osproc.SocketSample
	Orphaned []osproc.SocketSample
}

// Attribute assigns each sample to a config. Precedence: exact declared
// port membership first, then a normalized program/command-name match.
// The first config in registration order wins ties; declared-port
// matching is authoritative and name matching is best effort only.
func Attribute(samples []osproc.SocketSample, configs []*core.ServerConfig) Attribution {
	result := Attribution{
		Matched: make(map[string][]osproc.SocketSample),
		ByPort:  make(map[string][]osproc.SocketSample),
	}

	for _, sample := range samples {
		id, byPort, ok := attributeOne(sample, configs)
		if !ok {
			result.Orphaned = append(result.Orphaned, sample)
			continue
		}
		result.Matched[id] = append(result.Matched[id], sample)
		if byPort {
			result.ByPort[id] = append(result.ByPort[id], sample)
		}
	}
	return result
}

func attributeOne(sample osproc.SocketSample, configs []*core.ServerConfig) (id string, byPort, ok bool) {
	for _, cfg := range configs {
		if declaresPort(cfg, sample.Port) {
			return cfg.ID, true, true
		}
	}
	for _, cfg := range configs {
		if nameMatches(sample, cfg) {
			return cfg.ID, false, true
		}
	}
	return "", false, false
}

func declaresPort(cfg *core.ServerConfig, port int) bool {
	for _, p := range cfg.Ports {
		if p == port {
			return true
		}
	}
	return false
}

// minimum length for a normalized token to count as a name match, so
// servers sharing short common substrings don't cross-attribute
const minNameToken = 4

// nameMatches reports whether the sample's program name or command line
// contains the server id or the launch command's executable name.
func nameMatches(sample osproc.SocketSample, cfg *core.ServerConfig) bool {
	haystack := normalize(sample.Program) + " " + normalize(sample.Cmdline)

	if tok := normalize(cfg.ID); len(tok) >= minNameToken && strings.Contains(haystack, tok) {
		return true
	}

	// First word of the launch command, e.g. "npm" from "npm run dev"
	fields := strings.Fields(cfg.Command)
	if len(fields) > 0 {
		exe := fields[0]
		if i := strings.LastIndex(exe, "/"); i >= 0 {
			exe = exe[i+1:]
		}
		if tok := normalize(exe); len(tok) >= minNameToken && strings.Contains(haystack, tok) {
			return true
		}
	}
	return false
}

// normalize lowercases and strips everything but letters and digits.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DuplicatePorts returns ports declared by more than one config, mapped
// to the claiming server ids. A duplicate claim is a configuration
// error: attribution would silently favor the first registrant.
func DuplicatePorts(configs []*core.ServerConfig) map[int][]string {
	claims := make(map[int][]string)
	for _, cfg := range configs {
		for _, port := range cfg.Ports {
			claims[port] = append(claims[port], cfg.ID)
		}
	}

	dupes := make(map[int][]string)
	for port, ids := range claims {
		if len(ids) > 1 {
			slog.Warn("Port declared by multiple servers, first registration wins",
				"port", port, "servers", strings.Join(ids, ", "))
			dupes[port] = ids
		}
	}
	return dupes
}
