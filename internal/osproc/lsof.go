package osproc

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// lsofListeningSockets shells out to lsof as the fallback scan tool.
func lsofListeningSockets() ([]SocketSample, error) {
	out, err := exec.Command("lsof", "-nP", "-iTCP", "-sTCP:LISTEN").Output()
	if err != nil {
		// lsof exits non-zero when nothing matches; treat empty output
		// with an exit error as an empty scan, anything else as failure.
		if len(out) == 0 {
			if _, ok := err.(*exec.ExitError); ok {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("lsof scan failed: %w", err)
	}
	return parseLsofOutput(string(out)), nil
}

// parseLsofOutput parses `lsof -nP -iTCP -sTCP:LISTEN` output:
//
//	COMMAND  PID USER   FD   TYPE DEVICE SIZE/OFF NODE NAME
//	node    4321  djo   23u  IPv4 0x1234      0t0  TCP *:8080 (LISTEN)
//
// Unparsable lines are skipped, never fatal.
func parseLsofOutput(out string) []SocketSample {
	var samples []SocketSample

	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 9 || fields[0] == "COMMAND" {
			continue
		}

		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}

		// NAME is like "*:8080" or "127.0.0.1:3000"
		name := fields[8]
		idx := strings.LastIndex(name, ":")
		if idx < 0 {
			continue
		}
		port, err := strconv.Atoi(name[idx+1:])
		if err != nil {
			continue
		}

		samples = append(samples, SocketSample{
			Protocol: "tcp",
			Port:     port,
			Pid:      pid,
			Program:  fields[0],
		})
	}

	return samples
}
