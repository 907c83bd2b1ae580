package session

import (
	"fmt"
	"net"
	"runtime"
	"strconv"
	"strings"
)

// Mode selects how partition work is executed.
type Mode string

const (
	ModeLocal   Mode = "local"
	ModeCluster Mode = "cluster"
)

// ResolveMode picks the execution mode. An explicit mode wins; otherwise
// local, local[N] and local[*] masters run in-process and every other master
// is treated as a coordinator address.
func ResolveMode(mode, master string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "local":
		return ModeLocal, nil
	case "cluster":
		return ModeCluster, nil
	case "":
	default:
		return "", fmt.Errorf("unknown runtime mode %q", mode)
	}

	if _, ok := localThreads(master); ok {
		return ModeLocal, nil
	}
	if strings.TrimSpace(master) == "" {
		return "", fmt.Errorf("master is not configured")
	}
	return ModeCluster, nil
}

// localThreads parses local, local[N], local[*] and local[N,F] masters.
func localThreads(master string) (int, bool) {
	master = strings.TrimSpace(master)
	if master == "local" {
		return 1, true
	}
	inner, ok := strings.CutPrefix(master, "local[")
	if !ok {
		return 0, false
	}
	inner, ok = strings.CutSuffix(inner, "]")
	if !ok {
		return 0, false
	}
	inner, _, _ = strings.Cut(inner, ",")
	if inner == "*" {
		return runtime.NumCPU(), true
	}
	n, err := strconv.Atoi(inner)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// parallelism is the number of partitions every stage is split into.
func parallelism(configured int, master string) int {
	if configured > 0 {
		return configured
	}
	if n, ok := localThreads(master); ok {
		return n
	}
	return runtime.NumCPU()
}

// masterAddress strips a spark:// or grpc:// scheme from the master URL.
func masterAddress(master string) string {
	master = strings.TrimSpace(master)
	for _, scheme := range []string{"spark://", "grpc://"} {
		if addr, ok := strings.CutPrefix(master, scheme); ok {
			return addr
		}
	}
	return master
}

// bindAddress returns the coordinator listen address. Without an explicit
// bind address the coordinator listens on the master's port on all
// interfaces.
func bindAddress(bind, master string) (string, error) {
	if bind != "" {
		return bind, nil
	}
	_, port, err := net.SplitHostPort(masterAddress(master))
	if err != nil {
		return "", fmt.Errorf("cannot derive bind address from master %q: %w", master, err)
	}
	return ":" + port, nil
}
