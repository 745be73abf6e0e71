// Package registry loads and exposes the immutable set of remote proxy
// credentials backing the pool (C1 in the pool manager's component model).
package registry

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mtt-konan/sockpool/internal/domain"
)

// Registry is an immutable, indexed set of remote proxy endpoints. It never
// mutates after Load returns; Get(index) and Count() are safe for concurrent
// use without synchronisation.
type Registry struct {
	remotes []domain.RemoteProxy
}

// Load reads the remote proxy credential file: one record per line,
// whitespace-separated fields `host port user pass` or `host port user pass
// kind`, kind defaulting to socks5. Lines beginning with '#' and blank lines
// are skipped. A malformed record rejects the whole file - the registry is
// all-or-nothing at load time.
func Load(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open proxy file %s: %w", path, err)
	}
	defer f.Close()

	var remotes []domain.RemoteProxy
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		remote, err := parseRecord(line, len(remotes))
		if err != nil {
			return nil, fmt.Errorf("proxy file %s line %d: %w", path, lineNum, err)
		}
		remotes = append(remotes, remote)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read proxy file %s: %w", path, err)
	}

	if len(remotes) == 0 {
		return nil, fmt.Errorf("proxy file %s: no usable records", path)
	}

	return &Registry{remotes: remotes}, nil
}

func parseRecord(line string, nextID int) (domain.RemoteProxy, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 && len(fields) != 5 {
		return domain.RemoteProxy{}, fmt.Errorf("expected 4 or 5 fields, got %d", len(fields))
	}

	port, err := strconv.Atoi(fields[1])
	if err != nil || port <= 0 || port > 65535 {
		return domain.RemoteProxy{}, fmt.Errorf("invalid port %q", fields[1])
	}

	kind := domain.KindSOCKS5
	if len(fields) == 5 {
		switch strings.ToLower(fields[4]) {
		case "socks5":
			kind = domain.KindSOCKS5
		case "http":
			kind = domain.KindHTTP
		default:
			return domain.RemoteProxy{}, fmt.Errorf("unknown kind %q", fields[4])
		}
	}

	return domain.RemoteProxy{
		ID:   nextID,
		Kind: kind,
		Host: fields[0],
		Port: port,
		User: fields[2],
		Pass: fields[3],
	}, nil
}

// Count returns the number of loaded remotes.
func (r *Registry) Count() int {
	return len(r.remotes)
}

// Get returns the remote at index, which must be in [0, Count()).
func (r *Registry) Get(index int) domain.RemoteProxy {
	return r.remotes[index]
}
