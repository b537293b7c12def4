package config

import (
	"os"
	"sync"
)

var inDocker = sync.OnceValue(func() bool {
	_, err := os.Stat("/.dockerenv")
	return err == nil
})

// IsRunningInDocker reports whether the engine runs inside a container.
// Docker creates /.dockerenv in every container; the check is cached.
func IsRunningInDocker() bool {
	return inDocker()
}

// ResolveHostForDocker maps loopback database hosts to
// host.docker.internal when the engine itself runs in a container, so a
// database on the host machine stays reachable.
func ResolveHostForDocker(host string) string {
	return resolveHost(host, IsRunningInDocker())
}

func resolveHost(host string, containerized bool) string {
	if !containerized {
		return host
	}
	switch host {
	case "localhost", "127.0.0.1":
		return "host.docker.internal"
	}
	return host
}
