package strategies

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/irahardianto/dockhand/internal/engine/daemon"
	"github.com/irahardianto/dockhand/internal/engine/discovery"
)

const machineBinary = "docker-machine"

// ErrNoMachine is returned when docker-machine knows no machines.
var ErrNoMachine = errors.New("docker-machine has no machines")

func init() {
	discovery.Register(&MachineStrategy{})
}

// MachineStrategy asks docker-machine for the URL of a running machine. The
// machine's address can change between runs, so it is never persisted.
type MachineStrategy struct{}

func (*MachineStrategy) Name() string { return "docker-machine" }

func (*MachineStrategy) Description() string {
	return "docker-machine ($DOCKER_MACHINE_NAME or the first machine, certificates in ~/.docker/machine/machines/<name>)"
}

func (*MachineStrategy) Priority() int { return 10 }

func (*MachineStrategy) Applicable(env *discovery.Environment) bool {
	_, err := env.LookPath(machineBinary)
	return err == nil
}

func (*MachineStrategy) Persistable(*discovery.Environment) bool { return false }

func (s *MachineStrategy) Test(ctx context.Context, env *discovery.Environment) (daemon.Endpoint, error) {
	name, err := s.machineName(ctx, env)
	if err != nil {
		return daemon.Endpoint{}, err
	}

	status, err := env.Command(ctx, machineBinary, "status", name)
	if err != nil {
		return daemon.Endpoint{}, err
	}
	if st := strings.TrimSpace(string(status)); st != "Running" {
		return daemon.Endpoint{}, fmt.Errorf("docker-machine %q is not running (status %s)", name, st)
	}

	out, err := env.Command(ctx, machineBinary, "url", name)
	if err != nil {
		return daemon.Endpoint{}, err
	}
	ep := daemon.Endpoint{
		Host:      strings.TrimSpace(string(out)),
		TLSVerify: true,
		CertPath:  filepath.Join(env.HomeDir, ".docker", "machine", "machines", name),
	}
	if err := ep.Validate(); err != nil {
		return daemon.Endpoint{}, err
	}
	if err := env.Ping(ctx, ep); err != nil {
		return daemon.Endpoint{}, err
	}
	return ep, nil
}

func (*MachineStrategy) machineName(ctx context.Context, env *discovery.Environment) (string, error) {
	if name := env.Getenv("DOCKER_MACHINE_NAME"); name != "" {
		return name, nil
	}
	out, err := env.Command(ctx, machineBinary, "ls", "-q")
	if err != nil {
		return "", err
	}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line, nil
		}
	}
	return "", ErrNoMachine
}
