/*
Package workload renders podman quadlet unit files from a workload's desired
spec and drives the reconciler that converges the local service manager's
avena-* units to the KV bucket's desired state.
*/
package workload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oats-center/avena/pkg/messages"
)

// Deployment is one workload's rendered-unit identity: the unit base name
// (already avena-prefixed) and its desired container spec.
type Deployment struct {
	Name string
	Spec messages.WorkloadSpec
}

// Deploy writes the .container quadlet file (and one .volume file per named
// volume) for this deployment into systemdDir.
func (d Deployment) Deploy(systemdDir string) error {
	if err := os.MkdirAll(systemdDir, 0o755); err != nil {
		return fmt.Errorf("workload: create systemd dir: %w", err)
	}

	var b strings.Builder
	image := d.Spec.Image
	if d.Spec.Tag != nil {
		image = fmt.Sprintf("%s:%s", d.Spec.Image, *d.Spec.Tag)
	}
	fmt.Fprintf(&b, "[Unit]\nDescription=%s\n\n[Container]\nContainerName=%s\nImage=%s", d.Name, d.Name, image)

	if d.Spec.Cmd != nil {
		fmt.Fprintf(&b, "\nExec=%s", *d.Spec.Cmd)
	}
	for _, port := range d.Spec.Ports {
		fmt.Fprintf(&b, "\nPublishPort=%d:%d", port.Host, port.Container)
	}
	for _, mount := range d.Spec.Mounts {
		flag := "z"
		if mount.ReadOnly {
			flag = "ro"
		}
		fmt.Fprintf(&b, "\nVolume=%s:%s:%s", mount.Host, mount.Container, flag)
	}
	for _, vol := range d.Spec.Volumes {
		fmt.Fprintf(&b, "\nVolume=%s.volume:/data", vol)
	}
	b.WriteString("\n\n[Service]\nRestart=on-failure\n")

	containerPath := filepath.Join(systemdDir, d.Name+".container")
	if err := os.WriteFile(containerPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("workload: write %s: %w", containerPath, err)
	}

	for _, vol := range d.Spec.Volumes {
		volPath := filepath.Join(systemdDir, vol+".volume")
		if err := os.WriteFile(volPath, []byte("[Volume]\n"), 0o644); err != nil {
			return fmt.Errorf("workload: write %s: %w", volPath, err)
		}
	}

	return nil
}

// UnitName derives the avena-prefixed systemd unit base name for a workload.
func UnitName(name string) string {
	if strings.HasPrefix(name, "avena-") {
		return name
	}
	return "avena-" + name
}

// IsRequiredUnit reports whether unitName is one of the units the agent
// itself requires regardless of desired state (the broker container and its
// JetStream volume), and so must never be stopped by the reconciler's
// no-longer-desired sweep.
func IsRequiredUnit(unitName string) bool {
	return unitName == "avena-nats.service" || unitName == "avena-nats-js-volume.service"
}

// RequiredDeployments returns the deployments the agent always needs
// regardless of what's in the workload KV bucket: the broker itself.
func RequiredDeployments(natsCfgDir, serverConfPath string) []Deployment {
	tag := "2.12.2"
	cmd := "--config /server.conf"
	return []Deployment{
		{
			Name: "avena-nats",
			Spec: messages.WorkloadSpec{
				Image: "docker.io/library/nats",
				Tag:   &tag,
				Cmd:   &cmd,
				Mounts: []messages.MountSpec{
					{Host: serverConfPath, Container: "/server.conf"},
					{Host: natsCfgDir, Container: "/nats/cfg"},
				},
				Ports:   []messages.PortSpec{{Container: 4222, Host: 4222}},
				Volumes: []string{"avena-nats-js"},
			},
		},
	}
}
