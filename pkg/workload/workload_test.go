package workload

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oats-center/avena/pkg/messages"
)

func TestUnitName(t *testing.T) {
	cases := map[string]string{
		"hello":       "avena-hello",
		"avena-hello": "avena-hello",
		"nats":        "avena-nats",
	}
	for in, want := range cases {
		if got := UnitName(in); got != want {
			t.Errorf("UnitName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsRequiredUnit(t *testing.T) {
	if !IsRequiredUnit("avena-nats.service") {
		t.Error("avena-nats.service should be required")
	}
	if !IsRequiredUnit("avena-nats-js-volume.service") {
		t.Error("avena-nats-js-volume.service should be required")
	}
	if IsRequiredUnit("avena-hello.service") {
		t.Error("avena-hello.service should not be required")
	}
}

func TestDeployRendersContainerUnit(t *testing.T) {
	dir := t.TempDir()
	tag := "1.27"
	cmd := "nginx -g daemon off;"
	dep := Deployment{
		Name: "avena-hello",
		Spec: messages.WorkloadSpec{
			Image: "nginx",
			Tag:   &tag,
			Cmd:   &cmd,
			Ports: []messages.PortSpec{{Container: 80, Host: 8080}},
			Mounts: []messages.MountSpec{
				{Host: "/srv/data", Container: "/data", ReadOnly: true},
			},
			Volumes: []string{"hello-data"},
		},
	}

	if err := dep.Deploy(dir); err != nil {
		t.Fatalf("Deploy() error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "avena-hello.container"))
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	content := string(data)

	for _, want := range []string{
		"Description=avena-hello",
		"ContainerName=avena-hello",
		"Image=nginx:1.27",
		"Exec=nginx -g daemon off;",
		"PublishPort=8080:80",
		"Volume=/srv/data:/data:ro",
		"Volume=hello-data.volume:/data",
		"Restart=on-failure",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("rendered unit missing %q:\n%s", want, content)
		}
	}

	volData, err := os.ReadFile(filepath.Join(dir, "hello-data.volume"))
	if err != nil {
		t.Fatalf("expected a hello-data.volume file: %v", err)
	}
	if string(volData) != "[Volume]\n" {
		t.Errorf("volume file content = %q, want %q", volData, "[Volume]\n")
	}
}

func TestDeployWriteableMountUsesZFlag(t *testing.T) {
	dir := t.TempDir()
	dep := Deployment{
		Name: "avena-hello",
		Spec: messages.WorkloadSpec{
			Image:  "nginx",
			Mounts: []messages.MountSpec{{Host: "/srv/data", Container: "/data", ReadOnly: false}},
		},
	}
	if err := dep.Deploy(dir); err != nil {
		t.Fatalf("Deploy() error: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "avena-hello.container"))
	if !strings.Contains(string(data), "Volume=/srv/data:/data:z") {
		t.Errorf("expected a z-flagged writable mount, got:\n%s", data)
	}
}

func TestDeployWithoutTagUsesBareImage(t *testing.T) {
	dir := t.TempDir()
	dep := Deployment{Name: "avena-hello", Spec: messages.WorkloadSpec{Image: "nginx"}}
	if err := dep.Deploy(dir); err != nil {
		t.Fatalf("Deploy() error: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "avena-hello.container"))
	if !strings.Contains(string(data), "Image=nginx\n") && !strings.Contains(string(data), "Image=nginx") {
		t.Errorf("expected bare image name, got:\n%s", data)
	}
	if strings.Contains(string(data), "Image=nginx:") {
		t.Error("should not append a tag separator when Tag is nil")
	}
}

func TestRequiredDeploymentsShape(t *testing.T) {
	deps := RequiredDeployments("/cfg/nats", "/cfg/server.conf")
	if len(deps) != 1 {
		t.Fatalf("expected exactly one required deployment, got %d", len(deps))
	}
	d := deps[0]
	if d.Name != "avena-nats" {
		t.Errorf("Name = %q, want %q", d.Name, "avena-nats")
	}
	if d.Spec.Image != "docker.io/library/nats" {
		t.Errorf("Image = %q, want %q", d.Spec.Image, "docker.io/library/nats")
	}
	if len(d.Spec.Ports) != 1 || d.Spec.Ports[0].Container != 4222 || d.Spec.Ports[0].Host != 4222 {
		t.Errorf("unexpected ports: %+v", d.Spec.Ports)
	}
	if len(d.Spec.Volumes) != 1 || d.Spec.Volumes[0] != "avena-nats-js" {
		t.Errorf("unexpected volumes: %+v", d.Spec.Volumes)
	}
}
