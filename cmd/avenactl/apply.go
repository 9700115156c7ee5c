package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/oats-center/avena/pkg/messages"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a workload manifest to a device",
	Long: `Apply a workload desired-state manifest, written in YAML, to the
target device's workload KV bucket. The device's own reconciler picks up
the change and deploys or restarts the workload as needed.

Examples:
  # Apply a single workload to device edge-01
  avenactl apply -f workload.yaml --device edge-01`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	applyCmd.Flags().String("device", "", "Target device ID (required)")
	_ = applyCmd.MarkFlagRequired("file")
	_ = applyCmd.MarkFlagRequired("device")
}

// Manifest is the YAML shape an operator writes by hand: a workload name
// plus its desired container spec.
type Manifest struct {
	Name string                 `yaml:"name"`
	Spec map[string]interface{} `yaml:"spec"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	device, _ := cmd.Flags().GetString("device")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	if m.Name == "" {
		return fmt.Errorf("manifest is missing a name")
	}

	spec := messages.WorkloadSpec{
		Image: getString(m.Spec, "image", ""),
	}
	if spec.Image == "" {
		return fmt.Errorf("manifest spec.image is required")
	}
	if tag := getString(m.Spec, "tag", ""); tag != "" {
		spec.Tag = &tag
	}
	if cmdLine := getString(m.Spec, "cmd", ""); cmdLine != "" {
		spec.Cmd = &cmdLine
	}
	spec.Args = getStringSlice(m.Spec, "args")
	spec.Env = getStringSlice(m.Spec, "env")
	spec.Devices = getStringSlice(m.Spec, "devices")
	spec.Volumes = getStringSlice(m.Spec, "volumes")

	desired := messages.WorkloadDesiredState{Name: m.Name, Spec: spec}

	c, err := connect(cmd)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer c.Close()

	if err := c.ApplyWorkload(device, desired); err != nil {
		return fmt.Errorf("apply workload: %w", err)
	}

	fmt.Printf("Applied workload %q to device %s\n", m.Name, device)
	return nil
}

func getString(m map[string]interface{}, key, defaultValue string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return defaultValue
}

func getStringSlice(m map[string]interface{}, key string) []string {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, fmt.Sprintf("%v", item))
	}
	return out
}
