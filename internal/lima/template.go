package lima

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mateo/agentbox/internal/runconfig"
)

// TemplateConfig sizes and provisions the base instance.
type TemplateConfig struct {
	CPUs            int
	MemoryGiB       int
	DiskGiB         int
	ForwardSSHAgent bool
	Mounts          []runconfig.Mount
	// Packages are apt packages installed at first boot.
	Packages []string
}

func DefaultTemplateConfig() TemplateConfig {
	return TemplateConfig{
		CPUs:      2,
		MemoryGiB: 4,
		DiskGiB:   30,
		Packages:  []string{"ca-certificates", "curl", "git", "unzip"},
	}
}

type templateImage struct {
	Location string `yaml:"location"`
	Arch     string `yaml:"arch"`
}

type templateMount struct {
	Location   string `yaml:"location" json:"location"`
	MountPoint string `yaml:"mountPoint" json:"mountPoint"`
	Writable   bool   `yaml:"writable" json:"writable"`
}

type templateProvision struct {
	Mode   string `yaml:"mode"`
	Script string `yaml:"script"`
}

type templateSSH struct {
	ForwardAgent bool `yaml:"forwardAgent"`
}

type templateContainerd struct {
	System bool `yaml:"system"`
	User   bool `yaml:"user"`
}

type limaTemplate struct {
	VMType     string              `yaml:"vmType"`
	Images     []templateImage     `yaml:"images"`
	CPUs       int                 `yaml:"cpus"`
	Memory     string              `yaml:"memory"`
	Disk       string              `yaml:"disk"`
	Mounts     []templateMount     `yaml:"mounts"`
	SSH        templateSSH         `yaml:"ssh"`
	Containerd templateContainerd  `yaml:"containerd"`
	Provision  []templateProvision `yaml:"provision,omitempty"`
}

var ubuntuImages = []templateImage{
	{Location: "https://cloud-images.ubuntu.com/releases/24.04/release/ubuntu-24.04-server-cloudimg-arm64.img", Arch: "aarch64"},
	{Location: "https://cloud-images.ubuntu.com/releases/24.04/release/ubuntu-24.04-server-cloudimg-amd64.img", Arch: "x86_64"},
}

func buildTemplate(cfg TemplateConfig) limaTemplate {
	t := limaTemplate{
		VMType: "vz",
		Images: ubuntuImages,
		CPUs:   cfg.CPUs,
		Memory: fmt.Sprintf("%dGiB", cfg.MemoryGiB),
		Disk:   fmt.Sprintf("%dGiB", cfg.DiskGiB),
		Mounts: templateMounts(cfg.Mounts),
		SSH:    templateSSH{ForwardAgent: cfg.ForwardSSHAgent},
	}
	if len(cfg.Packages) > 0 {
		script := "#!/bin/bash\nset -eux -o pipefail\nexport DEBIAN_FRONTEND=noninteractive\napt-get update\napt-get install -y"
		for _, p := range cfg.Packages {
			script += " " + p
		}
		t.Provision = []templateProvision{{Mode: "system", Script: script + "\n"}}
	}
	return t
}

func templateMounts(mounts []runconfig.Mount) []templateMount {
	out := make([]templateMount, 0, len(mounts))
	for _, m := range mounts {
		out = append(out, templateMount{Location: m.HostPath, MountPoint: m.VMPath, Writable: m.Writable()})
	}
	return out
}

// RenderTemplate writes a lima.yaml for cfg to outputPath.
func RenderTemplate(cfg TemplateConfig, outputPath string) error {
	data, err := yaml.Marshal(buildTemplate(cfg))
	if err != nil {
		return fmt.Errorf("encoding template: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("creating template dir: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("writing template: %w", err)
	}
	return nil
}
