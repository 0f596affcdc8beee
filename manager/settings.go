package manager

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DockerSettings configures the container launcher used by the executor's
// docker sandbox kind.
type DockerSettings struct {
	UseDocker    bool   `mapstructure:"use_docker"`
	Image        string `mapstructure:"image"`
	Network      string `mapstructure:"network"`
	IP           string `mapstructure:"ip"`
	Volume       string `mapstructure:"volume"`
	RegistryIP   string `mapstructure:"registry_ip"`
	RegistryPort int    `mapstructure:"registry_port"`
}

// ExecutorSettings configures the inner executor binary's own runtime
// behavior, independent of which sandbox launches it.
type ExecutorSettings struct {
	Repetitions int            `mapstructure:"repetitions"`
	WarmupIters int            `mapstructure:"warmup_iters"`
	PinThreads  bool           `mapstructure:"pin_threads"`
	SandboxKind SandboxKind    `mapstructure:"sandbox_kind"`
	Docker      DockerSettings `mapstructure:"docker"`
}

// RDMASettings configures the manager's own RDMA device selection and the
// resource manager it reports back to.
type RDMASettings struct {
	RDMADevice             string `mapstructure:"rdma_device"`
	RDMADevicePort         int    `mapstructure:"rdma_device_port"`
	ResourceManagerAddress string `mapstructure:"resource_manager_address"`
	ResourceManagerPort    int    `mapstructure:"resource_manager_port"`
	ResourceManagerSecret  int    `mapstructure:"resource_manager_secret"`
}

// SandboxKind names one of the three ways the manager can launch an
// executor process.
type SandboxKind string

const (
	SandboxProcess SandboxKind = "process"
	SandboxDocker  SandboxKind = "docker"
	SandboxSarus   SandboxKind = "sarus"
)

// SandboxConfiguration describes the devices, mounts, and environment a
// sandbox kind needs to launch an executor, keyed by sandbox kind in the
// configuration file's sandbox-configuration map.
type SandboxConfiguration struct {
	Devices         []string          `mapstructure:"devices"`
	Mounts          []string          `mapstructure:"mounts"`
	MountFilesystem []string          `mapstructure:"mount_filesystem"`
	Env             map[string]string `mapstructure:"env"`
	User            string            `mapstructure:"user"`
	Name            string            `mapstructure:"name"`
}

// ExpandMountFilesystem substitutes the {user} template in every
// mount_filesystem entry with the sandbox's configured user.
func (s SandboxConfiguration) ExpandMountFilesystem() []string {
	out := make([]string, len(s.MountFilesystem))
	for i, m := range s.MountFilesystem {
		out[i] = strings.ReplaceAll(m, "{user}", s.User)
	}
	return out
}

// GetExecutorPath resolves the bundled executor binary's path relative to
// this process's own executable, so the manager can be deployed alongside
// it without a hardcoded install path.
func GetExecutorPath() (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", newError(KindConfigInvalid, "executor-path", err)
	}
	return filepath.Join(filepath.Dir(self), "executor"), nil
}

// Settings is the top-level configuration file shape.
type Settings struct {
	RDMA      RDMASettings                    `mapstructure:"config"`
	Executor  ExecutorSettings                `mapstructure:"executor"`
	Sandboxes map[SandboxKind]SandboxConfiguration `mapstructure:"sandbox-configuration"`
}

// LoadSettings reads and validates the configuration file at path.
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, newError(KindConfigInvalid, path, err)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, newError(KindConfigInvalid, path, err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) validate() error {
	if s.RDMA.RDMADevice == "" {
		return newError(KindConfigInvalid, "config.rdma_device", nil)
	}
	if s.RDMA.RDMADevicePort <= 0 {
		return newError(KindConfigInvalid, "config.rdma_device_port", nil)
	}
	if _, ok := s.Sandboxes[SandboxProcess]; !ok {
		return newError(KindConfigInvalid, "sandbox-configuration.process", nil)
	}
	if _, ok := s.Sandboxes[s.SandboxKind()]; !ok {
		return newError(KindConfigInvalid, "sandbox-configuration."+string(s.SandboxKind()), nil)
	}
	return nil
}

// SandboxKind resolves which of the three sandbox kinds handleAllocation
// should spawn into: an explicit executor.sandbox_kind always wins;
// otherwise executor.docker.use_docker selects Docker for backward
// compatibility with configurations that predate sandbox_kind, and the
// default is Process.
func (s *Settings) SandboxKind() SandboxKind {
	if s.Executor.SandboxKind != "" {
		return s.Executor.SandboxKind
	}
	if s.Executor.Docker.UseDocker {
		return SandboxDocker
	}
	return SandboxProcess
}
