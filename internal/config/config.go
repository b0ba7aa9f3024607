// Package config loads the runner's environment-driven configuration,
// following the load-then-validate shape of the teacher's
// pkg/katautils/config.go.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Config is the full set of environment-sourced settings for one runner
// process (§6).
type Config struct {
	APIURL string

	// Auth: exactly one of these must be set.
	UserAPIKey          string
	ExecuterTrackerToken string

	WorkDir               string
	ExecuterImagesDir     string
	ExecuterImagesRemote  string

	MPICluster          bool
	MPISharePath        string
	MPIHostfilePath     string
	MPIExtraArgs        []string
	MPIRunBinTemplate   string
	MPIDefaultVersion   string

	LocalMode bool

	MaxIdleTimeout time.Duration

	MachineGroupID   string
	MachineGroupName string

	HostName string
	HostID   string

	OnGPU bool

	SocksProxyHost string
	SocksProxyPort string

	// CommandBuilderConfigPath optionally points to a TOML file extending
	// the command builder security whitelist (DOMAIN STACK / ambient
	// config surface); empty means "use only the built-in whitelist".
	CommandBuilderConfigPath string
}

// Load reads Config from the process environment, per §6's variable table.
func Load() (*Config, error) {
	c := &Config{
		APIURL:                   os.Getenv("API_URL"),
		UserAPIKey:               os.Getenv("USER_API_KEY"),
		ExecuterTrackerToken:     os.Getenv("EXECUTER_TRACKER_TOKEN"),
		WorkDir:                  os.Getenv("WORKDIR"),
		ExecuterImagesDir:        os.Getenv("EXECUTER_IMAGES_DIR"),
		ExecuterImagesRemote:     os.Getenv("EXECUTER_IMAGES_REMOTE_STORAGE"),
		MPISharePath:             os.Getenv("MPI_SHARE_PATH"),
		MPIHostfilePath:          os.Getenv("MPI_HOSTFILE_PATH"),
		MPIRunBinTemplate:        os.Getenv("MPIRUN_BIN_PATH_TEMPLATE"),
		MPIDefaultVersion:        os.Getenv("MPI_DEFAULT_VERSION"),
		MachineGroupID:           os.Getenv("MACHINE_GROUP_ID"),
		MachineGroupName:         os.Getenv("MACHINE_GROUP_NAME"),
		HostName:                 os.Getenv("HOST_NAME"),
		HostID:                   os.Getenv("HOST_ID"),
		SocksProxyHost:           os.Getenv("SOCKS_PROXY_HOST"),
		SocksProxyPort:           os.Getenv("SOCKS_PROXY_PORT"),
		CommandBuilderConfigPath: os.Getenv("COMMAND_BUILDER_CONFIG"),
	}

	c.MPICluster = boolEnv("MPI_CLUSTER")
	c.LocalMode = boolEnv("LOCAL_MODE")
	c.OnGPU = boolEnv("ON_GPU")

	if extra := os.Getenv("MPI_EXTRA_ARGS"); extra != "" {
		c.MPIExtraArgs = strings.Fields(extra)
	}

	if raw := os.Getenv("MAX_IDLE_TIMEOUT"); raw != "" {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errors.Wrap(err, "invalid MAX_IDLE_TIMEOUT")
		}
		c.MaxIdleTimeout = time.Duration(secs * float64(time.Second))
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.APIURL == "" {
		return errors.New("API_URL must be set")
	}
	if c.UserAPIKey == "" && c.ExecuterTrackerToken == "" {
		return errors.New("exactly one of USER_API_KEY or EXECUTER_TRACKER_TOKEN must be set")
	}
	if c.UserAPIKey != "" && c.ExecuterTrackerToken != "" {
		return errors.New("exactly one of USER_API_KEY or EXECUTER_TRACKER_TOKEN must be set")
	}
	if c.WorkDir == "" {
		return errors.New("WORKDIR must be set")
	}
	if c.ExecuterImagesDir == "" {
		return errors.New("EXECUTER_IMAGES_DIR must be set")
	}
	if c.MachineGroupID == "" && c.MachineGroupName == "" && !c.LocalMode {
		return errors.New("one of MACHINE_GROUP_ID or MACHINE_GROUP_NAME must be set unless LOCAL_MODE")
	}
	return nil
}

// AuthHeader returns the header name/value pair to attach to every API
// request, per §4.4.
func (c *Config) AuthHeader() (name, value string) {
	if c.UserAPIKey != "" {
		return "X-API-Key", c.UserAPIKey
	}
	return "X-Executer-Tracker-Token", c.ExecuterTrackerToken
}

func boolEnv(name string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	return v == "1" || v == "true" || v == "yes"
}
