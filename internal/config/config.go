package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Setting identifies a named infrastructure value that parts of the system
// (and the provisioned instances themselves) need at runtime.
type Setting string

const (
	SettingRegion             Setting = "REGION"
	SettingServerDatabaseName Setting = "SERVERDATABASENAME"
	SettingResourceBucketName Setting = "RESOURCEBUCKETNAME"
	SettingDataBucketName     Setting = "DATABUCKETNAME"
)

// environmentPrefix is prepended to setting names when they are exported as
// environment variables, e.g. CLOUDCUBESREGION.
const environmentPrefix = "CLOUDCUBES"

// exportedSettings are the settings propagated to launched instances and
// cross-process invocations through environment variables.
var exportedSettings = []Setting{
	SettingRegion,
	SettingServerDatabaseName,
	SettingResourceBucketName,
	SettingDataBucketName,
}

// EtcdConfig contains connection parameters for the lease store
type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints"`
}

// SweepConfig contains settings for the reconciliation sweep
type SweepConfig struct {
	MaxWorkers int `yaml:"max_workers"`
}

// Config contains application configuration
type Config struct {
	// AWS connection parameters
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`

	// Infrastructure identifiers
	ServerDatabaseName string `yaml:"server_database_name"`
	ResourceBucketName string `yaml:"resource_bucket_name"`
	DataBucketName     string `yaml:"data_bucket_name"`
	InstanceProfileArn string `yaml:"instance_profile_arn"`
	SubnetID           string `yaml:"subnet_id"`
	SecurityGroupID    string `yaml:"security_group_id"`

	// Launch parameters
	LaunchType   string `yaml:"launch_type"`
	ImageID      string `yaml:"image_id"`
	InstanceType string `yaml:"instance_type"`

	Etcd  EtcdConfig  `yaml:"etcd"`
	Sweep SweepConfig `yaml:"sweep"`
}

// Load loads configuration from YAML file
func Load() (*Config, error) {
	config := &Config{
		Region:       "us-east-1",
		LaunchType:   "spot",
		ImageID:      "ami-0233c2d874b811deb", // Amazon Linux 2
		InstanceType: "m5.large",
		Sweep:        SweepConfig{MaxWorkers: 5},
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "cloudcubes.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Expand environment variables in string fields
	config.Region = os.ExpandEnv(config.Region)
	config.ServerDatabaseName = os.ExpandEnv(config.ServerDatabaseName)
	config.ResourceBucketName = os.ExpandEnv(config.ResourceBucketName)
	config.DataBucketName = os.ExpandEnv(config.DataBucketName)
	config.InstanceProfileArn = os.ExpandEnv(config.InstanceProfileArn)
	config.SubnetID = os.ExpandEnv(config.SubnetID)
	config.SecurityGroupID = os.ExpandEnv(config.SecurityGroupID)

	// Environment variables win over file values so that the same binary
	// works inside Lambda-style environments without a config file.
	config.applyEnvironment()

	if config.ServerDatabaseName == "" {
		return nil, fmt.Errorf("server database name is required (set server_database_name in config file or %s%s environment variable)",
			environmentPrefix, SettingServerDatabaseName)
	}

	return config, nil
}

// FromEnvironment builds a configuration purely from CLOUDCUBES* environment
// variables, the propagation format produced by EnvironmentMap.
func FromEnvironment() (*Config, error) {
	config := &Config{
		LaunchType:   "spot",
		ImageID:      "ami-0233c2d874b811deb",
		InstanceType: "m5.large",
		Sweep:        SweepConfig{MaxWorkers: 5},
	}
	config.applyEnvironment()

	if config.Region == "" {
		return nil, fmt.Errorf("%s%s is not set", environmentPrefix, SettingRegion)
	}
	if config.ServerDatabaseName == "" {
		return nil, fmt.Errorf("%s%s is not set", environmentPrefix, SettingServerDatabaseName)
	}

	return config, nil
}

func (c *Config) applyEnvironment() {
	if v := os.Getenv(environmentVariableName(SettingRegion)); v != "" {
		c.Region = v
	}
	if v := os.Getenv(environmentVariableName(SettingServerDatabaseName)); v != "" {
		c.ServerDatabaseName = v
	}
	if v := os.Getenv(environmentVariableName(SettingResourceBucketName)); v != "" {
		c.ResourceBucketName = v
	}
	if v := os.Getenv(environmentVariableName(SettingDataBucketName)); v != "" {
		c.DataBucketName = v
	}
}

// Value returns the current value of a named setting.
func (c *Config) Value(setting Setting) string {
	switch setting {
	case SettingRegion:
		return c.Region
	case SettingServerDatabaseName:
		return c.ServerDatabaseName
	case SettingResourceBucketName:
		return c.ResourceBucketName
	case SettingDataBucketName:
		return c.DataBucketName
	default:
		return ""
	}
}

// EnvironmentMap converts the exported settings into environment variable
// form. Launched instances read these back with FromEnvironment.
func (c *Config) EnvironmentMap() map[string]string {
	out := make(map[string]string, len(exportedSettings))
	for _, s := range exportedSettings {
		out[environmentVariableName(s)] = c.Value(s)
	}
	return out
}

func environmentVariableName(s Setting) string {
	return environmentPrefix + strings.ToUpper(string(s))
}
