package lifecycle

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"text/template"

	"cloudcubes/internal/config"
	"cloudcubes/internal/logging"

	"go.uber.org/zap"
)

// ErrInvalidConfigValue is returned when a configuration value destined for
// the bootstrap script contains characters bash would not interpret
// literally.
var ErrInvalidConfigValue = errors.New("configuration value contains shell-unsafe characters")

// Values outside this set would need escaping before interpolation into a
// shell script, so they are rejected instead.
var allowedCharacters = regexp.MustCompile(`^[a-zA-Z0-9,._+:@%/-]+$`)

const userDataTemplate = `#!/bin/bash
cd /home/ec2-user
{{- range .Exports}}
export {{.Key}}={{.Value}}
{{- end}}
export SERVER_ID={{.ServerID}}
su -c 'aws s3 cp s3://{{.ResourceBucket}}/server-startup/startup.sh - | bash' ec2-user
`

var userDataTmpl = template.Must(template.New("user-data").Parse(userDataTemplate))

type exportPair struct {
	Key   string
	Value string
}

type userDataContext struct {
	Exports        []exportPair
	ServerID       int
	ResourceBucket string
}

// UserData returns the bootstrap script executed at instance first boot.
// It is rendered once per manager instance; later configuration changes do
// not trigger recomputation.
func (m *SpotInstanceManager) UserData() (string, error) {
	if m.userData != "" {
		return m.userData, nil
	}

	rendered, err := generateUserData(m.cfg, m.record.ID())
	if err != nil {
		return "", err
	}
	m.userData = rendered
	return m.userData, nil
}

func generateUserData(cfg *config.Config, serverID int) (string, error) {
	bucket, err := validatedResourceBucket(cfg)
	if err != nil {
		return "", err
	}

	env := cfg.EnvironmentMap()
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	exports := make([]exportPair, 0, len(keys))
	for _, key := range keys {
		value := env[key]
		if !allowedCharacters.MatchString(key) || !allowedCharacters.MatchString(value) {
			logging.Logger().Warn("skipping environment variable with shell-unsafe characters",
				zap.Int("server_id", serverID),
				zap.String("key", key))
			continue
		}
		exports = append(exports, exportPair{Key: key, Value: value})
	}

	var buf bytes.Buffer
	err = userDataTmpl.Execute(&buf, userDataContext{
		Exports:        exports,
		ServerID:       serverID,
		ResourceBucket: bucket,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render user data: %w", err)
	}
	return buf.String(), nil
}

// shutdownCommand builds the in-instance command used by Stop, mirroring the
// startup download: fetch the shutdown script from the resource bucket and
// run it as the unprivileged account.
func shutdownCommand(cfg *config.Config) (string, error) {
	bucket, err := validatedResourceBucket(cfg)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("su -c 'aws s3 cp s3://%s/server-shutdown/shutdown.sh - | bash' ec2-user", bucket), nil
}

func validatedResourceBucket(cfg *config.Config) (string, error) {
	bucket := cfg.Value(config.SettingResourceBucketName)
	if !allowedCharacters.MatchString(bucket) {
		return "", fmt.Errorf("resource bucket name %q: %w", bucket, ErrInvalidConfigValue)
	}
	return bucket, nil
}
