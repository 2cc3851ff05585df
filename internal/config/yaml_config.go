package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the structure of the config.yaml file.
// Hierarchical settings that are easier to manage in YAML than env vars.
type YAMLConfig struct {
	Departments []DepartmentConfig  `yaml:"departments"`
	Reminders   ReminderConfig      `yaml:"reminders"`
	Seed        []SeedRequestConfig `yaml:"seed"`
}

// DepartmentConfig is an entry in the department directory.
type DepartmentConfig struct {
	Name   string   `yaml:"name"`
	Emails []string `yaml:"emails,omitempty"` // Default recipients when a request names the department
}

// ReminderConfig holds reminder defaults applied to new requests.
type ReminderConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Frequency string `yaml:"frequency"`
}

// SeedRequestConfig describes a request written to an empty store on first boot.
type SeedRequestConfig struct {
	ID           string              `yaml:"id"`
	Title        string              `yaml:"title"`
	Format       string              `yaml:"format"`
	Departments  []string            `yaml:"departments"`
	Emails       []string            `yaml:"emails"`
	Deadline     string              `yaml:"deadline,omitempty"`
	EmailSubject string              `yaml:"email_subject,omitempty"`
	EmailBody    string              `yaml:"email_body,omitempty"`
	Instructions string              `yaml:"instructions,omitempty"`
	Reminders    *ReminderConfig     `yaml:"reminders,omitempty"`
	Columns      []string            `yaml:"columns"`
	InitialRows  []map[string]string `yaml:"initial_rows,omitempty"`
	Submissions  []SeedSubmission    `yaml:"submissions,omitempty"`
}

// SeedSubmission is a department submission attached to a seed request.
type SeedSubmission struct {
	Department string              `yaml:"department"`
	Rows       []map[string]string `yaml:"rows"`
	Completed  bool                `yaml:"completed"`
}

// LoadYAMLConfig loads the YAML configuration file.
// Path is determined by CONFIG_FILE env var, defaulting to "config.yaml".
// Returns nil without error if the config file doesn't exist.
func LoadYAMLConfig() (*YAMLConfig, error) {
	return LoadYAMLConfigFile(getEnv("CONFIG_FILE", "config.yaml"))
}

// LoadYAMLConfigFile loads the YAML configuration from an explicit path.
func LoadYAMLConfigFile(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Config file is optional
			return nil, nil
		}
		return nil, err
	}

	var cfg YAMLConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Reminders.Frequency == "" {
		cfg.Reminders.Frequency = "weekly"
	}

	return &cfg, nil
}

// GetDepartment finds a department by name, case-insensitively.
func (c *YAMLConfig) GetDepartment(name string) *DepartmentConfig {
	if c == nil {
		return nil
	}
	for i := range c.Departments {
		if strings.EqualFold(c.Departments[i].Name, name) {
			return &c.Departments[i]
		}
	}
	return nil
}

// EmailsForDepartments returns the directory recipients of the given
// departments in order, without duplicates.
func (c *YAMLConfig) EmailsForDepartments(names []string) []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]bool)
	var emails []string
	for _, name := range names {
		dept := c.GetDepartment(name)
		if dept == nil {
			continue
		}
		for _, e := range dept.Emails {
			key := strings.ToLower(e)
			if seen[key] {
				continue
			}
			seen[key] = true
			emails = append(emails, e)
		}
	}
	return emails
}
