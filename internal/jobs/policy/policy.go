package policy

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed stage_policy.yaml
var defaultYAML []byte

// Stage is the retry policy of one job type.
type Stage struct {
	Stage      string        `yaml:"stage"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	// Next is the job type dispatched after a successful run, if any.
	Next string `yaml:"next"`
}

// MaxAttempts counts the first run.
func (s Stage) MaxAttempts() int {
	if s.MaxRetries < 0 {
		return 1
	}
	return s.MaxRetries + 1
}

type Policies struct {
	Jobs map[string]Stage `yaml:"jobs"`
}

// For returns the policy of jobType. Unknown job types run once.
func (p Policies) For(jobType string) Stage {
	if s, ok := p.Jobs[jobType]; ok {
		return s
	}
	return Stage{Stage: jobType}
}

func Parse(raw []byte) (Policies, error) {
	var p Policies
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Policies{}, fmt.Errorf("parse stage policy: %w", err)
	}
	if p.Jobs == nil {
		p.Jobs = map[string]Stage{}
	}
	for name, s := range p.Jobs {
		if s.RetryDelay < 0 {
			return Policies{}, fmt.Errorf("stage policy %s: negative retry_delay", name)
		}
		if s.Stage == "" {
			s.Stage = name
			p.Jobs[name] = s
		}
	}
	return p, nil
}

// Default is the embedded policy.
func Default() Policies {
	p, err := Parse(defaultYAML)
	if err != nil {
		panic(err)
	}
	return p
}

// Load reads the file at path over the embedded defaults; entries in the file replace
// whole job entries. An empty path returns the defaults.
func Load(path string) (Policies, error) {
	base := Default()
	if strings.TrimSpace(path) == "" {
		return base, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policies{}, fmt.Errorf("read stage policy: %w", err)
	}
	override, err := Parse(raw)
	if err != nil {
		return Policies{}, err
	}
	for name, s := range override.Jobs {
		base.Jobs[name] = s
	}
	return base, nil
}
