package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hylla/ideadispatch/internal/app"
	"github.com/hylla/ideadispatch/internal/domain"
	toml "github.com/pelletier/go-toml/v2"
)

// LedgerBackend selects where queue entries and cycles are persisted.
type LedgerBackend string

// LedgerBackend values.
const (
	LedgerBackendFile   LedgerBackend = "file"
	LedgerBackendSQLite LedgerBackend = "sqlite"
)

type Config struct {
	Business    BusinessConfig    `toml:"business"`
	Paths       PathsConfig       `toml:"paths"`
	Ledger      LedgerConfig      `toml:"ledger"`
	Suppression SuppressionConfig `toml:"suppression"`
	Routing     RoutingConfig     `toml:"routing"`
	Gate        GateConfig        `toml:"gate"`
	Logging     LoggingConfig     `toml:"logging"`
	Server      ServerConfig      `toml:"server"`
	Keys        KeyConfig         `toml:"keys"`
}

type BusinessConfig struct {
	ID    string `toml:"id"`
	Actor string `toml:"actor"`
}

type PathsConfig struct {
	Registry   string `toml:"registry"`
	QueueState string `toml:"queue_state"`
	Telemetry  string `toml:"telemetry"`
	Database   string `toml:"database"`
}

type LedgerConfig struct {
	Backend LedgerBackend `toml:"backend"`
}

type SuppressionConfig struct {
	SelfActor             string   `toml:"self_actor"`
	MaxLineageDepth       int      `toml:"max_lineage_depth"`
	Cooldown              string   `toml:"cooldown"`
	MinChangedSections    int      `toml:"min_changed_sections"`
	ImmaterialSections    []string `toml:"immaterial_sections"`
	ImmuneArtifactClasses []string `toml:"immune_artifact_classes"`
	ImmuneArtifacts       []string `toml:"immune_artifacts"`
	ImmuneDomains         []string `toml:"immune_domains"`
	PolicyFile            string   `toml:"policy_file"`
}

type RoutingConfig struct {
	DefaultRoute  string                        `toml:"default_route"`
	DefaultFamily string                        `toml:"default_family"`
	Domains       map[string]DomainRoutingConfig `toml:"domains"`
}

type DomainRoutingConfig struct {
	Route             string `toml:"route"`
	DeliverableFamily string `toml:"deliverable_family"`
	Priority          string `toml:"priority"`
}

type GateConfig struct {
	KillSwitch       bool   `toml:"kill_switch"`
	KillSwitchReason string `toml:"kill_switch_reason"`
}

type LoggingConfig struct {
	Level   string        `toml:"level"`
	DevFile DevFileConfig `toml:"dev_file"`
}

type DevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type ServerConfig struct {
	HTTPBind    string `toml:"http_bind"`
	APIEndpoint string `toml:"api_endpoint"`
	MCPEndpoint string `toml:"mcp_endpoint"`
}

// KeyConfig overrides queue browser bindings.
type KeyConfig struct {
	MarkProcessed string `toml:"mark_processed"`
	MarkBlocked   string `toml:"mark_blocked"`
	CycleFilter   string `toml:"cycle_filter"`
}

// Locations carries the platform defaults Default needs.
type Locations struct {
	RegistryPath   string
	QueueStatePath string
	TelemetryPath  string
	DBPath         string
	PolicyPath     string
}

var validLogLevels = []string{"debug", "info", "warn", "error", "fatal"}

var validArtifactClasses = []domain.ArtifactClass{
	domain.ArtifactClassSourceProcess,
	domain.ArtifactClassSourceReference,
	domain.ArtifactClassProjectionSummary,
	domain.ArtifactClassSystemTelemetry,
}

func Default(loc Locations) Config {
	base := app.DefaultSuppressionPolicy()
	classes := make([]string, 0, len(base.ImmuneArtifactClasses))
	for _, class := range base.ImmuneArtifactClasses {
		classes = append(classes, string(class))
	}
	routing := app.DefaultRoutingPolicy()
	return Config{
		Business: BusinessConfig{
			Actor: app.DefaultSelfActor,
		},
		Paths: PathsConfig{
			Registry:   loc.RegistryPath,
			QueueState: loc.QueueStatePath,
			Telemetry:  loc.TelemetryPath,
			Database:   loc.DBPath,
		},
		Ledger: LedgerConfig{
			Backend: LedgerBackendFile,
		},
		Suppression: SuppressionConfig{
			SelfActor:             base.SelfActor,
			MaxLineageDepth:       base.MaxLineageDepth,
			Cooldown:              base.Cooldown.String(),
			MinChangedSections:    base.MinChangedSections,
			ImmaterialSections:    slices.Clone(base.ImmaterialSections),
			ImmuneArtifactClasses: classes,
			PolicyFile:            loc.PolicyPath,
		},
		Routing: RoutingConfig{
			DefaultRoute:  routing.DefaultRoute,
			DefaultFamily: routing.DefaultFamily,
			Domains:       map[string]DomainRoutingConfig{},
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     ".ideadispatch/log",
			},
		},
		Server: ServerConfig{
			HTTPBind:    "127.0.0.1:5437",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
		Keys: KeyConfig{
			MarkProcessed: "p",
			MarkBlocked:   "b",
			CycleFilter:   "f",
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Ledger.Backend {
	case LedgerBackendFile:
		if strings.TrimSpace(c.Paths.QueueState) == "" || strings.TrimSpace(c.Paths.Telemetry) == "" {
			return errors.New("paths.queue_state and paths.telemetry are required for the file ledger")
		}
	case LedgerBackendSQLite:
	default:
		return fmt.Errorf("invalid ledger.backend: %q", c.Ledger.Backend)
	}
	if strings.TrimSpace(c.Paths.Database) == "" {
		return errors.New("paths.database is required")
	}

	if c.Suppression.MaxLineageDepth < 0 {
		return errors.New("suppression.max_lineage_depth must be >= 0")
	}
	if c.Suppression.MinChangedSections < 0 {
		return errors.New("suppression.min_changed_sections must be >= 0")
	}
	if _, err := c.cooldown(); err != nil {
		return err
	}
	for i, raw := range c.Suppression.ImmuneArtifactClasses {
		class := domain.ArtifactClass(strings.TrimSpace(strings.ToLower(raw)))
		if !slices.Contains(validArtifactClasses, class) {
			return fmt.Errorf("suppression.immune_artifact_classes[%d] is unknown: %q", i, raw)
		}
	}

	for name, route := range c.Routing.Domains {
		if strings.TrimSpace(name) == "" {
			return errors.New("routing.domains keys must be non-empty")
		}
		switch strings.TrimSpace(strings.ToUpper(route.Priority)) {
		case "", "P1", "P2", "P3":
		default:
			return fmt.Errorf("invalid routing.domains.%s.priority: %q", name, route.Priority)
		}
	}

	if !slices.Contains(validLogLevels, strings.TrimSpace(strings.ToLower(c.Logging.Level))) {
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	if strings.TrimSpace(c.Server.HTTPBind) == "" {
		return errors.New("server.http_bind is required")
	}
	for key, endpoint := range map[string]string{"api_endpoint": c.Server.APIEndpoint, "mcp_endpoint": c.Server.MCPEndpoint} {
		if !strings.HasPrefix(strings.TrimSpace(endpoint), "/") {
			return fmt.Errorf("server.%s must start with /: %q", key, endpoint)
		}
	}

	seen := map[string]string{}
	for _, binding := range []struct{ name, value string }{
		{"mark_processed", c.Keys.MarkProcessed},
		{"mark_blocked", c.Keys.MarkBlocked},
		{"cycle_filter", c.Keys.CycleFilter},
	} {
		value := strings.TrimSpace(binding.value)
		if value == "" {
			continue
		}
		if other, ok := seen[value]; ok {
			return fmt.Errorf("keys.%s and keys.%s both bind %q", other, binding.name, value)
		}
		seen[value] = binding.name
	}
	return nil
}

// cooldown parses suppression.cooldown. Blank disables the window.
func (c Config) cooldown() (time.Duration, error) {
	raw := strings.TrimSpace(c.Suppression.Cooldown)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid suppression.cooldown %q: %w", raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("suppression.cooldown must be >= 0: %q", raw)
	}
	return d, nil
}

// HookPolicy maps suppression and routing settings onto the pipeline policy.
func (c Config) HookPolicy(policies []app.DispatchPolicy) (app.HookPolicy, error) {
	cooldown, err := c.cooldown()
	if err != nil {
		return app.HookPolicy{}, err
	}
	classes := make([]domain.ArtifactClass, 0, len(c.Suppression.ImmuneArtifactClasses))
	for _, raw := range c.Suppression.ImmuneArtifactClasses {
		classes = append(classes, domain.ArtifactClass(strings.TrimSpace(strings.ToLower(raw))))
	}
	routing := app.RoutingPolicy{
		DefaultRoute:  strings.TrimSpace(c.Routing.DefaultRoute),
		DefaultFamily: strings.TrimSpace(c.Routing.DefaultFamily),
		Domains:       make(map[string]app.DomainRoute, len(c.Routing.Domains)),
	}
	for name, route := range c.Routing.Domains {
		routing.Domains[strings.ToUpper(strings.TrimSpace(name))] = app.DomainRoute{
			Route:             strings.TrimSpace(route.Route),
			DeliverableFamily: strings.TrimSpace(route.DeliverableFamily),
			Priority:          strings.ToUpper(strings.TrimSpace(route.Priority)),
		}
	}
	return app.HookPolicy{
		Suppression: app.SuppressionPolicy{
			SelfActor:             strings.TrimSpace(c.Suppression.SelfActor),
			MaxLineageDepth:       c.Suppression.MaxLineageDepth,
			Cooldown:              cooldown,
			MinChangedSections:    c.Suppression.MinChangedSections,
			ImmaterialSections:    slices.Clone(c.Suppression.ImmaterialSections),
			ImmuneArtifactClasses: classes,
			ImmuneArtifacts:       slices.Clone(c.Suppression.ImmuneArtifacts),
			ImmuneDomains:         slices.Clone(c.Suppression.ImmuneDomains),
			DispatchPolicies:      slices.Clone(policies),
		},
		Routing: routing,
	}, nil
}

// ServiceConfig builds the application service settings.
func (c Config) ServiceConfig(policies []app.DispatchPolicy) (app.ServiceConfig, error) {
	policy, err := c.HookPolicy(policies)
	if err != nil {
		return app.ServiceConfig{}, err
	}
	return app.ServiceConfig{
		Business:         strings.TrimSpace(c.Business.ID),
		RegistryPath:     strings.TrimSpace(c.Paths.Registry),
		Policy:           policy,
		KillSwitch:       c.Gate.KillSwitch,
		KillSwitchReason: strings.TrimSpace(c.Gate.KillSwitchReason),
		Actor:            strings.TrimSpace(c.Business.Actor),
	}, nil
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
