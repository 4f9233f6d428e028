// Package config loads and merges the daemon's YAML configuration. A
// configuration is a tree of modules: the root file may include further
// files or directories, and every included module contributes profiles and
// nodes to the merged result. Each entry remembers the module that defined
// it so diagnostics can point at the right file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/timzifer/nodebus/qos"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// TypeRef names a message or service type in graph form, for example
// "sensor_data/msg/Temperature" or "example_interfaces/srv/AddTwoInts".
type TypeRef string

// Parts splits the reference into package, kind and name.
func (t TypeRef) Parts() (pkg, kind, name string, err error) {
	segments := strings.Split(string(t), "/")
	if len(segments) != 3 || segments[0] == "" || segments[1] == "" || segments[2] == "" {
		return "", "", "", fmt.Errorf("type reference %q must have the form package/kind/Name", string(t))
	}
	return segments[0], segments[1], segments[2], nil
}

// ModuleReference captures metadata about the configuration source that defined an entry.
type ModuleReference struct {
	File        string `json:"file,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Package     string `json:"package,omitempty"`
}

// ModuleInclude describes a referenced configuration module.
type ModuleInclude struct {
	Path        string
	Name        string
	Description string
}

// UnmarshalYAML allows module includes to be declared either as scalar strings or structured objects.
func (m *ModuleInclude) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return errors.New("module include node is nil")
	}
	switch value.Kind {
	case yaml.ScalarNode:
		var path string
		if err := value.Decode(&path); err != nil {
			return fmt.Errorf("decode module path: %w", err)
		}
		m.Path = strings.TrimSpace(path)
		return nil
	case yaml.MappingNode:
		type rawModule struct {
			Path        string `yaml:"path"`
			Name        string `yaml:"name"`
			Description string `yaml:"description"`
		}
		var raw rawModule
		if err := value.Decode(&raw); err != nil {
			return fmt.Errorf("decode module include: %w", err)
		}
		if raw.Path == "" {
			return errors.New("module include missing path")
		}
		m.Path = raw.Path
		m.Name = raw.Name
		m.Description = raw.Description
		return nil
	default:
		return fmt.Errorf("unsupported module include node kind %d", value.Kind)
	}
}

// ProfileConfig declares a named QoS profile endpoints can reference.
type ProfileConfig struct {
	ID               string          `yaml:"id"`
	History          string          `yaml:"history,omitempty"`
	Depth            int             `yaml:"depth,omitempty"`
	Reliability      string          `yaml:"reliability,omitempty"`
	Durability       string          `yaml:"durability,omitempty"`
	Deadline         Duration        `yaml:"deadline,omitempty"`
	Lifespan         Duration        `yaml:"lifespan,omitempty"`
	Liveliness       string          `yaml:"liveliness,omitempty"`
	LeaseDuration    Duration        `yaml:"lease_duration,omitempty"`
	AvoidConventions bool            `yaml:"avoid_conventions,omitempty"`
	LeaveDefaults    bool            `yaml:"leave_defaults,omitempty"`
	Source           ModuleReference `yaml:"-"`
}

// Profile resolves the declaration into a QoS profile.
func (p ProfileConfig) Profile() (qos.Profile, error) {
	profile := qos.DefaultProfile()
	var err error
	if p.History != "" {
		if profile.History, err = qos.ParseHistory(p.History); err != nil {
			return qos.Profile{}, fmt.Errorf("profile %s: %w", p.ID, err)
		}
	}
	if p.Depth != 0 {
		profile.Depth = p.Depth
	}
	if p.Reliability != "" {
		if profile.Reliability, err = qos.ParseReliability(p.Reliability); err != nil {
			return qos.Profile{}, fmt.Errorf("profile %s: %w", p.ID, err)
		}
	}
	if p.Durability != "" {
		if profile.Durability, err = qos.ParseDurability(p.Durability); err != nil {
			return qos.Profile{}, fmt.Errorf("profile %s: %w", p.ID, err)
		}
	}
	if p.Liveliness != "" {
		if profile.Liveliness, err = qos.ParseLiveliness(p.Liveliness); err != nil {
			return qos.Profile{}, fmt.Errorf("profile %s: %w", p.ID, err)
		}
	}
	profile.Deadline = p.Deadline.Duration
	profile.Lifespan = p.Lifespan.Duration
	profile.LeaseDuration = p.LeaseDuration.Duration
	profile.AvoidConventions = p.AvoidConventions
	profile.LeaveTransportDefaults = p.LeaveDefaults
	if err := profile.Validate(); err != nil {
		return qos.Profile{}, fmt.Errorf("profile %s: %w", p.ID, err)
	}
	return profile, nil
}

// GeneratorConfig selects the sample generator driving a publisher.
type GeneratorConfig struct {
	Type     string                 `yaml:"type"`
	Settings map[string]interface{} `yaml:"settings,omitempty"`
}

// PublisherConfig declares a publisher endpoint on a node. When a generator
// is set, the daemon publishes a generated sample every interval.
type PublisherConfig struct {
	ID        string          `yaml:"id"`
	Topic     string          `yaml:"topic"`
	Type      TypeRef         `yaml:"type"`
	Profile   string          `yaml:"profile,omitempty"`
	Interval  Duration        `yaml:"interval,omitempty"`
	Keyed     bool            `yaml:"keyed,omitempty"`
	Generator GeneratorConfig `yaml:"generator,omitempty"`
	Disable   bool            `yaml:"disable,omitempty"`
	Source    ModuleReference `yaml:"-"`
}

// SubscriptionConfig declares a subscription endpoint on a node.
type SubscriptionConfig struct {
	ID          string          `yaml:"id"`
	Topic       string          `yaml:"topic"`
	Type        TypeRef         `yaml:"type"`
	Profile     string          `yaml:"profile,omitempty"`
	IgnoreLocal bool            `yaml:"ignore_local,omitempty"`
	Disable     bool            `yaml:"disable,omitempty"`
	Source      ModuleReference `yaml:"-"`
}

// ServiceConfig declares a service server on a node. The expression computes
// the reply from the request; it sees the decoded request as "req".
type ServiceConfig struct {
	ID         string          `yaml:"id"`
	Service    string          `yaml:"service"`
	Type       TypeRef         `yaml:"type"`
	Profile    string          `yaml:"profile,omitempty"`
	Expression string          `yaml:"expression,omitempty"`
	Disable    bool            `yaml:"disable,omitempty"`
	Source     ModuleReference `yaml:"-"`
}

// ClientConfig declares a service client on a node. When an interval and a
// request payload are set, the daemon calls the service periodically.
type ClientConfig struct {
	ID       string                 `yaml:"id"`
	Service  string                 `yaml:"service"`
	Type     TypeRef                `yaml:"type"`
	Profile  string                 `yaml:"profile,omitempty"`
	Interval Duration               `yaml:"interval,omitempty"`
	Request  map[string]interface{} `yaml:"request,omitempty"`
	Disable  bool                   `yaml:"disable,omitempty"`
	Source   ModuleReference        `yaml:"-"`
}

// NodeConfig declares one node together with its endpoints.
type NodeConfig struct {
	Name          string               `yaml:"name"`
	Namespace     string               `yaml:"namespace"`
	Publishers    []PublisherConfig    `yaml:"publishers,omitempty"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions,omitempty"`
	Services      []ServiceConfig      `yaml:"services,omitempty"`
	Clients       []ClientConfig       `yaml:"clients,omitempty"`
	Source        ModuleReference      `yaml:"-"`
}

// TransportConfig selects the transport the daemon connects through.
type TransportConfig struct {
	Provider      string `yaml:"provider,omitempty"`
	Domain        uint32 `yaml:"domain,omitempty"`
	LeaveDefaults bool   `yaml:"leave_defaults,omitempty"`
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki"`
}

// TelemetryConfig configures runtime telemetry exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider,omitempty"`
}

// GraphViewConfig configures the embedded graph inspection server.
type GraphViewConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen,omitempty"`
}

// Config is the root configuration structure for the daemon.
type Config struct {
	Name        string          `yaml:"name,omitempty"`
	Description string          `yaml:"description,omitempty"`
	Transport   TransportConfig `yaml:"transport"`
	Logging     LoggingConfig   `yaml:"logging"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	GraphView   GraphViewConfig `yaml:"graph_view"`
	HotReload   bool            `yaml:"hot_reload,omitempty"`
	Modules     []ModuleInclude `yaml:"modules"`
	Profiles    []ProfileConfig `yaml:"profiles,omitempty"`
	Nodes       []NodeConfig    `yaml:"nodes"`
	Source      ModuleReference `yaml:"-"`
}

// FindProfile resolves a profile reference. An empty reference yields the
// default profile.
func (c *Config) FindProfile(id string) (qos.Profile, error) {
	if id == "" {
		return qos.DefaultProfile(), nil
	}
	for _, p := range c.Profiles {
		if p.ID == id {
			return p.Profile()
		}
	}
	return qos.Profile{}, fmt.Errorf("unknown profile %q", id)
}

// Load reads and decodes the configuration from disk. The path may name a
// file or a directory of YAML files; included modules are merged into the
// result.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path must not be empty")
	}
	if err := InstallDefaultOverlays(); err != nil {
		return nil, fmt.Errorf("install schema overlays: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat config path: %w", err)
	}

	visited := make(map[string]struct{})
	var cfg *Config
	if info.IsDir() {
		cfg, err = loadDir(abs, visited)
	} else {
		cfg, err = loadFile(abs, visited)
	}
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return &Config{}, nil
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, visited map[string]struct{}) (*Config, error) {
	if _, ok := visited[path]; ok {
		return nil, fmt.Errorf("config include cycle detected at %s", path)
	}
	visited[path] = struct{}{}
	defer delete(visited, path)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var document yaml.Node
	if err := yaml.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	if len(document.Content) == 0 || document.Content[0] == nil {
		return nil, fmt.Errorf("config %s is empty", path)
	}
	root := document.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("config %s: top-level YAML document must be a mapping", path)
	}

	if err := validateAgainstSchema(root); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	var cfg Config
	if err := root.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.setSource(ModuleReference{File: path, Name: cfg.Name, Description: cfg.Description})

	modules := cfg.Modules
	cfg.Modules = nil

	baseDir := filepath.Dir(path)
	for _, module := range modules {
		if module.Path == "" {
			continue
		}
		modulePath := module.Path
		if !filepath.IsAbs(modulePath) {
			modulePath = filepath.Join(baseDir, module.Path)
		}

		info, err := os.Stat(modulePath)
		if err != nil {
			return nil, fmt.Errorf("load module %s: %w", module.Path, err)
		}

		var child *Config
		if info.IsDir() {
			child, err = loadDir(modulePath, visited)
		} else {
			child, err = loadFile(modulePath, visited)
		}
		if err != nil {
			return nil, fmt.Errorf("load module %s: %w", module.Path, err)
		}
		if child == nil {
			continue
		}
		override := ModuleReference{
			Name:        firstNonEmpty(module.Name, child.Source.Name),
			Description: firstNonEmpty(module.Description, child.Source.Description),
		}
		child.applyModuleMetadata(override)
		mergeConfig(&cfg, child)
	}

	return &cfg, nil
}

func loadDir(path string, visited map[string]struct{}) (*Config, error) {
	if _, ok := visited[path]; ok {
		return nil, fmt.Errorf("config include cycle detected at %s", path)
	}
	visited[path] = struct{}{}
	defer delete(visited, path)

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read config dir %s: %w", path, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	result := &Config{}
	result.setSource(ModuleReference{File: path})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		child, err := loadFile(filepath.Join(path, entry.Name()), visited)
		if err != nil {
			return nil, err
		}
		if child == nil {
			continue
		}
		mergeConfig(result, child)
	}
	return result, nil
}

func ensureIdentifier(value, kind string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s identifier must not be empty", kind)
	}
	if strings.Contains(trimmed, ".") {
		return fmt.Errorf("%s %q must not contain '.'", kind, trimmed)
	}
	for idx, r := range trimmed {
		if idx == 0 && unicode.IsDigit(r) {
			return fmt.Errorf("%s %q must not start with a digit", kind, trimmed)
		}
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			return fmt.Errorf("%s %q contains invalid character %q", kind, trimmed, r)
		}
	}
	return nil
}

func ensureGraphName(value, kind string) error {
	if value == "" {
		return fmt.Errorf("%s name must not be empty", kind)
	}
	if !strings.HasPrefix(value, "/") {
		return fmt.Errorf("%s name %q must be fully qualified with a leading slash", kind, value)
	}
	return nil
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	profiles := make(map[string]struct{}, len(cfg.Profiles))
	for _, profile := range cfg.Profiles {
		if err := ensureIdentifier(profile.ID, "profile"); err != nil {
			return err
		}
		if _, dup := profiles[profile.ID]; dup {
			return fmt.Errorf("profile %q declared twice", profile.ID)
		}
		profiles[profile.ID] = struct{}{}
		if _, err := profile.Profile(); err != nil {
			return err
		}
	}
	checkProfileRef := func(owner, id string) error {
		if id == "" {
			return nil
		}
		if _, ok := profiles[id]; !ok {
			return fmt.Errorf("%s references unknown profile %q", owner, id)
		}
		return nil
	}

	seenNodes := make(map[string]struct{}, len(cfg.Nodes))
	for _, node := range cfg.Nodes {
		if err := ensureIdentifier(node.Name, "node"); err != nil {
			return err
		}
		if err := ensureGraphName(node.Namespace, "namespace"); err != nil {
			return fmt.Errorf("node %s: %w", node.Name, err)
		}
		key := node.Namespace + "\x00" + node.Name
		if _, dup := seenNodes[key]; dup {
			return fmt.Errorf("node %s%s declared twice", node.Namespace, node.Name)
		}
		seenNodes[key] = struct{}{}

		for _, pub := range node.Publishers {
			if err := ensureIdentifier(pub.ID, "publisher"); err != nil {
				return err
			}
			if err := ensureGraphName(pub.Topic, "topic"); err != nil {
				return fmt.Errorf("publisher %s: %w", pub.ID, err)
			}
			if _, _, _, err := pub.Type.Parts(); err != nil {
				return fmt.Errorf("publisher %s: %w", pub.ID, err)
			}
			if err := checkProfileRef("publisher "+pub.ID, pub.Profile); err != nil {
				return err
			}
		}
		for _, sub := range node.Subscriptions {
			if err := ensureIdentifier(sub.ID, "subscription"); err != nil {
				return err
			}
			if err := ensureGraphName(sub.Topic, "topic"); err != nil {
				return fmt.Errorf("subscription %s: %w", sub.ID, err)
			}
			if _, _, _, err := sub.Type.Parts(); err != nil {
				return fmt.Errorf("subscription %s: %w", sub.ID, err)
			}
			if err := checkProfileRef("subscription "+sub.ID, sub.Profile); err != nil {
				return err
			}
		}
		for _, svc := range node.Services {
			if err := ensureIdentifier(svc.ID, "service"); err != nil {
				return err
			}
			if err := ensureGraphName(svc.Service, "service"); err != nil {
				return fmt.Errorf("service %s: %w", svc.ID, err)
			}
			if _, _, _, err := svc.Type.Parts(); err != nil {
				return fmt.Errorf("service %s: %w", svc.ID, err)
			}
			if err := checkProfileRef("service "+svc.ID, svc.Profile); err != nil {
				return err
			}
		}
		for _, client := range node.Clients {
			if err := ensureIdentifier(client.ID, "client"); err != nil {
				return err
			}
			if err := ensureGraphName(client.Service, "service"); err != nil {
				return fmt.Errorf("client %s: %w", client.ID, err)
			}
			if _, _, _, err := client.Type.Parts(); err != nil {
				return fmt.Errorf("client %s: %w", client.ID, err)
			}
			if err := checkProfileRef("client "+client.ID, client.Profile); err != nil {
				return err
			}
		}
	}
	return nil
}

func mergeConfig(dst, src *Config) {
	if dst == nil || src == nil {
		return
	}

	if src.Transport.Provider != "" {
		dst.Transport.Provider = src.Transport.Provider
	}
	if src.Transport.Domain != 0 {
		dst.Transport.Domain = src.Transport.Domain
	}
	if src.Transport.LeaveDefaults {
		dst.Transport.LeaveDefaults = true
	}
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}
	if src.Logging.Loki.Enabled || src.Logging.Loki.URL != "" || len(src.Logging.Loki.Labels) > 0 {
		dst.Logging.Loki = src.Logging.Loki
	}
	if src.Telemetry.Enabled || src.Telemetry.Provider != "" {
		dst.Telemetry = src.Telemetry
	}
	if src.GraphView.Enabled || src.GraphView.Listen != "" {
		dst.GraphView = src.GraphView
	}
	if src.HotReload {
		dst.HotReload = true
	}

	dst.Profiles = append(dst.Profiles, src.Profiles...)
	dst.Nodes = append(dst.Nodes, src.Nodes...)
}

func (c *Config) setSource(meta ModuleReference) {
	if c == nil {
		return
	}
	if meta.File == "" {
		meta.File = c.Source.File
	}
	if meta.Name == "" {
		meta.Name = c.Name
	}
	if meta.Description == "" {
		meta.Description = c.Description
	}
	c.Source = meta
	for i := range c.Profiles {
		c.Profiles[i].Source = mergeInitialSource(c.Profiles[i].Source, meta)
	}
	for i := range c.Nodes {
		c.Nodes[i].Source = mergeInitialSource(c.Nodes[i].Source, meta)
		node := &c.Nodes[i]
		for j := range node.Publishers {
			node.Publishers[j].Source = mergeInitialSource(node.Publishers[j].Source, meta)
		}
		for j := range node.Subscriptions {
			node.Subscriptions[j].Source = mergeInitialSource(node.Subscriptions[j].Source, meta)
		}
		for j := range node.Services {
			node.Services[j].Source = mergeInitialSource(node.Services[j].Source, meta)
		}
		for j := range node.Clients {
			node.Clients[j].Source = mergeInitialSource(node.Clients[j].Source, meta)
		}
	}
}

func (c *Config) applyModuleMetadata(meta ModuleReference) {
	if c == nil {
		return
	}
	c.Source = mergeModuleOverride(c.Source, meta)
	for i := range c.Profiles {
		c.Profiles[i].Source = mergeModuleOverride(c.Profiles[i].Source, meta)
	}
	for i := range c.Nodes {
		c.Nodes[i].Source = mergeModuleOverride(c.Nodes[i].Source, meta)
	}
}

func mergeInitialSource(child, meta ModuleReference) ModuleReference {
	if child.File == "" && meta.File != "" {
		child.File = meta.File
	}
	if child.Name == "" && meta.Name != "" {
		child.Name = meta.Name
	}
	if child.Description == "" && meta.Description != "" {
		child.Description = meta.Description
	}
	return child
}

func mergeModuleOverride(base, override ModuleReference) ModuleReference {
	if override.File != "" {
		base.File = override.File
	}
	if override.Name != "" {
		base.Name = override.Name
	}
	if override.Description != "" {
		base.Description = override.Description
	}
	return base
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
