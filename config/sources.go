package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SourceFiles returns the list of files that contributed configuration
// entries. The hot reload watcher polls exactly this set.
func SourceFiles(cfg *Config) []string {
	if cfg == nil {
		return nil
	}
	files := make(map[string]struct{})
	add := func(ref ModuleReference) {
		path := strings.TrimSpace(ref.File)
		if path == "" {
			return
		}
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		files[abs] = struct{}{}
	}
	add(cfg.Source)
	for _, profile := range cfg.Profiles {
		add(profile.Source)
	}
	for _, node := range cfg.Nodes {
		add(node.Source)
		for _, pub := range node.Publishers {
			add(pub.Source)
		}
		for _, sub := range node.Subscriptions {
			add(sub.Source)
		}
		for _, svc := range node.Services {
			add(svc.Source)
		}
		for _, client := range node.Clients {
			add(client.Source)
		}
	}
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
