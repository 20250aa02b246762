// Package channelconfig loads per-channel YAML configuration files from a
// directory, the way the original runtime's YAML channel config provider
// auto-discovers channels: one YAML file per channel, `_`-prefixed files
// skipped, with a small `!include path[:dotted.key]` directive for sharing
// sub-documents across files. The directory is read when a Provider is
// created and again on each Provider.Reload call; it is not watched, so
// file changes are not picked up on their own.
package channelconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	yaml "go.yaml.in/yaml/v2"
)

// VideoFormat describes a channel's encoded picture parameters.
type VideoFormat struct {
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	FrameRate string `yaml:"frame_rate"`
}

// AudioFormat describes a channel's encoded audio parameters.
type AudioFormat struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// Format is the `format:` section of a channel config file.
type Format struct {
	Video VideoFormat `yaml:"video"`
	Audio AudioFormat `yaml:"audio"`
}

// Filler is the `filler:` section: the channel's pad-asset source.
type Filler struct {
	Path       string `yaml:"path"`
	DurationMS int64  `yaml:"duration_ms"`
}

// rawConfig mirrors the on-disk shape before defaults are applied.
type rawConfig struct {
	Channel     string `yaml:"channel"`
	ChannelNum  int    `yaml:"channel_number"`
	Name        string `yaml:"name"`
	Format      Format `yaml:"format"`
	GridMinutes int    `yaml:"grid_minutes"`
	Timezone    string `yaml:"timezone"`
	Filler      Filler `yaml:"filler"`
	DSLPath     string `yaml:"dsl_path"`
}

// Config is one channel's fully-resolved configuration.
type Config struct {
	ChannelID    string
	ChannelNum   int
	Name         string
	Format       Format
	GridMinutes  int
	Timezone     string
	Filler       Filler
	DSLPath      string
	SourceFile   string
}

const defaultGridMinutes = 30

var includeLinePattern = regexp.MustCompile(`(?m)^([ \t]*[^\s:][^:]*:[ \t]*)!include[ \t]+(\S+)[ \t]*$`)

// LoadDirectory scans dir for *.yaml files, skipping any whose name
// starts with "_", and parses each into a Config keyed by channel ID.
// A file that fails to parse is skipped with its error recorded rather
// than aborting the whole scan, matching the provider's per-file
// isolation.
func LoadDirectory(dir string) (map[string]*Config, []error) {
	configs := make(map[string]*Config)
	var errs []error

	entries, err := os.ReadDir(dir)
	if err != nil {
		return configs, []error{fmt.Errorf("channelconfig: read dir %s: %w", dir, err)}
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		if strings.HasPrefix(e.Name(), "_") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		cfg, err := LoadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("channelconfig: %s: %w", name, err))
			continue
		}
		configs[cfg.ChannelID] = cfg
	}
	return configs, errs
}

// LoadFile parses a single channel config file, resolving any !include
// directives relative to its containing directory.
func LoadFile(path string) (*Config, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	resolved, err := resolveIncludes(text, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve includes: %w", err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(resolved, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if raw.Channel == "" {
		return nil, fmt.Errorf("missing required field: channel")
	}
	if raw.ChannelNum == 0 {
		return nil, fmt.Errorf("missing required field: channel_number")
	}

	name := raw.Name
	if name == "" {
		name = titleize(raw.Channel)
	}
	gridMinutes := raw.GridMinutes
	if gridMinutes == 0 {
		gridMinutes = defaultGridMinutes
	}
	tz := raw.Timezone
	if tz == "" {
		tz = "UTC"
	}
	filler := raw.Filler
	if filler.Path == "" {
		filler.Path = "/opt/retrovue/assets/filler.mp4"
	}
	if filler.DurationMS == 0 {
		filler.DurationMS = 3650000
	}
	dslPath := raw.DSLPath
	if dslPath == "" {
		dslPath = path
	}

	return &Config{
		ChannelID:   raw.Channel,
		ChannelNum:  raw.ChannelNum,
		Name:        name,
		Format:      raw.Format,
		GridMinutes: gridMinutes,
		Timezone:    tz,
		Filler:      filler,
		DSLPath:     dslPath,
		SourceFile:  path,
	}, nil
}

func titleize(slug string) string {
	slug = strings.ReplaceAll(slug, "-", " ")
	slug = strings.ReplaceAll(slug, "_", " ")
	words := strings.Fields(slug)
	for i, w := range words {
		if len(w) == 0 {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// resolveIncludes rewrites every `key: !include target[:dotted.key]` line
// in text, replacing the scalar with the loaded (and optionally
// key-path-narrowed) document from target, resolved relative to baseDir.
// go.yaml.in/yaml/v2 resolves custom scalar tags into plain strings
// before Unmarshal sees them, so unlike the original's tag-constructor
// hook this substitution happens as a text rewrite pass before parsing.
func resolveIncludes(text []byte, baseDir string) ([]byte, error) {
	var rewriteErr error
	out := includeLinePattern.ReplaceAllFunc(text, func(match []byte) []byte {
		if rewriteErr != nil {
			return match
		}
		groups := includeLinePattern.FindSubmatch(match)
		prefix := string(groups[1])
		target := string(groups[2])

		filePart, keyPath := target, ""
		if idx := strings.Index(target, ":"); idx >= 0 && !strings.HasPrefix(target, "/") {
			filePart, keyPath = target[:idx], target[idx+1:]
		}

		data, err := loadIncludeValue(filepath.Join(baseDir, filePart), keyPath)
		if err != nil {
			rewriteErr = err
			return match
		}

		block, err := yaml.Marshal(data)
		if err != nil {
			rewriteErr = fmt.Errorf("marshal include %s: %w", target, err)
			return match
		}
		indent := leadingWhitespace(prefix)
		return []byte(prefix + "\n" + indentBlock(string(block), indent+"  "))
	})
	if rewriteErr != nil {
		return nil, rewriteErr
	}
	return out, nil
}

func loadIncludeValue(path, keyPath string) (interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("include file not found: %s", path)
	}
	var data interface{}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse include %s: %w", path, err)
	}
	if keyPath == "" {
		return data, nil
	}
	for _, key := range strings.Split(keyPath, ".") {
		m, ok := data.(map[interface{}]interface{})
		if !ok {
			return nil, fmt.Errorf("cannot traverse key %q in %s", key, path)
		}
		data, ok = m[key]
		if !ok {
			return nil, fmt.Errorf("key %q not found in %s", key, path)
		}
	}
	return data, nil
}

func leadingWhitespace(s string) string {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return s[:i]
}

func indentBlock(block, indent string) string {
	lines := strings.Split(strings.TrimRight(block, "\n"), "\n")
	for i, l := range lines {
		lines[i] = indent + l
	}
	return strings.Join(lines, "\n")
}
