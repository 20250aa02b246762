package channelconfig

import (
	"fmt"
	"os"
	"sync"

	"github.com/retrovue/retrovue-core/internal/dsl"
	"github.com/retrovue/retrovue-core/internal/filler"
)

// Provider adapts a directory of channel config files into the
// schedule.DocumentSource and schedule.FillerSource interfaces the
// schedule service depends on, plus a Reload that rescans the directory
// on demand (nothing watches the directory for changes).
type Provider struct {
	dir string

	mu      sync.RWMutex
	configs map[string]*Config
}

// NewProvider loads dir once via LoadDirectory. Load errors for
// individual files are returned but do not prevent the provider from
// serving the channels that did parse successfully.
func NewProvider(dir string) (*Provider, []error) {
	configs, errs := LoadDirectory(dir)
	return &Provider{dir: dir, configs: configs}, errs
}

// Reload rescans the directory, replacing the in-memory config set.
// Channels removed from disk stop being servable; channels whose file
// changed pick up the new values on the next Document/ChannelConfig call.
func (p *Provider) Reload() []error {
	configs, errs := LoadDirectory(p.dir)
	p.mu.Lock()
	p.configs = configs
	p.mu.Unlock()
	return errs
}

// ChannelConfig returns the loaded Config for a channel, if any.
func (p *Provider) ChannelConfig(channelID string) (*Config, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cfg, ok := p.configs[channelID]
	return cfg, ok
}

// ChannelIDs returns every currently loaded channel ID.
func (p *Provider) ChannelIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.configs))
	for id := range p.configs {
		ids = append(ids, id)
	}
	return ids
}

// Document implements schedule.DocumentSource: it re-reads and parses
// the channel's DSL file on every call, since compilation already only
// happens at horizon-extension cadence, not per tick.
func (p *Provider) Document(channelID string) (*dsl.Document, error) {
	cfg, ok := p.ChannelConfig(channelID)
	if !ok {
		return nil, fmt.Errorf("channelconfig: no config for channel %q", channelID)
	}
	text, err := os.ReadFile(cfg.DSLPath)
	if err != nil {
		return nil, fmt.Errorf("channelconfig: read dsl %s: %w", cfg.DSLPath, err)
	}
	return dsl.ParseDSL(text)
}

// Pool implements schedule.FillerSource: each channel's filler config
// names exactly one looping filler asset.
func (p *Provider) Pool(channelID string) []filler.Asset {
	cfg, ok := p.ChannelConfig(channelID)
	if !ok {
		return nil
	}
	return []filler.Asset{{URI: cfg.Filler.Path, DurationMS: cfg.Filler.DurationMS}}
}

// Pad implements schedule.FillerSource: a synthesized black+silence pad
// (no URI) carrying the channel's filler duration.
func (p *Provider) Pad(channelID string) filler.PadAsset {
	cfg, ok := p.ChannelConfig(channelID)
	if !ok {
		return filler.PadAsset{}
	}
	return filler.PadAsset{DurationMS: cfg.Filler.DurationMS}
}
