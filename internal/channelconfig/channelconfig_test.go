package channelconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadFile_appliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "nightmare-theater.yaml", `
channel: nightmare-theater
channel_number: 7
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Name != "Nightmare Theater" {
		t.Errorf("Name = %q, want titleized slug", cfg.Name)
	}
	if cfg.GridMinutes != defaultGridMinutes {
		t.Errorf("GridMinutes = %d, want default %d", cfg.GridMinutes, defaultGridMinutes)
	}
	if cfg.Timezone != "UTC" {
		t.Errorf("Timezone = %q, want UTC default", cfg.Timezone)
	}
}

func TestLoadFile_missingChannelFieldErrors(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.yaml", "channel_number: 1\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected error for missing channel field")
	}
}

func TestLoadDirectory_skipsUnderscorePrefixedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "_template.yaml", "channel: tmpl\nchannel_number: 1\n")
	writeFile(t, dir, "retro1.yaml", "channel: retro1\nchannel_number: 2\n")

	configs, errs := LoadDirectory(dir)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if _, ok := configs["tmpl"]; ok {
		t.Error("expected _template.yaml to be skipped")
	}
	if _, ok := configs["retro1"]; !ok {
		t.Error("expected retro1.yaml to load")
	}
}

func TestResolveIncludes_wholeFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "common.yaml", "width: 1920\nheight: 1080\n")
	path := writeFile(t, dir, "retro2.yaml", `
channel: retro2
channel_number: 3
format:
  video: !include common.yaml
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Format.Video.Width != 1920 || cfg.Format.Video.Height != 1080 {
		t.Errorf("Format.Video = %+v, want width=1920 height=1080 from include", cfg.Format.Video)
	}
}

func TestResolveIncludes_dottedKeyPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "shared.yaml", "format:\n  video:\n    width: 1280\n    height: 720\n")
	path := writeFile(t, dir, "retro3.yaml", `
channel: retro3
channel_number: 4
format:
  video: !include shared.yaml:format.video
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Format.Video.Width != 1280 {
		t.Errorf("Format.Video.Width = %d, want 1280 from dotted-key include", cfg.Format.Video.Width)
	}
}

func TestProvider_poolAndPadReflectFillerConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "retro4.yaml", `
channel: retro4
channel_number: 5
filler:
  path: /media/filler.mp4
  duration_ms: 600000
`)
	p, errs := NewProvider(dir)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	pool := p.Pool("retro4")
	if len(pool) != 1 || pool[0].URI != "/media/filler.mp4" || pool[0].DurationMS != 600000 {
		t.Errorf("Pool(retro4) = %+v, want single filler.mp4 asset", pool)
	}
	pad := p.Pad("retro4")
	if pad.DurationMS != 600000 {
		t.Errorf("Pad(retro4).DurationMS = %d, want 600000", pad.DurationMS)
	}
}
