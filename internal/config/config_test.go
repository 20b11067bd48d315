package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/domwait/internal/dbopen"
	"github.com/hazyhaar/domwait/internal/htmldom"
	"github.com/hazyhaar/domwait/recognize"
)

const scenario = `
url: https://example.com/app
browser:
  stealth: false
  timeout: 5s
recognizers:
  - name: panel
    target: "//div[@id='root']"
    added_child:
      name: div
      attributes: {class: panel}
    async: true
  - target: "//div[@id='root']"
    changed_attribute: aria-expanded
    timeout: 2s
sinks:
  - type: stdout
  - type: sqlite
    path: out.db
debug_addr: 127.0.0.1:8089
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(scenario))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "https://example.com/app", cfg.URL)
	require.False(t, cfg.Browser.StealthEnabled())
	require.Equal(t, 5*time.Second, cfg.Browser.Timeout)
	require.Equal(t, DefaultWindow, cfg.Debounce.Window)
	require.Equal(t, 1000, cfg.Debounce.MaxBuffer)
	require.Equal(t, "127.0.0.1:8089", cfg.DebugAddr)

	require.Len(t, cfg.Recognizers, 2)
	panel := cfg.Recognizers[0]
	require.Equal(t, "panel", panel.Name)
	require.Equal(t, &recognize.Shape{Name: "div", Attributes: map[string]string{"class": "panel"}}, panel.AddedChild)
	require.Equal(t, recognize.DefaultDelay, panel.Delay)
	require.Equal(t, DefaultTimeout, panel.Timeout)

	second := cfg.Recognizers[1]
	require.Equal(t, "recognizer-2", second.Name)
	require.Equal(t, 2*time.Second, second.Timeout)
	require.Zero(t, second.Delay)

	require.Len(t, cfg.Sinks, 2)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.True(t, cfg.Browser.StealthEnabled())
	require.Equal(t, DefaultTimeout, cfg.Browser.Timeout)
	require.Equal(t, []SinkConfig{{Type: "stdout"}}, cfg.Sinks)
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("recognizers:\n  - name: x\n    added_chlid: {name: div}\n"))
	require.ErrorContains(t, err, "added_chlid")
}

func TestValidate(t *testing.T) {
	cfg, err := Parse([]byte(`
recognizers:
  - name: a
    target: "//body"
    text: hi
  - name: a
    text: hi
  - name: empty
    target: "//body"
sinks:
  - type: webhook
  - type: nats
`))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	require.ErrorIs(t, err, recognize.ErrEmptyPattern)
	for _, want := range []string{"duplicate name", "target is required", "url is required", `unknown sink type "nats"`} {
		require.ErrorContains(t, err, want)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(scenario), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, cfg.Recognizers, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRecognizerConfig_Pattern(t *testing.T) {
	d, err := htmldom.ParseString(`<div id="root"></div>`)
	require.NoError(t, err)
	root := d.ByID("root")

	rc := RecognizerConfig{RemovedChild: &recognize.Shape{Name: "li"}, Text: "x"}
	p := rc.Pattern(root)
	require.Same(t, root, p.Target)
	require.Equal(t, "li", p.RemovedChild.Name)
	require.Equal(t, "x", p.Text)
	require.NoError(t, p.Validate())
}

func TestRecognizersDB(t *testing.T) {
	ctx := context.Background()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))

	require.NoError(t, UpsertRecognizer(ctx, db, RecognizerConfig{
		Name:       "toast",
		Target:     "//body",
		AddedChild: &recognize.Shape{Name: "div", Attributes: map[string]string{"role": "alert"}},
		Async:      true,
		Delay:      50 * time.Millisecond,
	}))
	require.NoError(t, UpsertRecognizer(ctx, db, RecognizerConfig{
		Name:             "menu",
		Target:           "//nav",
		ChangedAttribute: "aria-expanded",
		Timeout:          3 * time.Second,
	}))
	// Upsert replaces.
	require.NoError(t, UpsertRecognizer(ctx, db, RecognizerConfig{
		Name:             "menu",
		Target:           "//nav[@id='main']",
		ChangedAttribute: "aria-expanded",
	}))
	_, err := db.Exec(`INSERT INTO recognizers (name, target, text, status, updated_at) VALUES ('old', '//x', 'y', 'disabled', 0)`)
	require.NoError(t, err)

	got, err := LoadRecognizers(ctx, db)
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Equal(t, "menu", got[0].Name)
	require.Equal(t, "//nav[@id='main']", got[0].Target)
	require.Nil(t, got[0].AddedChild)
	require.Equal(t, DefaultTimeout, got[0].Timeout)

	require.Equal(t, "toast", got[1].Name)
	require.Equal(t, "alert", got[1].AddedChild.Attributes["role"])
	require.True(t, got[1].Async)
	require.Equal(t, 50*time.Millisecond, got[1].Delay)

	cfg := &Config{Recognizers: []RecognizerConfig{{Name: "menu", Target: "//file"}}}
	cfg.Merge(got)
	require.Len(t, cfg.Recognizers, 2)
	require.Equal(t, "//file", cfg.Recognizers[0].Target)
	require.Equal(t, "toast", cfg.Recognizers[1].Name)
}

func TestRecognizersDB_BadShape(t *testing.T) {
	ctx := context.Background()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	_, err := db.Exec(`INSERT INTO recognizers (name, target, added_child, updated_at) VALUES ('bad', '//x', '{', 0)`)
	require.NoError(t, err)

	_, err = LoadRecognizers(ctx, db)
	require.ErrorContains(t, err, `recognizer "bad" added_child`)
}
