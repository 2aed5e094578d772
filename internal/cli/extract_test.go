package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/btr/lib/protocol"
)

const groceriesPage = `<!DOCTYPE html><html><head><title>Groceries</title></head><body>` +
	`<h1 f-signal="title">Groceries</h1>` +
	`<ul f-repeat="items" w-component="todo-item"><todo-item><template shadowrootmode="open">` +
	`<link rel="stylesheet" href="./todo-item.css"><li><span f-signal="text"></span></li>` +
	`</template><span slot="text">Milk</span></todo-item></ul>` +
	`</body></html>`

// writeSite writes the groceries page and its component stylesheet to a
// temporary directory and returns the page path.
func writeSite(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	page := filepath.Join(dir, "index.html")
	require.NoError(t, os.WriteFile(page, []byte(groceriesPage), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "todo-item.css"), []byte("li { color: red; }\n"), 0o644))
	return page
}

func TestExtract_WritesProtocol(t *testing.T) {
	page := writeSite(t)
	dir := filepath.Dir(page)

	out, stderr, err := execute(t, "extract", page)
	require.NoError(t, err)
	assert.Empty(t, stderr)
	assert.Contains(t, out, "wrote "+filepath.Join(dir, "index.streams.json"))

	proto, err := protocol.Load(filepath.Join(dir, "index.streams.json"))
	require.NoError(t, err)
	require.NoError(t, proto.Validate())

	assert.Equal(t, []protocol.Chunk{
		protocol.Raw(`<!DOCTYPE html><html><head><title>Groceries</title></head><body><h1 f-signal="title">`),
		protocol.SignalDefault("title", "Groceries"),
		protocol.Raw(`</h1><ul f-repeat="items" w-component="todo-item">`),
		protocol.Repeat("items", "todo-item"),
		protocol.Raw(`</ul></body></html>`),
	}, proto.Streams)

	tpl, ok := proto.Template("todo-item")
	require.True(t, ok)
	assert.Equal(t, "li { color: red; }", tpl.Style)

	templates, err := os.ReadFile(filepath.Join(dir, "index.templates.json"))
	require.NoError(t, err)
	assert.Contains(t, string(templates), `"todo-item"`)
}

func TestExtract_DebugAndSeeds(t *testing.T) {
	page := writeSite(t)
	out := t.TempDir()

	_, _, err := execute(t, "extract", page, "-o", out, "--debug", "--seeds")
	require.NoError(t, err)

	debug, err := os.ReadFile(filepath.Join(out, "index.debug.html"))
	require.NoError(t, err)
	assert.Contains(t, string(debug), `<h1 f-signal="title">Groceries</h1>`)

	seeds, err := os.ReadFile(filepath.Join(out, "index.state.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"title": "Groceries"}`, string(seeds))
}

func TestExtract_DiagnosticsUnderStrict(t *testing.T) {
	dir := t.TempDir()
	page := filepath.Join(dir, "card.html")
	markup := `<html><head><title>t</title></head><body><my-card><template shadowrootmode="open">` +
		`<link rel="stylesheet" href="./my-card.css"><p>hi</p></template></my-card></body></html>`
	require.NoError(t, os.WriteFile(page, []byte(markup), 0o644))

	_, stderr, err := execute(t, "extract", page)
	require.NoError(t, err, "diagnostics are warnings by default")
	assert.Contains(t, stderr, "warning:")

	_, _, err = execute(t, "extract", page, "--strict")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestExtract_MissingPage(t *testing.T) {
	_, _, err := execute(t, "extract", filepath.Join(t.TempDir(), "missing.html"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestExtract_SnapshotNeedsKey(t *testing.T) {
	page := writeSite(t)
	t.Setenv("BTR_SNAPSHOT_KEY", "")

	_, _, err := execute(t, "extract", page, "--snapshot")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "BTR_SNAPSHOT_KEY")
}
