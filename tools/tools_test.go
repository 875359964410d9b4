package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ianrichard/agentservice/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryActiveTools(t *testing.T) {
	registry := NewToolRegistry(&config.Config{})

	all, err := registry.GetActiveTools(nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range all {
		names = append(names, tool.Name())
	}
	assert.Equal(t, []string{"calculate", "execute_command", "list_files", "read_file", "write_file"}, names)

	subset, err := registry.GetActiveTools(&config.Toolset{Name: "math", Tools: []string{"calculate"}})
	require.NoError(t, err)
	require.Len(t, subset, 1)
	assert.Equal(t, "calculate", subset[0].Name())

	_, err = registry.GetActiveTools(&config.Toolset{Name: "bad", Tools: []string{"nope"}})
	assert.Error(t, err)
}

func TestToolParameters(t *testing.T) {
	for _, tool := range NewToolRegistry(&config.Config{}).All() {
		schema := tool.Parameters()
		assert.Equal(t, "object", schema["type"], tool.Name())
		assert.NotEmpty(t, schema["properties"], tool.Name())
	}

	schema := (&WriteFileTool{}).Parameters()
	assert.Equal(t, []string{"path", "content"}, schema["required"])
	_, hasRequired := (&ListFilesTool{}).Parameters()["required"]
	assert.False(t, hasRequired)
}

func TestIsPathRestricted(t *testing.T) {
	patterns := []string{".agentservice/**", "secrets/*.key"}
	tests := []struct {
		path string
		want bool
	}{
		{".agentservice/config.yaml", true},
		{"secrets/prod.key", true},
		{"secrets/nested/prod.key", false},
		{"main.go", false},
	}
	for _, tt := range tests {
		got, err := isPathRestricted(tt.path, patterns)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestIsCommandAllowed(t *testing.T) {
	allowed := []string{`^ls( .*)?$`, `go test( .*)?`, "ls", "[bad"}
	tests := []struct {
		cmd  string
		want bool
	}{
		{"ls -la", true},
		{"ls", true},
		{"  ls   -la ", true},
		{"go test ./...", true},
		{"go test", true},
		{"rm -rf /", false},
		{"rm -rf /tmp/x ls", false},
		{"cd /tmp && go test", false},
		{"go testify", false},
		{"[bad", true},
		{"   ", false},
	}
	for _, tt := range tests {
		got, err := isCommandAllowed(tt.cmd, allowed)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.cmd)
	}
}

func TestFileTools(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.MkdirAll("secrets", 0755))
	require.NoError(t, os.WriteFile("secrets/token", []byte("s3cret"), 0644))
	require.NoError(t, os.WriteFile("locked.txt", []byte("locked"), 0644))

	access := &config.FilesystemAccess{
		Hidden:   []string{"secrets", "secrets/**"},
		ReadOnly: []string{"locked.txt"},
	}
	ctx := context.Background()
	write := &WriteFileTool{fsAccess: access}
	read := &ReadFileTool{fsAccess: access}
	list := &ListFilesTool{fsAccess: access}

	out, err := write.Execute(ctx, map[string]interface{}{"path": "notes.txt", "content": "hello"})
	require.NoError(t, err)
	assert.Contains(t, out, "5 bytes")

	out, err = read.Execute(ctx, map[string]interface{}{"path": "notes.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	_, err = read.Execute(ctx, map[string]interface{}{"path": "secrets/token"})
	assert.ErrorContains(t, err, "hidden")

	_, err = write.Execute(ctx, map[string]interface{}{"path": "locked.txt", "content": "x"})
	assert.ErrorContains(t, err, "read-only")

	_, err = read.Execute(ctx, map[string]interface{}{})
	assert.Error(t, err)

	out, err = list.Execute(ctx, map[string]interface{}{})
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	assert.ElementsMatch(t, []string{"locked.txt", "notes.txt"}, lines)

	_, err = list.Execute(ctx, map[string]interface{}{"path": filepath.Join("secrets")})
	assert.ErrorContains(t, err, "hidden")
}

func TestFileToolsResolvePaths(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(".env", []byte("OPENAI_API_KEY=sk-secret"), 0644))
	require.NoError(t, os.MkdirAll("sub", 0755))
	require.NoError(t, os.Symlink(filepath.Join(dir, ".env"), "sub/link"))
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "other.txt"), []byte("other"), 0644))

	access := &config.FilesystemAccess{Hidden: []string{".env"}, ReadOnly: []string{"locked.txt"}}
	ctx := context.Background()
	read := &ReadFileTool{fsAccess: access}
	write := &WriteFileTool{fsAccess: access}

	for _, path := range []string{".env", "./.env", filepath.Join(dir, ".env"), "sub/../.env", "sub/link"} {
		_, err := read.Execute(ctx, map[string]interface{}{"path": path})
		assert.ErrorContains(t, err, "hidden", path)
	}

	_, err := read.Execute(ctx, map[string]interface{}{"path": filepath.Join(outside, "other.txt")})
	assert.ErrorContains(t, err, "outside the working directory")
	_, err = read.Execute(ctx, map[string]interface{}{"path": "../" + filepath.Base(outside) + "/other.txt"})
	assert.ErrorContains(t, err, "outside the working directory")

	_, err = write.Execute(ctx, map[string]interface{}{"path": filepath.Join(dir, "locked.txt"), "content": "x"})
	assert.ErrorContains(t, err, "read-only")

	out, err := write.Execute(ctx, map[string]interface{}{"path": filepath.Join(dir, "new.txt"), "content": "ok"})
	require.NoError(t, err)
	assert.Contains(t, out, "2 bytes")
}

func TestExecuteCommandTool(t *testing.T) {
	none := &ExecuteCommandTool{}
	assert.Contains(t, none.Description(), "No commands are currently allowed")
	_, err := none.Execute(context.Background(), map[string]interface{}{"command": "echo hi"})
	assert.ErrorContains(t, err, "not in the list")

	echo := &ExecuteCommandTool{allowedCommands: []string{"echo .*"}}
	assert.Contains(t, echo.Description(), "- echo .*")
	_, err = echo.Execute(context.Background(), map[string]interface{}{"command": "rm -rf /tmp/x echo hi"})
	assert.ErrorContains(t, err, "not in the list")
	out, err := echo.Execute(context.Background(), map[string]interface{}{"command": "echo hi"})
	require.NoError(t, err)
	assert.Contains(t, out, "hi")
}

func TestCalculateTool(t *testing.T) {
	calc := &CalculateTool{}
	tests := []struct {
		expression string
		want       string
		wantErr    bool
	}{
		{expression: "2+2", want: "4"},
		{expression: "(3 * 4) ** 2", want: "144"},
		{expression: "10 / 4", want: "2.5"},
		{expression: "7 % 3", want: "1"},
		{expression: "1 +", wantErr: true},
		{expression: `"text"`, wantErr: true},
		{expression: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			got, err := calc.Execute(context.Background(), map[string]interface{}{"expression": tt.expression})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
