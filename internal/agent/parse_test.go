package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const demoDescriptor = `
[agent]
id = "demo"
name = "Demo Agent"
description = "Used in tests"
command = "demo"
requires_authentication = true

[requires]
capabilities = ["ssh-forwarding", "gpu", "gpu"]

[paths]
config_dir = ".demo"
context_file = "DEMO.md"
mcp_config_file = ".demo/mcp.json"

[install]
inline = """
set -e
echo installing
"""

[authenticate]
file = "scripts/auth.sh"

[deploy]
inline = "echo deploy"
`

func TestParse_FullDescriptor(t *testing.T) {
	def, err := Parse([]byte(demoDescriptor))
	require.NoError(t, err)

	assert.Equal(t, "demo", def.ID)
	assert.Equal(t, "Demo Agent", def.Name)
	assert.Equal(t, "Used in tests", def.Description)
	assert.Equal(t, "demo", def.Command)
	assert.True(t, def.RequiresAuthentication)
	assert.Equal(t, []string{"gpu", "ssh-forwarding"}, def.Capabilities)
	assert.Equal(t, Paths{ConfigDir: ".demo", ContextFile: "DEMO.md", MCPConfigFile: ".demo/mcp.json"}, def.Paths)
	assert.Equal(t, InlineScript{Body: "set -e\necho installing\n"}, def.Install)
	assert.Equal(t, FileScript{Path: "scripts/auth.sh"}, def.Authenticate)
	assert.Equal(t, InlineScript{Body: "echo deploy"}, def.Deploy)
	assert.Empty(t, def.Origin)
}

func TestParse_OptionalSectionsAbsent(t *testing.T) {
	def, err := Parse([]byte(`
[agent]
id = "bare"
name = "Bare"
description = ""
command = "bare"

[paths]
config_dir = ".bare"
context_file = "BARE.md"
mcp_config_file = ".bare/mcp.json"
`))
	require.NoError(t, err)
	assert.False(t, def.RequiresAuthentication)
	assert.Nil(t, def.Capabilities)
	assert.Nil(t, def.Install)
	assert.Nil(t, def.Authenticate)
	assert.Nil(t, def.Deploy)
}

func TestParse_Errors(t *testing.T) {
	const paths = `
[paths]
config_dir = ".x"
context_file = "X.md"
mcp_config_file = ".x/mcp.json"
`
	tests := []struct {
		name  string
		doc   string
		check func(t *testing.T, err error)
	}{
		{
			name: "missing id",
			doc:  "[agent]\nname = \"x\"\ndescription = \"\"\ncommand = \"x\"\n" + paths,
			check: func(t *testing.T, err error) {
				var sv *SchemaViolationError
				require.ErrorAs(t, err, &sv)
				assert.Equal(t, "agent.id", sv.Field)
				assert.Equal(t, ReasonMissing, sv.Reason)
			},
		},
		{
			name: "empty id",
			doc:  "[agent]\nid = \"\"\nname = \"x\"\ndescription = \"\"\ncommand = \"x\"\n" + paths,
			check: func(t *testing.T, err error) {
				var sv *SchemaViolationError
				require.ErrorAs(t, err, &sv)
				assert.Equal(t, "agent.id", sv.Field)
				assert.Equal(t, ReasonEmpty, sv.Reason)
			},
		},
		{
			name: "missing command",
			doc:  "[agent]\nid = \"x\"\nname = \"x\"\ndescription = \"\"\n" + paths,
			check: func(t *testing.T, err error) {
				var sv *SchemaViolationError
				require.ErrorAs(t, err, &sv)
				assert.Equal(t, "agent.command", sv.Field)
			},
		},
		{
			name: "missing paths table",
			doc:  "[agent]\nid = \"x\"\nname = \"x\"\ndescription = \"\"\ncommand = \"x\"\n",
			check: func(t *testing.T, err error) {
				var sv *SchemaViolationError
				require.ErrorAs(t, err, &sv)
				assert.Equal(t, "paths.config_dir", sv.Field)
			},
		},
		{
			name: "absolute config dir",
			doc:  "[agent]\nid = \"x\"\nname = \"x\"\ndescription = \"\"\ncommand = \"x\"\n[paths]\nconfig_dir = \"/etc/x\"\ncontext_file = \"X.md\"\nmcp_config_file = \"m.json\"\n",
			check: func(t *testing.T, err error) {
				var sv *SchemaViolationError
				require.ErrorAs(t, err, &sv)
				assert.Equal(t, "paths.config_dir", sv.Field)
				assert.Equal(t, ReasonInvalid, sv.Reason)
			},
		},
		{
			name: "unknown top-level key",
			doc:  "[agent]\nid = \"x\"\nname = \"x\"\ndescription = \"\"\ncommand = \"x\"\n" + paths + "\n[instal]\ninline = \"echo\"\n",
			check: func(t *testing.T, err error) {
				var uk *UnknownKeyError
				require.ErrorAs(t, err, &uk)
				require.NotEmpty(t, uk.Keys)
				assert.Contains(t, uk.Error(), "instal")
			},
		},
		{
			name: "unknown nested key",
			doc:  "[agent]\nid = \"x\"\nname = \"x\"\ndescription = \"\"\ncommand = \"x\"\nversion = 2\n" + paths,
			check: func(t *testing.T, err error) {
				var uk *UnknownKeyError
				require.ErrorAs(t, err, &uk)
				require.NotEmpty(t, uk.Keys)
				assert.Contains(t, uk.Error(), "version")
			},
		},
		{
			name: "script with both inline and file",
			doc:  "[agent]\nid = \"x\"\nname = \"x\"\ndescription = \"\"\ncommand = \"x\"\n" + paths + "\n[deploy]\ninline = \"echo\"\nfile = \"d.sh\"\n",
			check: func(t *testing.T, err error) {
				var amb *ScriptConfigAmbiguousError
				require.ErrorAs(t, err, &amb)
				assert.Equal(t, "deploy", amb.Field)
				assert.True(t, amb.Both)
			},
		},
		{
			name: "script with neither",
			doc:  "[agent]\nid = \"x\"\nname = \"x\"\ndescription = \"\"\ncommand = \"x\"\n" + paths + "\n[install]\n",
			check: func(t *testing.T, err error) {
				var amb *ScriptConfigAmbiguousError
				require.ErrorAs(t, err, &amb)
				assert.Equal(t, "install", amb.Field)
				assert.False(t, amb.Both)
			},
		},
		{
			name: "bad capability tag",
			doc:  "[agent]\nid = \"x\"\nname = \"x\"\ndescription = \"\"\ncommand = \"x\"\n[requires]\ncapabilities = [\"GPU_0\"]\n" + paths,
			check: func(t *testing.T, err error) {
				var sv *SchemaViolationError
				require.ErrorAs(t, err, &sv)
				assert.Equal(t, "requires.capabilities", sv.Field)
			},
		},
		{
			name: "syntax error",
			doc:  "[agent\nid = ",
			check: func(t *testing.T, err error) {
				var de *DecodeError
				require.ErrorAs(t, err, &de)
				assert.Greater(t, de.Line, 0)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestParse_AgentIDCharset(t *testing.T) {
	doc := func(id string) []byte {
		return []byte(fmt.Sprintf(`
[agent]
id = %q
name = "x"
description = ""
command = "x"

[paths]
config_dir = ".x"
context_file = "X.md"
mcp_config_file = ".x/mcp.json"
`, id))
	}

	for _, id := range []string{"my_agent", "Claude", "gpt-5.1", "a"} {
		def, err := Parse(doc(id))
		require.NoError(t, err, id)
		assert.Equal(t, id, def.ID)
	}
	for _, id := range []string{"team/agent", "has space", "-leading", ".hidden"} {
		_, err := Parse(doc(id))
		var sv *SchemaViolationError
		require.ErrorAs(t, err, &sv, id)
		assert.Equal(t, ReasonInvalid, sv.Reason, id)
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	first, err := Parse([]byte(demoDescriptor))
	require.NoError(t, err)

	data, err := Marshal(first)
	require.NoError(t, err)

	second, err := Parse(data)
	require.NoError(t, err, "canonical form:\n%s", data)
	assert.Equal(t, first, second)

	again, err := Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(again))
}

func TestMarshal_DropsOrigin(t *testing.T) {
	def, err := Parse([]byte(demoDescriptor))
	require.NoError(t, err)

	data, err := Marshal(def.WithOrigin("/somewhere"))
	require.NoError(t, err)

	back, err := Parse(data)
	require.NoError(t, err)
	assert.Empty(t, back.Origin)
}

func TestParseFile_SetsOrigin(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "demo")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, DescriptorFile)
	require.NoError(t, os.WriteFile(path, []byte(demoDescriptor), 0o644))

	def, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, dir, def.Origin)
}

func TestDefinition_CloneIsIndependent(t *testing.T) {
	def, err := Parse([]byte(demoDescriptor))
	require.NoError(t, err)

	c := def.Clone()
	c.Capabilities[0] = "changed"
	assert.Equal(t, "gpu", def.Capabilities[0])
}

func TestDefinition_Script(t *testing.T) {
	def, err := Parse([]byte(demoDescriptor))
	require.NoError(t, err)

	assert.Equal(t, def.Install, def.Script(PhaseInstall))
	assert.Equal(t, def.Authenticate, def.Script(PhaseAuthenticate))
	assert.Equal(t, def.Deploy, def.Script(PhaseDeploy))
	assert.Equal(t, "<inline>", ScriptName(def.Install))
	assert.Equal(t, "scripts/auth.sh", ScriptName(def.Authenticate))
}
