package config

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Generator renders a Config as a Lua file that ParseString reads back to
// the same values.
type Generator struct {
	indent string
}

// NewGenerator creates a new Lua config generator.
func NewGenerator() *Generator {
	return &Generator{indent: "  "}
}

// Generate renders config. Empty optional fields are written as comments so
// the output doubles as a template.
func (g *Generator) Generate(config *Config) string {
	var buf bytes.Buffer

	buf.WriteString("-- kryer-install configuration\n")
	buf.WriteString("-- A read-only `platform` table describes the host, e.g.\n")
	buf.WriteString("--   install_path = platform.when(platform.is_linux, \"/opt/kryer/kryer\"),\n\n")
	buf.WriteString(luaGlobalInstaller + " = {\n")

	g.writeString(&buf, luaFieldProject, config.Project)
	g.writeString(&buf, luaFieldBinary, config.Binary)
	g.writeString(&buf, luaFieldAPIURL, config.APIURL)
	buf.WriteString("\n")

	g.writeString(&buf, luaFieldInstallPath, config.InstallPath)
	g.writeString(&buf, luaFieldScratchDir, config.ScratchDir)
	g.writeString(&buf, luaFieldConfigDir, config.ConfigDir)
	g.writeString(&buf, luaFieldConfigSubdir, config.ConfigSubdir)
	g.writeString(&buf, luaFieldArchiveFormat, config.ArchiveFormat)
	buf.WriteString("\n")

	g.writeField(&buf, luaFieldNonInteractive, strconv.FormatBool(config.NonInteractive))
	g.writeString(&buf, luaFieldChecksum, config.Checksum)
	g.writeString(&buf, luaFieldPGPKeyring, config.PGPKeyring)
	g.writeString(&buf, luaFieldMinisignKey, config.MinisignKey)
	g.writeField(&buf, luaFieldRequireSignature, strconv.FormatBool(config.RequireSignature))
	buf.WriteString("\n")

	g.writeField(&buf, luaFieldTimeout, strconv.FormatFloat(config.Timeout.Seconds(), 'f', -1, 64))
	g.writeField(&buf, luaFieldRetries, strconv.Itoa(config.Retries))
	g.writeString(&buf, luaFieldLogLevel, config.LogLevel)

	buf.WriteString("}\n")
	return buf.String()
}

func (g *Generator) writeString(buf *bytes.Buffer, key, value string) {
	if value == "" {
		fmt.Fprintf(buf, "%s-- %s = \"\",\n", g.indent, key)
		return
	}
	g.writeField(buf, key, g.quoteLuaString(value))
}

func (g *Generator) writeField(buf *bytes.Buffer, key, literal string) {
	fmt.Fprintf(buf, "%s%s = %s,\n", g.indent, key, literal)
}

// quoteLuaString quotes a string for Lua, handling special characters.
func (g *Generator) quoteLuaString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\") // backslashes first
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return "\"" + s + "\""
}
