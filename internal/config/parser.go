package config

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cfschilham/kryer/internal/platform"
	lua "github.com/yuin/gopher-lua"
)

// Parser loads installer configs written in Lua. Scripts see a read-only
// platform table describing the host.
type Parser struct {
	detector platform.Detector
	log      Logger
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithLogger sets the logger used for config diagnostics.
func WithLogger(l Logger) ParserOption {
	return func(p *Parser) {
		if l != nil {
			p.log = l
		}
	}
}

// NewParser creates a config parser. A nil detector leaves the platform
// table undefined.
func NewParser(detector platform.Detector, opts ...ParserOption) *Parser {
	p := &Parser{detector: detector, log: noopLogger{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseFile reads the Lua file at path and overlays it onto base.
// The result is not validated; callers validate after applying flags.
func (p *Parser) ParseFile(ctx context.Context, path string, base Config) (Config, error) {
	path, err := ExpandHome(path)
	if err != nil {
		return base, err
	}

	f, err := os.Open(path)
	if err != nil {
		return base, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileSize+1))
	if err != nil {
		return base, fmt.Errorf("read config %s: %w", path, err)
	}
	if len(data) > MaxConfigFileSize {
		return base, &ParseError{
			Message: "config file too large",
			Detail:  fmt.Sprintf("%s exceeds %d bytes", path, MaxConfigFileSize),
			File:    path,
		}
	}

	for _, finding := range DetectSensitiveData(string(data)) {
		p.log.Warn("possible secret in config file",
			"path", path, "line", finding.Line, "kind", finding.PatternName, "preview", finding.Preview)
	}

	cfg, err := p.ParseString(ctx, string(data), base)
	if err != nil {
		if pe, ok := err.(*ParseError); ok && pe.File == "" {
			pe.File = path
		}
		return base, err
	}
	p.log.Debug("loaded config file", "path", path)
	return cfg, nil
}

// ParseString runs luaCode and overlays the keys of its global installer
// table onto base. Keys the script does not set keep their base value.
func (p *Parser) ParseString(ctx context.Context, luaCode string, base Config) (Config, error) {
	L := newSandboxedVM()
	defer L.Close()
	L.SetContext(ctx)

	if p.detector != nil {
		info, err := p.detector.Detect(ctx)
		if err != nil {
			return base, fmt.Errorf("platform detection failed: %w", err)
		}
		if err := platform.InjectPlatformTable(L, info); err != nil {
			return base, fmt.Errorf("inject platform table: %w", err)
		}
	}

	if err := L.DoString(luaCode); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return base, ctxErr
		}
		return base, &ParseError{
			Message: "Lua syntax error",
			Detail:  err.Error(),
		}
	}

	return p.extractConfig(L, base)
}

// ParseError represents a config parsing error with friendly message.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details (raw Lua error)
	File    string
}

func (e *ParseError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %s", e.File, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// FormatError formats err for display. Unless verbose, Lua stack tracebacks
// are dropped.
func FormatError(err error, verbose bool) string {
	pe, ok := err.(*ParseError)
	if !ok {
		return err.Error()
	}
	prefix := pe.Message
	if pe.File != "" {
		prefix = pe.File + ": " + prefix
	}
	if verbose {
		return fmt.Sprintf("%s\n\nDetails:\n%s", prefix, pe.Detail)
	}
	detail := pe.Detail
	if idx := strings.Index(detail, "stack traceback"); idx > 0 {
		detail = strings.TrimSpace(detail[:idx])
	}
	return fmt.Sprintf("%s: %s", prefix, detail)
}

type fieldSetter func(c *Config, v lua.LValue) error

var fieldSetters = map[string]fieldSetter{
	luaFieldProject:          stringField(func(c *Config) *string { return &c.Project }),
	luaFieldBinary:           stringField(func(c *Config) *string { return &c.Binary }),
	luaFieldAPIURL:           stringField(func(c *Config) *string { return &c.APIURL }),
	luaFieldInstallPath:      pathField(func(c *Config) *string { return &c.InstallPath }),
	luaFieldScratchDir:       pathField(func(c *Config) *string { return &c.ScratchDir }),
	luaFieldConfigDir:        pathField(func(c *Config) *string { return &c.ConfigDir }),
	luaFieldConfigSubdir:     stringField(func(c *Config) *string { return &c.ConfigSubdir }),
	luaFieldArchiveFormat:    stringField(func(c *Config) *string { return &c.ArchiveFormat }),
	luaFieldNonInteractive:   boolField(func(c *Config) *bool { return &c.NonInteractive }),
	luaFieldChecksum:         stringField(func(c *Config) *string { return &c.Checksum }),
	luaFieldPGPKeyring:       pathField(func(c *Config) *string { return &c.PGPKeyring }),
	luaFieldMinisignKey:      pathField(func(c *Config) *string { return &c.MinisignKey }),
	luaFieldRequireSignature: boolField(func(c *Config) *bool { return &c.RequireSignature }),
	luaFieldTimeout:          setTimeout,
	luaFieldRetries:          setRetries,
	luaFieldLogLevel:         stringField(func(c *Config) *string { return &c.LogLevel }),
}

// extractConfig expects a global "installer" table.
func (p *Parser) extractConfig(L *lua.LState, base Config) (Config, error) {
	v := L.GetGlobal(luaGlobalInstaller)
	table, ok := v.(*lua.LTable)
	if !ok {
		return base, &ParseError{
			Message: "missing or invalid 'installer' table",
			Detail:  fmt.Sprintf("expected table, got %s", v.Type()),
		}
	}

	cfg := base
	var firstErr error
	table.ForEach(func(key, value lua.LValue) {
		if firstErr != nil {
			return
		}
		name, ok := key.(lua.LString)
		if !ok {
			firstErr = &ParseError{
				Message: "invalid key in 'installer' table",
				Detail:  fmt.Sprintf("expected string key, got %s", key.Type()),
			}
			return
		}
		set, ok := fieldSetters[string(name)]
		if !ok {
			firstErr = &ParseError{
				Message: fmt.Sprintf("unknown key '%s' in 'installer' table", name),
				Detail:  "known keys: " + strings.Join(knownKeys(), ", "),
			}
			return
		}
		if err := set(&cfg, value); err != nil {
			firstErr = &ParseError{
				Message: fmt.Sprintf("invalid value for '%s'", name),
				Detail:  err.Error(),
			}
			return
		}
		p.log.Debug("config key set", "key", string(name))
	})
	if firstErr != nil {
		return base, firstErr
	}
	return cfg, nil
}

func knownKeys() []string {
	keys := make([]string, 0, len(fieldSetters))
	for k := range fieldSetters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringField(field func(*Config) *string) fieldSetter {
	return func(c *Config, v lua.LValue) error {
		s, ok := v.(lua.LString)
		if !ok {
			return fmt.Errorf("expected string, got %s", v.Type())
		}
		*field(c) = string(s)
		return nil
	}
}

func pathField(field func(*Config) *string) fieldSetter {
	return func(c *Config, v lua.LValue) error {
		s, ok := v.(lua.LString)
		if !ok {
			return fmt.Errorf("expected string, got %s", v.Type())
		}
		expanded, err := ExpandHome(string(s))
		if err != nil {
			return err
		}
		*field(c) = expanded
		return nil
	}
}

func boolField(field func(*Config) *bool) fieldSetter {
	return func(c *Config, v lua.LValue) error {
		b, ok := v.(lua.LBool)
		if !ok {
			return fmt.Errorf("expected boolean, got %s", v.Type())
		}
		*field(c) = bool(b)
		return nil
	}
}

// setTimeout reads a number of seconds; fractions are allowed.
func setTimeout(c *Config, v lua.LValue) error {
	n, ok := v.(lua.LNumber)
	if !ok {
		return fmt.Errorf("expected number of seconds, got %s", v.Type())
	}
	secs := float64(n)
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs > MaxTimeoutSeconds || secs < -MaxTimeoutSeconds {
		return fmt.Errorf("timeout out of range: %v", secs)
	}
	c.Timeout = time.Duration(secs * float64(time.Second))
	return nil
}

func setRetries(c *Config, v lua.LValue) error {
	n, ok := v.(lua.LNumber)
	if !ok {
		return fmt.Errorf("expected integer, got %s", v.Type())
	}
	f := float64(n)
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return fmt.Errorf("expected integer, got %v", f)
	}
	c.Retries = int(f)
	return nil
}
