package main

import (
	"fmt"
	"strings"
)

// cliOptions holds parsed command line flags. Pointer fields are nil when
// the flag was not given, so they only override the config when set.
type cliOptions struct {
	help        bool
	version     bool
	printConfig bool

	yes             bool
	skipChecksum    bool
	requireChecksum bool

	installPath *string
	scratchDir  *string
	configDir   *string
	configFile  *string
	project     *string
	apiURL      *string
	logLevel    *string
}

// usageError is a problem with the command line itself.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// parseArgs accepts "--flag value" and "--flag=value" for flags that take a
// value.
func parseArgs(args []string) (*cliOptions, error) {
	o := &cliOptions{}

	valueFlags := map[string]**string{
		"--install-path": &o.installPath,
		"--scratch-dir":  &o.scratchDir,
		"--config-dir":   &o.configDir,
		"--config":       &o.configFile,
		"--project":      &o.project,
		"--api-url":      &o.apiURL,
		"--log-level":    &o.logLevel,
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")

		if dst, ok := valueFlags[name]; ok {
			if !hasValue {
				if i+1 >= len(args) {
					return nil, usageErrorf("flag %s requires a value", name)
				}
				i++
				value = args[i]
			}
			v := value
			*dst = &v
			continue
		}

		if hasValue && strings.HasPrefix(arg, "-") {
			return nil, usageErrorf("flag %s does not take a value", name)
		}

		switch arg {
		case "--help", "-h":
			o.help = true
		case "--version":
			o.version = true
		case "--print-config":
			o.printConfig = true
		case "-y", "--yes", "--non-interactive":
			o.yes = true
		case "--skip-checksum":
			o.skipChecksum = true
		case "--require-checksum":
			o.requireChecksum = true
		default:
			if strings.HasPrefix(arg, "-") {
				return nil, usageErrorf("unknown flag: %s", arg)
			}
			return nil, usageErrorf("unexpected argument: %s", arg)
		}
	}

	if o.skipChecksum && o.requireChecksum {
		return nil, usageErrorf("--skip-checksum and --require-checksum are mutually exclusive")
	}
	return o, nil
}

const usageText = `kryer-install - install the latest kryer release

Usage:
  kryer-install [options]

Options:
  -y, --yes, --non-interactive   skip confirmation prompts
      --skip-checksum            do not verify checksums (discouraged)
      --require-checksum         fail when the release has no checksum
      --install-path PATH        override binary destination
      --scratch-dir PATH         override scratch root
      --config-dir PATH          override auxiliary config destination ("" disables)
      --config FILE              Lua configuration file (default: $KRYER_INSTALL_CONFIG)
      --project OWNER/REPO       release project
      --api-url URL              release API base URL
      --log-level LEVEL          debug|info|warn|error
      --print-config             print the effective configuration as Lua and exit
      --version                  show version information
  -h, --help                     show this help

Environment:
  KRYER_INSTALL_CONFIG   Lua configuration file
  KRYER_GITHUB_TOKEN     GitHub token for API requests (falls back to GITHUB_TOKEN)
  NO_COLOR               disable coloured output

Exit codes:
  0 installed, declined or nothing to do   1 unknown error
  2 usage or configuration                 3 permission or path
  4 network                                5 malformed release data
  6 integrity                              7 unsupported platform
  8 archive                                130 interrupted
`
