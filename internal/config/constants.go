package config

// Lua schema globals and keys of the installer table
const (
	luaGlobalInstaller = "installer"

	luaFieldProject          = "project"
	luaFieldBinary           = "binary"
	luaFieldAPIURL           = "api_url"
	luaFieldInstallPath      = "install_path"
	luaFieldScratchDir       = "scratch_dir"
	luaFieldConfigDir        = "config_dir"
	luaFieldConfigSubdir     = "config_subdir"
	luaFieldArchiveFormat    = "archive_format"
	luaFieldNonInteractive   = "non_interactive"
	luaFieldChecksum         = "checksum"
	luaFieldPGPKeyring       = "pgp_keyring"
	luaFieldMinisignKey      = "minisign_key"
	luaFieldRequireSignature = "require_signature"
	luaFieldTimeout          = "timeout"
	luaFieldRetries          = "retries"
	luaFieldLogLevel         = "log_level"
)

// Limits applied while loading and validating a config.
const (
	MaxConfigFileSize = 1 << 20
	MaxRetries        = 10
	MaxTimeoutSeconds = 3600
)

// Defaults shared by every platform.
const (
	DefaultProject      = "cfschilham/kryer"
	DefaultBinary       = "kryer"
	DefaultConfigSubdir = "config"
	DefaultLogLevel     = "warn"
)
