package config

const (
	defaultConfigPath          = "~/.config/daq-server/config.toml"
	defaultListen              = ":45677"
	defaultBaseDir             = "~/.local/share/daq-server/sessions"
	defaultStateDir            = "~/.local/share/daq-server"
	defaultLogDir              = "~/.local/share/daq-server/logs"
	defaultRetentionDays       = 5
	defaultPeriodDays          = 1
	defaultMaxLifetimeMinutes  = 30
	defaultStopTimeoutSeconds  = 10
	defaultFileExtension       = "csv"
	defaultDummyRows           = 200
	defaultDeviceNameKey       = "DEVNAME"
	defaultDeviceProductFilter = "^3923/"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Runner modes.
const (
	RunnerModeDAQ   = "daq"
	RunnerModeDummy = "dummy"
)

// DefaultPort is the TCP port the server listens on unless configured otherwise.
const DefaultPort = 45677

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Server: Server{
			Listen: defaultListen,
		},
		Paths: Paths{
			BaseDir:  defaultBaseDir,
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Cleanup: Cleanup{
			RetentionDays: defaultRetentionDays,
			PeriodDays:    defaultPeriodDays,
			ProtectActive: true,
		},
		Transfer: Transfer{
			MaxLifetimeMinutes: defaultMaxLifetimeMinutes,
		},
		Runner: Runner{
			Mode:               RunnerModeDAQ,
			StopTimeoutSeconds: defaultStopTimeoutSeconds,
			FileExtension:      defaultFileExtension,
			DummyRows:          defaultDummyRows,
		},
		Devices: Devices{
			NameKey: defaultDeviceNameKey,
			// National Instruments USB vendor id.
			Match: map[string]string{"PRODUCT": defaultDeviceProductFilter},
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
