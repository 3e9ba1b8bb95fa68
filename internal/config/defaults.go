package config

const (
	defaultStateDir          = "/var/lib/rigup"
	defaultLogDir            = "/var/log/rigup"
	defaultWorkspaceDir      = "/var/lib/rigup/build"
	defaultPackageManager    = "dnf"
	defaultHeadersPackage    = "kernel-devel"
	defaultGroup             = "rigio"
	defaultServiceUser       = "rigiod"
	defaultLoginShell        = "/usr/sbin/nologin"
	defaultModuleName        = "rigio"
	defaultModuleVersion     = "1.4.2"
	defaultModuleRepoURL     = "https://github.com/rigio/rigio-kmod.git"
	defaultModuleBranch      = "main"
	defaultModuleSourceRoot  = "/usr/src"
	defaultFetchTimeout      = 120
	defaultStaleCheckoutDays = 30
	defaultDeviceSubsystem   = "rigio"
	defaultDeviceWaitSecs    = 5
	defaultAppSourceDir      = "/usr/src/rigio-app"
	defaultInstallPrefix     = "/usr/local"
	defaultPolicyPath        = "/etc/sudoers.d/rigiod"
	defaultLegacyPolicyPath  = "/etc/sudoers.d/rigio-helpers"
	defaultHelperDir         = "/usr/local/libexec/rigup"
	defaultHealthUnit        = "rigio-health.service"
	defaultBackendUnit       = "rigiod.service"
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
)

func defaultPackages() []string {
	return []string{"git", "make", "gcc", "dkms", "cmake", "elfutils-libelf-devel"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:     defaultStateDir,
			LogDir:       defaultLogDir,
			WorkspaceDir: defaultWorkspaceDir,
		},
		Packages: Packages{
			Manager:        defaultPackageManager,
			Install:        defaultPackages(),
			HeadersPackage: defaultHeadersPackage,
		},
		Principals: Principals{
			Group:       defaultGroup,
			ServiceUser: defaultServiceUser,
			LoginShell:  defaultLoginShell,
		},
		Module: Module{
			Name:              defaultModuleName,
			Version:           defaultModuleVersion,
			RepoURL:           defaultModuleRepoURL,
			Branch:            defaultModuleBranch,
			SourceRoot:        defaultModuleSourceRoot,
			FetchTimeout:      defaultFetchTimeout,
			StaleCheckoutDays: defaultStaleCheckoutDays,
			DeviceSubsystem:   defaultDeviceSubsystem,
			DeviceWaitSeconds: defaultDeviceWaitSecs,
		},
		App: App{
			SourceDir:     defaultAppSourceDir,
			InstallPrefix: defaultInstallPrefix,
		},
		Sudo: Sudo{
			PolicyPath:       defaultPolicyPath,
			LegacyPolicyPath: defaultLegacyPolicyPath,
			HelperDir:        defaultHelperDir,
		},
		Services: Services{
			Health:  defaultHealthUnit,
			Backend: defaultBackendUnit,
		},
		Journal: Journal{
			Enabled: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
