package cmd

import (
	"fmt"
	"os"

	"github.com/yoanbernabeu/sshconnector/internal/audit"
	"github.com/yoanbernabeu/sshconnector/internal/config"
	"github.com/yoanbernabeu/sshconnector/internal/constants"
	"github.com/yoanbernabeu/sshconnector/internal/security"
	"github.com/yoanbernabeu/sshconnector/internal/shell"
	"github.com/yoanbernabeu/sshconnector/internal/ssh"
)

// ServerConnection holds an SSH client along with the server and global config.
// The client dials lazily on its first command.
type ServerConnection struct {
	Client *ssh.Client
	Server *config.ServerConfig
	Global *config.GlobalConfig
	Env    *config.Env

	auditor *audit.Auditor
}

// Close closes the client and the history database.
func (c *ServerConnection) Close() error {
	err := c.Client.Close()
	if c.auditor != nil {
		if aerr := c.auditor.Close(); err == nil {
			err = aerr
		}
	}
	return err
}

// loadGlobalConfig loads the global config from --config, SSHCONNECTOR_CONFIG
// or the default location, and returns the path it used.
func loadGlobalConfig() (*config.GlobalConfig, string, error) {
	path := GetConfigFile()
	if path == "" {
		var err error
		path, err = config.GetGlobalConfigPath()
		if err != nil {
			return nil, "", err
		}
	}

	globalCfg, err := config.LoadGlobalConfigFrom(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load global config: %w", err)
	}
	return globalCfg, path, nil
}

func saveGlobalConfig(globalCfg *config.GlobalConfig, path string) error {
	if errs := config.ValidateGlobalConfig(globalCfg); errs.HasErrors() {
		return fmt.Errorf("invalid configuration: %w", errs)
	}
	if err := config.SaveGlobalConfigTo(path, globalCfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// resolveServerName picks the server from the first argument, falling back to
// SSHCONNECTOR_SERVER.
func resolveServerName(args []string, env *config.Env) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if env != nil && env.Server != "" {
		return env.Server, nil
	}
	return "", fmt.Errorf("no server given; pass a server name or set %s", constants.EnvVar("SERVER"))
}

// ConnectToServer validates the server name, loads the global config and the
// environment overrides, and prepares an SSH client for the server.
// The caller must defer conn.Close().
func ConnectToServer(serverName string, opts ...ssh.ClientOption) (*ServerConnection, error) {
	if err := security.ValidateServerName(serverName); err != nil {
		return nil, fmt.Errorf("invalid server name: %w", err)
	}

	env, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}

	globalCfg, cfgPath, err := loadGlobalConfig()
	if err != nil {
		return nil, err
	}

	serverCfg, err := globalCfg.GetServer(serverName)
	if err != nil {
		return nil, err
	}

	allOpts := sshOptions(globalCfg, serverCfg, env)

	var auditor *audit.Auditor
	if globalCfg.Audit.Enabled {
		auditor, err = audit.Open(globalCfg.HistoryPath(cfgPath), globalCfg.Audit.RetentionDaysOrDefault())
		if err != nil {
			PrintWarning("Command history disabled: %v", err)
		} else {
			allOpts = append(allOpts, ssh.WithRecorder(auditor))
		}
	}
	allOpts = append(allOpts, opts...)

	keyPath := serverCfg.KeyPath
	if p := env.SSHKeyPath(); p != "" {
		keyPath = p
	}

	client := ssh.NewClient(serverCfg.Host, serverCfg.User, serverCfg.Port, keyPath, allOpts...)

	return &ServerConnection{
		Client:  client,
		Server:  serverCfg,
		Global:  globalCfg,
		Env:     env,
		auditor: auditor,
	}, nil
}

// sshOptions builds client options from the config file and the environment.
// Environment values win over the config file.
func sshOptions(globalCfg *config.GlobalConfig, serverCfg *config.ServerConfig, env *config.Env) []ssh.ClientOption {
	timeout := globalCfg.Timeout()
	if env.Timeout > 0 {
		timeout = env.Timeout
	}

	opts := []ssh.ClientOption{
		ssh.WithTimeout(timeout),
		ssh.WithServerName(serverCfg.Name),
		ssh.WithLogger(verboseLogger{w: os.Stderr}),
	}
	if key := env.SSHKeyContent(); key != nil {
		opts = append(opts, ssh.WithPrivateKey(key))
	}
	if env.Password != "" {
		opts = append(opts, ssh.WithPassword(env.Password))
	}
	switch {
	case env.SkipHostKeyCheck:
		opts = append(opts, ssh.WithInsecureHostKey())
	case env.KnownHosts != "":
		opts = append(opts, ssh.WithKnownHosts(env.KnownHosts))
	}
	return opts
}

// sudoFlags are the elevation flags shared by exec and the file commands.
type sudoFlags struct {
	mode   string
	prompt bool
}

// resolveSudo returns the elevation policy for one command. --sudo overrides
// the server's mode; the password comes from the prompt, then
// SSHCONNECTOR_SUDO_PASSWORD, then the config file.
func resolveSudo(serverCfg *config.ServerConfig, env *config.Env, flags sudoFlags, readPassword func(string) (string, error)) (shell.Sudo, error) {
	server := *serverCfg
	if flags.mode != "" {
		server.Sudo.Mode = flags.mode
	}
	mode, err := shell.ParseSudoMode(server.Sudo.Mode)
	if err != nil {
		return shell.Sudo{}, err
	}

	password := env.SudoPassword
	if flags.prompt {
		if mode != shell.SudoPassword {
			return shell.Sudo{}, fmt.Errorf("--sudo-password requires sudo mode %q", shell.SudoPassword)
		}
		p, err := readPassword(fmt.Sprintf("[sudo] password for %s@%s: ", server.User, server.Host))
		if err != nil {
			return shell.Sudo{}, err
		}
		password = p
	}

	var secrets *config.Secrets
	if env.SecretKey != "" {
		s, err := config.NewSecrets(env.SecretKey)
		if err != nil {
			return shell.Sudo{}, err
		}
		secrets = s
	}

	return server.SudoPolicy(password, secrets)
}
