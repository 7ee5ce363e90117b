package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/sshconnector/internal/config"
	"github.com/yoanbernabeu/sshconnector/internal/security"
	"github.com/yoanbernabeu/sshconnector/internal/shell"
	"github.com/yoanbernabeu/sshconnector/internal/ssh"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage servers",
	Long:  `Commands to add, test, and remove servers and to configure their sudo policy.`,
}

var serverAddCmd = &cobra.Command{
	Use:   "add <name> <user@host>",
	Short: "Add a new server",
	Long: `Adds a new server to the global configuration.

Example:
  sshconnector server add production deploy@my-vps.com
  sshconnector server add staging user@staging.example.com --port 2222`,
	Args: cobra.ExactArgs(2),
	RunE: runServerAdd,
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured servers",
	RunE:  runServerList,
}

var serverRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a server",
	Args:  cobra.ExactArgs(1),
	RunE:  runServerRemove,
}

var serverTestCmd = &cobra.Command{
	Use:   "test [name]",
	Short: "Test the connection and the sudo policy of a server",
	Long: `Runs 'whoami' on the server, then 'id -u' through sudo when the server
has a sudo mode configured.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServerTest,
}

var serverSetSudoCmd = &cobra.Command{
	Use:   "set-sudo <name> <none|non-interactive|password>",
	Short: "Set the sudo policy of a server",
	Long: `Sets how commands are elevated with sudo on a server.

Modes:
  none             Commands never run through sudo
  non-interactive  sudo --non-interactive, for NOPASSWD rules
  password         sudo with a password sent over the channel

In password mode the password is prompted for and stored encrypted with
SSHCONNECTOR_SECRET_KEY. Without --store the password is read at run time
from SSHCONNECTOR_SUDO_PASSWORD or --sudo-password.

Examples:
  sshconnector server set-sudo prod non-interactive
  sshconnector server set-sudo staging password --store`,
	Args: cobra.ExactArgs(2),
	RunE: runServerSetSudo,
}

var (
	serverPort    int
	serverKeyPath string
	skipSSHTest   bool
	storeSudoPass bool
)

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.AddCommand(serverAddCmd)
	serverCmd.AddCommand(serverListCmd)
	serverCmd.AddCommand(serverRemoveCmd)
	serverCmd.AddCommand(serverTestCmd)
	serverCmd.AddCommand(serverSetSudoCmd)

	serverAddCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "SSH port (default: default_port from the config)")
	serverAddCmd.Flags().StringVarP(&serverKeyPath, "key", "k", "", "SSH private key path")
	serverAddCmd.Flags().BoolVar(&skipSSHTest, "skip-test", false, "Skip SSH connection test")

	serverSetSudoCmd.Flags().BoolVar(&storeSudoPass, "store", false, "Prompt for the sudo password and store it encrypted")
}

func runServerAdd(cmd *cobra.Command, args []string) error {
	name := args[0]
	hostSpec := args[1]

	// Validate server name
	if err := security.ValidateServerName(name); err != nil {
		return fmt.Errorf("invalid server name: %w", err)
	}

	// Parse user@host
	parts := strings.SplitN(hostSpec, "@", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid host format, use user@host")
	}
	user, host := parts[0], parts[1]

	globalCfg, cfgPath, err := loadGlobalConfig()
	if err != nil {
		return err
	}

	if err := globalCfg.AddServer(name, config.ServerConfig{
		Host:    host,
		User:    user,
		Port:    serverPort,
		KeyPath: serverKeyPath,
	}); err != nil {
		return err
	}
	serverCfg := globalCfg.Servers[name]

	if errors := config.ValidateServerConfig(&serverCfg); errors.HasErrors() {
		return fmt.Errorf("invalid server configuration: %w", errors)
	}

	if err := saveGlobalConfig(globalCfg, cfgPath); err != nil {
		return err
	}

	PrintSuccess("Added server '%s' (%s@%s)", name, user, host)

	// Skip SSH test if requested
	if skipSSHTest {
		PrintInfo("Skipping SSH connection test (--skip-test)")
		printNextSteps(name)
		return nil
	}

	if err := testAndConfigureSSH(cmd.Context(), name, &serverCfg, globalCfg, cfgPath); err != nil {
		PrintWarning("SSH connection could not be established: %v", err)
		PrintInfo("You can test the connection manually with: ssh %s@%s -p %d", user, host, serverCfg.Port)
	}

	printNextSteps(name)
	return nil
}

func printNextSteps(name string) {
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  sshconnector exec %s -- uptime\n", name)
	fmt.Printf("  sshconnector server set-sudo %s non-interactive\n", name)
}

// testAndConfigureSSH tests the SSH connection and tries alternative keys if needed
func testAndConfigureSSH(ctx context.Context, name string, serverCfg *config.ServerConfig, globalCfg *config.GlobalConfig, cfgPath string) error {
	PrintInfo("Testing SSH connection...")

	timeout := ssh.WithTimeout(globalCfg.Timeout())
	err := ssh.TryConnect(ctx, serverCfg.Host, serverCfg.User, serverCfg.Port, serverCfg.KeyPath, timeout)
	if err == nil {
		PrintSuccess("SSH connection successful")
		return nil
	}
	PrintVerbose("Connection error: %v", err)

	PrintWarning("Connection failed with default key")

	// Discover available SSH keys
	keys, err := ssh.DiscoverSSHKeys()
	if err != nil {
		return fmt.Errorf("failed to discover SSH keys: %w", err)
	}

	availableKeys := candidateKeys(keys, serverCfg.KeyPath)
	if len(availableKeys) == 0 {
		return fmt.Errorf("no SSH keys available to try")
	}

	// Try keys - either interactively or automatically
	var workingKey *ssh.SSHKeyInfo
	if IsInteractive() {
		workingKey = interactiveKeySelection(ctx, serverCfg, availableKeys)
	} else {
		workingKey = autoTryKeys(ctx, serverCfg, availableKeys)
	}

	if workingKey == nil {
		return fmt.Errorf("no working SSH key found")
	}

	serverCfg.KeyPath = workingKey.Path
	if err := globalCfg.UpdateServer(name, *serverCfg); err != nil {
		return err
	}
	if err := saveGlobalConfig(globalCfg, cfgPath); err != nil {
		return err
	}

	PrintSuccess("Updated server config with key: %s", workingKey.Path)
	return nil
}

// candidateKeys drops encrypted keys and the key that was already tried.
func candidateKeys(keys []ssh.SSHKeyInfo, tried string) []ssh.SSHKeyInfo {
	var available []ssh.SSHKeyInfo
	for _, key := range keys {
		if key.IsEncrypted {
			PrintVerbose("Skipping encrypted key: %s", key.Name)
			continue
		}
		if tried != "" && key.Path == tried {
			continue
		}
		available = append(available, key)
	}
	return available
}

// interactiveKeySelection prompts the user to select an SSH key
func interactiveKeySelection(ctx context.Context, serverCfg *config.ServerConfig, keys []ssh.SSHKeyInfo) *ssh.SSHKeyInfo {
	options := make([]string, len(keys))
	for i, key := range keys {
		options[i] = fmt.Sprintf("%s (%s)", key.Name, key.Type)
	}

	fmt.Println()
	PrintInfo("Available SSH keys:")
	choice := PromptSelect("Select SSH key to use:", options)
	if choice < 0 {
		return nil
	}

	selectedKey := &keys[choice]
	PrintInfo("Testing with %s...", selectedKey.Path)

	err := ssh.TryConnect(ctx, serverCfg.Host, serverCfg.User, serverCfg.Port, selectedKey.Path)
	if err != nil {
		PrintError("Connection failed: %v", err)
		return nil
	}

	PrintSuccess("Connection successful!")
	return selectedKey
}

// autoTryKeys automatically tries available keys in order
func autoTryKeys(ctx context.Context, serverCfg *config.ServerConfig, keys []ssh.SSHKeyInfo) *ssh.SSHKeyInfo {
	PrintInfo("Trying available SSH keys automatically...")

	for i := range keys {
		PrintVerbose("Trying %s...", keys[i].Name)
		err := ssh.TryConnect(ctx, serverCfg.Host, serverCfg.User, serverCfg.Port, keys[i].Path)
		if err == nil {
			PrintSuccess("SSH connection successful with %s", keys[i].Name)
			return &keys[i]
		}
	}

	return nil
}

func runServerList(cmd *cobra.Command, args []string) error {
	globalCfg, _, err := loadGlobalConfig()
	if err != nil {
		return err
	}

	servers := globalCfg.ListServers()
	if len(servers) == 0 {
		PrintInfo("No servers configured")
		fmt.Println()
		fmt.Println("Add a server with:")
		fmt.Println("  sshconnector server add <name> <user@host>")
		return nil
	}

	fmt.Println("Configured servers:")
	fmt.Println()
	for _, name := range servers {
		server := globalCfg.Servers[name]
		fmt.Printf("  %s\n", name)
		fmt.Printf("    Host: %s@%s:%d\n", server.User, server.Host, server.Port)
		if server.KeyPath != "" {
			fmt.Printf("    Key:  %s\n", server.KeyPath)
		}
		if server.Sudo.Mode != "" {
			stored := ""
			if server.Sudo.PasswordEncrypted != "" {
				stored = " (password stored)"
			}
			fmt.Printf("    Sudo: %s%s\n", server.Sudo.Mode, stored)
		}
		fmt.Println()
	}

	return nil
}

func runServerRemove(cmd *cobra.Command, args []string) error {
	name := args[0]

	// Validate server name
	if err := security.ValidateServerName(name); err != nil {
		return fmt.Errorf("invalid server name: %w", err)
	}

	globalCfg, cfgPath, err := loadGlobalConfig()
	if err != nil {
		return err
	}

	if err := globalCfg.RemoveServer(name); err != nil {
		return err
	}

	if err := saveGlobalConfig(globalCfg, cfgPath); err != nil {
		return err
	}

	PrintSuccess("Removed server '%s'", name)
	return nil
}

func runServerTest(cmd *cobra.Command, args []string) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	name, err := resolveServerName(args, env)
	if err != nil {
		return err
	}

	conn, err := ConnectToServer(name)
	if err != nil {
		return err
	}
	defer conn.Close()

	sudo, err := resolveSudo(conn.Server, conn.Env, sudoFlags{}, PromptPassword)
	if err != nil {
		return err
	}

	PrintInfo("Connecting to %s...", conn.Client.Addr())
	return testServer(cmd.Context(), conn.Client, sudo)
}

// testServer checks that commands run and, when a policy is set, that sudo
// elevates to root.
func testServer(ctx context.Context, exec ssh.Executor, sudo shell.Sudo) error {
	whoami := ssh.NewRequest(shell.Args("whoami"))
	result, err := exec.Execute(ctx, whoami)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	if !result.Success() {
		return fmt.Errorf("whoami failed: %w: %s", result.Err(), strings.TrimSpace(whoami.Stderr.String()))
	}
	PrintSuccess("Connected as %s", strings.TrimSpace(whoami.Stdout.String()))

	if sudo.Mode == shell.SudoNone {
		return nil
	}

	id := ssh.NewRequest(shell.Args("id", "-u"))
	id.Sudo = sudo
	result, err = exec.Execute(ctx, id)
	if err != nil {
		return fmt.Errorf("sudo check failed: %w", err)
	}
	if !result.Success() {
		return fmt.Errorf("sudo (%s) failed: %w: %s", sudo.Mode, result.Err(), strings.TrimSpace(id.Stderr.String()))
	}
	if uid := strings.TrimSpace(id.Stdout.String()); uid != "0" {
		return fmt.Errorf("sudo (%s) ran as uid %s, expected 0", sudo.Mode, uid)
	}
	PrintSuccess("sudo (%s) works", sudo.Mode)
	return nil
}

func runServerSetSudo(cmd *cobra.Command, args []string) error {
	name := args[0]

	if err := security.ValidateServerName(name); err != nil {
		return fmt.Errorf("invalid server name: %w", err)
	}

	mode, err := shell.ParseSudoMode(args[1])
	if err != nil {
		return err
	}
	if storeSudoPass && mode != shell.SudoPassword {
		return fmt.Errorf("--store only applies to the %q mode", shell.SudoPassword)
	}

	globalCfg, cfgPath, err := loadGlobalConfig()
	if err != nil {
		return err
	}

	serverCfg, err := globalCfg.GetServer(name)
	if err != nil {
		return err
	}

	var password string
	var secrets *config.Secrets
	if storeSudoPass {
		env, err := config.LoadEnv()
		if err != nil {
			return err
		}
		secrets, err = config.NewSecrets(env.SecretKey)
		if err != nil {
			return fmt.Errorf("%w (generate one with 'sshconnector secret-key')", err)
		}
		password, err = PromptPassword(fmt.Sprintf("[sudo] password for %s@%s: ", serverCfg.User, serverCfg.Host))
		if err != nil {
			return err
		}
	}

	if err := applySudo(globalCfg, name, mode, password, secrets); err != nil {
		return err
	}
	if err := saveGlobalConfig(globalCfg, cfgPath); err != nil {
		return err
	}

	PrintSuccess("Set sudo mode of '%s' to %s", name, mode)
	return nil
}

// applySudo updates the sudo policy of server name in globalCfg.
func applySudo(globalCfg *config.GlobalConfig, name string, mode shell.SudoMode, password string, secrets *config.Secrets) error {
	serverCfg, err := globalCfg.GetServer(name)
	if err != nil {
		return err
	}
	if err := serverCfg.SetSudo(mode, password, secrets); err != nil {
		return err
	}
	return globalCfg.UpdateServer(name, *serverCfg)
}
