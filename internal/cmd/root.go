package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/sshconnector/internal/security"
	"github.com/yoanbernabeu/sshconnector/internal/ssh"
)

var (
	// Version is set at build time
	Version = "dev"

	// Global flags
	verbose bool
	cfgFile string
	yesFlag bool // CI/CD: skip confirmations
)

var rootCmd = &cobra.Command{
	Use:   "sshconnector",
	Short: "Run commands and move files on servers over SSH",
	Long: `sshconnector runs commands on remote servers over SSH, streams their
output, elevates them with sudo and transfers files through the same channel.

Quick start:
  sshconnector server add web deploy@web.example.com
  sshconnector exec web -- uptime
  sshconnector exec web --sudo password --sudo-password -- systemctl restart nginx
  sshconnector upload web ./app.env /srv/app/.env

Commands:
  server        Manage servers and their sudo policy
  exec          Run a command on a server
  download      Copy a remote file to the local machine
  upload        Copy a local file to a server
  rm            Delete a remote file
  history       Show or purge the local command history
  secret-key    Generate a key for stored sudo passwords

Environment Variables:
  SSHCONNECTOR_CONFIG               Config file path
  SSHCONNECTOR_SERVER               Default server name
  SSHCONNECTOR_SSH_KEY              SSH private key path or content
  SSHCONNECTOR_KNOWN_HOSTS          SSH known_hosts content
  SSHCONNECTOR_SKIP_HOST_KEY_CHECK  Skip host key verification (true/false)
  SSHCONNECTOR_PASSWORD             SSH password
  SSHCONNECTOR_SUDO_PASSWORD        sudo password
  SSHCONNECTOR_SECRET_KEY           Key for stored sudo passwords
  SSHCONNECTOR_TIMEOUT              SSH connect timeout (e.g. 10s)`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Ctrl-C cancels the running remote command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		var exitErr *ExitCodeError
		if !errors.As(err, &exitErr) {
			PrintError("%v", err)
		}
	}
	return err
}

// GetRootCmd returns the root command, used by the docs generator.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed logs")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ~/.config/sshconnector/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&yesFlag, "yes", "y", false, "Skip confirmations (CI/CD mode)")

	rootCmd.SetVersionTemplate(`sshconnector {{.Version}}
`)
}

// ExitCodeError carries the exit status of a remote command up to main.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("remote command exited with status %d", e.Code)
}

// ExitCode maps an error returned by Execute to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) && exitErr.Code > 0 && exitErr.Code < 256 {
		return exitErr.Code
	}
	var cancelled *ssh.CancelledError
	if errors.As(err, &cancelled) {
		return 130
	}
	return 1
}

// IsVerbose returns true if verbose mode is enabled
func IsVerbose() bool {
	return verbose
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// IsYesMode returns true if --yes flag is set (CI/CD mode)
func IsYesMode() bool {
	return yesFlag
}

// PrintError prints a formatted error message
func PrintError(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "❌ "+msg+"\n", args...)
}

// PrintSuccess prints a success message
func PrintSuccess(msg string, args ...interface{}) {
	fmt.Printf("✅ "+msg+"\n", args...)
}

// PrintInfo prints an info message
func PrintInfo(msg string, args ...interface{}) {
	fmt.Printf("ℹ️  "+msg+"\n", args...)
}

// PrintWarning prints a warning message
func PrintWarning(msg string, args ...interface{}) {
	fmt.Printf("⚠️  "+msg+"\n", args...)
}

// PrintVerbose prints a message only in verbose mode
func PrintVerbose(msg string, args ...interface{}) {
	if verbose {
		fmt.Printf("   "+msg+"\n", args...)
	}
}

// PrintVerboseCommand prints a command in verbose mode with sensitive values masked
func PrintVerboseCommand(command string) {
	if verbose {
		fmt.Printf("   Running: %s\n", security.SanitizeCommandForLog(command))
	}
}

// verboseLogger routes adapter log lines to stderr in verbose mode. Stdout
// is left to remote command output.
type verboseLogger struct {
	w io.Writer
}

func (l verboseLogger) Printf(format string, args ...any) {
	if verbose {
		fmt.Fprintf(l.w, "   "+format+"\n", args...)
	}
}
