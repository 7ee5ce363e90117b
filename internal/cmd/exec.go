package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yoanbernabeu/sshconnector/internal/config"
	"github.com/yoanbernabeu/sshconnector/internal/shell"
	"github.com/yoanbernabeu/sshconnector/internal/ssh"
)

var execCmd = &cobra.Command{
	Use:   "exec [server] -- <command> [args...]",
	Short: "Run a command on a server",
	Long: `Runs a command on a server and streams its output. The exit status of the
remote command becomes the exit status of sshconnector.

Arguments after -- are quoted for the remote shell. Use --shell to pass a
single shell string as written.

Examples:
  sshconnector exec production -- uptime
  sshconnector exec production --dir /srv/app -e APP_ENV=prod -- ./bin/migrate
  sshconnector exec production --shell -- 'du -sh /var/log/* | sort -h'
  sshconnector exec production --sudo non-interactive -- systemctl restart nginx
  cat dump.sql | sshconnector exec db --stdin -- psql app`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

var (
	execDir       string
	execEnv       []string
	execShell     bool
	execPTY       bool
	execStdin     bool
	execTimeout   time.Duration
	execPrefix    bool
	execSudoFlags sudoFlags
)

func init() {
	rootCmd.AddCommand(execCmd)

	execCmd.Flags().StringVarP(&execDir, "dir", "d", "", "Remote working directory")
	execCmd.Flags().StringArrayVarP(&execEnv, "env", "e", nil, "Environment variable KEY=VALUE (repeatable)")
	execCmd.Flags().BoolVar(&execShell, "shell", false, "Pass the command to the remote shell as written")
	execCmd.Flags().BoolVarP(&execPTY, "pty", "t", false, "Allocate a pseudo-terminal")
	execCmd.Flags().BoolVar(&execStdin, "stdin", false, "Forward local stdin until EOF")
	execCmd.Flags().DurationVar(&execTimeout, "timeout", 0, "Cancel the command after this duration (e.g. 5m)")
	execCmd.Flags().BoolVar(&execPrefix, "prefix", false, "Prefix output lines with the server name")
	addSudoFlags(execCmd, &execSudoFlags)
}

func addSudoFlags(cmd *cobra.Command, flags *sudoFlags) {
	cmd.Flags().StringVar(&flags.mode, "sudo", "", "Run through sudo: none, non-interactive or password (default: server setting)")
	cmd.Flags().BoolVar(&flags.prompt, "sudo-password", false, "Prompt for the sudo password")
}

// splitExecArgs separates the optional server name from the command.
// dash is cobra's ArgsLenAtDash.
func splitExecArgs(args []string, dash int) (server []string, command []string, err error) {
	switch {
	case dash < 0:
		server, command = args[:1], args[1:]
	case dash > 1:
		return nil, nil, fmt.Errorf("expected at most one server before --, got %d", dash)
	default:
		server, command = args[:dash], args[dash:]
	}
	if len(command) == 0 {
		return nil, nil, fmt.Errorf("no command given")
	}
	return server, command, nil
}

// parseEnv parses KEY=VALUE pairs.
func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid environment variable %q, use KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}

func runExec(cmd *cobra.Command, args []string) error {
	serverArgs, commandArgs, err := splitExecArgs(args, cmd.ArgsLenAtDash())
	if err != nil {
		return err
	}

	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	serverName, err := resolveServerName(serverArgs, env)
	if err != nil {
		return err
	}

	remoteEnv, err := parseEnv(execEnv)
	if err != nil {
		return err
	}

	conn, err := ConnectToServer(serverName)
	if err != nil {
		return err
	}
	defer conn.Close()

	sudo, err := resolveSudo(conn.Server, conn.Env, execSudoFlags, PromptPassword)
	if err != nil {
		return err
	}

	command := shell.Args(commandArgs...)
	if execShell {
		command = shell.Raw(strings.Join(commandArgs, " "))
	}

	req := &ssh.Request{
		Command:    command,
		Dir:        execDir,
		Env:        remoteEnv,
		PTY:        execPTY,
		Sudo:       sudo,
		LiveStdout: os.Stdout,
		LiveStderr: os.Stderr,
	}
	if execPTY {
		req.Terminal = localTerminal()
	}
	if execPrefix {
		prefix := fmt.Sprintf("[%s] ", serverName)
		req.LiveStdout = ssh.NewPrefixWriter(os.Stdout, prefix)
		req.LiveStderr = ssh.NewPrefixWriter(os.Stderr, prefix)
	}
	if execStdin {
		req.Input = func(w io.Writer) error {
			_, err := io.Copy(w, os.Stdin)
			return err
		}
	}

	ctx := cmd.Context()
	if execTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, execTimeout)
		defer cancel()
	}

	PrintVerboseCommand(sudo.Wrap(command.String()))
	return runRemoteCommand(ctx, conn.Client, req)
}

// runRemoteCommand executes req and turns a non-zero exit into an
// *ExitCodeError.
func runRemoteCommand(ctx context.Context, exec ssh.Executor, req *ssh.Request) error {
	result, err := exec.Execute(ctx, req)
	if err != nil {
		var cancelled *ssh.CancelledError
		if errors.As(err, &cancelled) && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("command timed out: %w", err)
		}
		return err
	}
	if result.Success() {
		return nil
	}

	code := result.ExitCode
	if code < 0 {
		code = 255
	}
	if result.Signal != "" {
		PrintVerbose("Remote command killed by SIG%s", result.Signal)
	}
	return &ExitCodeError{Code: code}
}

// localTerminal sizes the remote PTY like the local terminal when stdout is one.
func localTerminal() *ssh.PTY {
	pty := ssh.DefaultPTY()
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return pty
	}
	if cols, rows, err := term.GetSize(fd); err == nil && cols > 0 && rows > 0 {
		pty.Cols, pty.Rows = cols, rows
	}
	if t := os.Getenv("TERM"); t != "" {
		pty.Term = t
	}
	return pty
}
