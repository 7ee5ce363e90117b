package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/spf13/cobra"

	"github.com/yoanbernabeu/sshconnector/internal/shell"
	"github.com/yoanbernabeu/sshconnector/internal/ssh"
)

var downloadCmd = &cobra.Command{
	Use:   "download <server> <remote-path> [local-path]",
	Short: "Copy a remote file to the local machine",
	Long: `Copies a remote file to the local machine. The local path defaults to the
remote file name in the current directory; "-" writes to stdout.

Examples:
  sshconnector download production /var/log/app.log
  sshconnector download production /etc/nginx/nginx.conf --sudo non-interactive -`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runDownload,
}

var uploadCmd = &cobra.Command{
	Use:   "upload <server> <local-path> <remote-path>",
	Short: "Copy a local file to a server",
	Long: `Copies a local file to a server, replacing the remote file. "-" reads the
content from stdin.

Examples:
  sshconnector upload production ./app.env /srv/app/.env
  echo "maintenance" | sshconnector upload production - /srv/app/MAINTENANCE`,
	Args: cobra.ExactArgs(3),
	RunE: runUpload,
}

var rmCmd = &cobra.Command{
	Use:   "rm <server> <remote-path>",
	Short: "Delete a remote file",
	Args:  cobra.ExactArgs(2),
	RunE:  runRm,
}

var statCmd = &cobra.Command{
	Use:    "stat <server> <remote-path>",
	Short:  "Show remote file information (not supported over SSH)",
	Args:   cobra.ExactArgs(2),
	Hidden: true,
	RunE:   runStat,
}

var syncCmd = &cobra.Command{
	Use:    "sync <server> <local-path> <remote-path>",
	Short:  "Synchronize a local tree to a server (not supported over SSH)",
	Args:   cobra.ExactArgs(3),
	Hidden: true,
	RunE:   runSync,
}

var (
	statFollow bool

	downloadSudo sudoFlags
	uploadSudo   sudoFlags
	rmSudo       sudoFlags
)

func init() {
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(syncCmd)

	addSudoFlags(downloadCmd, &downloadSudo)
	addSudoFlags(uploadCmd, &uploadSudo)
	addSudoFlags(rmCmd, &rmSudo)

	statCmd.Flags().BoolVarP(&statFollow, "follow", "L", false, "Follow symbolic links")
}

// openFiles connects to serverName and returns file operations elevated
// according to flags. The caller must close the connection.
func openFiles(serverName string, flags sudoFlags) (*ssh.Files, *ServerConnection, error) {
	conn, err := ConnectToServer(serverName)
	if err != nil {
		return nil, nil, err
	}

	sudo, err := resolveSudo(conn.Server, conn.Env, flags, PromptPassword)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	if msg := transferWarning(sudo); msg != "" {
		PrintWarning("%s", msg)
	}

	files := ssh.NewFiles(conn.Client, sudo)
	files.Diagnostics = os.Stderr
	return files, conn, nil
}

// transferWarning explains that password sudo runs file commands on a PTY.
func transferWarning(sudo shell.Sudo) string {
	if !sudo.Interactive() {
		return ""
	}
	return "sudo password mode runs on a terminal; the transfer may not be byte-exact (use --sudo non-interactive for binary files)"
}

// checkResult turns a failed file command into an error.
func checkResult(op, remotePath string, result *ssh.Result, err error) error {
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("%s %s failed: %w", op, remotePath, result.Err())
	}
	return nil
}

func runDownload(cmd *cobra.Command, args []string) error {
	serverName, remotePath := args[0], args[1]
	localPath := path.Base(remotePath)
	if len(args) == 3 {
		localPath = args[2]
	}

	files, conn, err := openFiles(serverName, downloadSudo)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := download(cmd.Context(), files, remotePath, localPath, os.Stdout); err != nil {
		return err
	}
	if localPath != "-" {
		PrintSuccess("Downloaded %s to %s", remotePath, localPath)
	}
	return nil
}

// download copies remotePath to localPath, or to stdout when localPath is "-".
func download(ctx context.Context, files *ssh.Files, remotePath, localPath string, stdout io.Writer) error {
	if localPath == "-" {
		result, err := files.Download(ctx, remotePath, stdout)
		return checkResult("download", remotePath, result, err)
	}
	result, err := files.DownloadFile(ctx, remotePath, localPath)
	return checkResult("download", remotePath, result, err)
}

func runUpload(cmd *cobra.Command, args []string) error {
	serverName, localPath, remotePath := args[0], args[1], args[2]

	files, conn, err := openFiles(serverName, uploadSudo)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := upload(cmd.Context(), files, localPath, remotePath, os.Stdin); err != nil {
		return err
	}
	PrintSuccess("Uploaded %s to %s:%s", localPath, serverName, remotePath)
	return nil
}

// upload copies localPath, or stdin when localPath is "-", to remotePath.
func upload(ctx context.Context, files *ssh.Files, localPath, remotePath string, stdin io.Reader) error {
	if localPath == "-" {
		result, err := files.Upload(ctx, remotePath, func(w io.Writer) error {
			_, err := io.Copy(w, stdin)
			return err
		})
		return checkResult("upload", remotePath, result, err)
	}
	result, err := files.UploadFile(ctx, localPath, remotePath)
	return checkResult("upload", remotePath, result, err)
}

func runRm(cmd *cobra.Command, args []string) error {
	serverName, remotePath := args[0], args[1]

	if !PromptConfirm(fmt.Sprintf("Delete %s on %s?", remotePath, serverName)) {
		PrintInfo("Aborted")
		return nil
	}

	files, conn, err := openFiles(serverName, rmSudo)
	if err != nil {
		return err
	}
	defer conn.Close()

	result, err := files.Delete(cmd.Context(), remotePath)
	if err := checkResult("delete", remotePath, result, err); err != nil {
		return err
	}
	PrintSuccess("Deleted %s:%s", serverName, remotePath)
	return nil
}

func runStat(cmd *cobra.Command, args []string) error {
	files := ssh.NewFiles(nil, shell.NoSudo())
	info, err := files.Stat(cmd.Context(), args[1], statFollow)
	if err != nil {
		return err
	}
	fmt.Printf("%s %d %s\n", info.Mode(), info.Size(), info.Name())
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	files := ssh.NewFiles(nil, shell.NoSudo())
	return files.Sync(cmd.Context(), args[1], args[2])
}
