package ssh

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHKeyInfo contains information about an SSH key
type SSHKeyInfo struct {
	Path        string // Full path to the key file
	Name        string // Key filename (e.g., "id_ed25519")
	Type        string // Key type (e.g., "ed25519", "rsa", "ecdsa")
	IsEncrypted bool   // True if key is passphrase-protected
}

// DiscoverSSHKeys scans ~/.ssh/ for private keys.
// Returns keys sorted by preference: ed25519 first, then rsa, then others
func DiscoverSSHKeys() ([]SSHKeyInfo, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot determine home directory: %w", err)
	}
	return discoverKeysIn(filepath.Join(homeDir, ".ssh"))
}

func discoverKeysIn(sshDir string) ([]SSHKeyInfo, error) {
	entries, err := os.ReadDir(sshDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read .ssh directory: %w", err)
	}

	var keys []SSHKeyInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if strings.HasSuffix(name, ".pub") {
			continue
		}
		// id_* or *.pem only; known_hosts, config and friends never match
		if !strings.HasPrefix(name, "id_") && !strings.HasSuffix(name, ".pem") {
			continue
		}

		keyInfo, err := ValidateSSHKey(filepath.Join(sshDir, name))
		if err != nil {
			continue
		}
		keys = append(keys, *keyInfo)
	}

	sort.SliceStable(keys, func(i, j int) bool {
		return keyTypePriority(keys[i].Type) < keyTypePriority(keys[j].Type)
	})

	return keys, nil
}

// keyTypePriority returns sort priority for key types (lower is better)
func keyTypePriority(keyType string) int {
	switch keyType {
	case "ed25519":
		return 1
	case "rsa":
		return 2
	case "ecdsa":
		return 3
	default:
		return 4
	}
}

// ValidateSSHKey validates a key file and returns its info
func ValidateSSHKey(path string) (*SSHKeyInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	keyInfo := &SSHKeyInfo{
		Path: path,
		Name: filepath.Base(path),
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		if isPassphraseError(err) {
			keyInfo.IsEncrypted = true
			keyInfo.Type = detectKeyType(data)
			return keyInfo, nil
		}
		return nil, fmt.Errorf("invalid SSH key: %w", err)
	}

	keyInfo.Type = publicKeyType(signer.PublicKey().Type())
	return keyInfo, nil
}

// isPassphraseError checks if the error indicates a passphrase-protected key
func isPassphraseError(err error) bool {
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "passphrase") ||
		strings.Contains(errStr, "encrypted") ||
		strings.Contains(errStr, "ENCRYPTED")
}

// publicKeyType maps an SSH algorithm name to the short names used above.
func publicKeyType(algo string) string {
	switch {
	case algo == ssh.KeyAlgoED25519:
		return "ed25519"
	case algo == ssh.KeyAlgoRSA:
		return "rsa"
	case strings.HasPrefix(algo, "ecdsa-"):
		return "ecdsa"
	case algo == "ssh-dss":
		return "dsa"
	default:
		return "unknown"
	}
}

// detectKeyType guesses the key type of an encrypted key from its PEM armor.
func detectKeyType(data []byte) string {
	content := string(data)

	switch {
	case strings.Contains(content, "RSA PRIVATE KEY"):
		return "rsa"
	case strings.Contains(content, "EC PRIVATE KEY"):
		return "ecdsa"
	case strings.Contains(content, "DSA PRIVATE KEY"):
		return "dsa"
	case strings.Contains(content, "OPENSSH PRIVATE KEY"):
		// the algorithm of an encrypted OpenSSH key is not readable without
		// the passphrase; ed25519 is the ssh-keygen default
		return "ed25519"
	}
	return "unknown"
}

// TryConnect dials host with the given key and closes the connection again.
// It is used to check credentials before a server is saved.
func TryConnect(ctx context.Context, host, user string, port int, keyPath string, opts ...ClientOption) error {
	opts = append([]ClientOption{WithTimeout(10 * time.Second)}, opts...)
	client := NewClient(host, user, port, keyPath, opts...)
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	return nil
}
