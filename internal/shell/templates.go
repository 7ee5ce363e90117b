package shell

import (
	"fmt"

	"github.com/yoanbernabeu/sshconnector/internal/security"
)

// Cat returns the command that streams path to stdout.
func Cat(path string) (Command, error) {
	if err := security.ValidateRemotePath(path); err != nil {
		return Command{}, err
	}
	return Raw("cat " + security.ShellQuote(path)), nil
}

// CatInto returns the command that writes stdin to path.
// The target is wrapped in sh -c so that sudo, when used, applies to the
// redirection itself.
func CatInto(path string) (Command, error) {
	if err := security.ValidateUploadPath(path); err != nil {
		return Command{}, err
	}
	return Raw(fmt.Sprintf(`sh -c "cat > '%s'"`, path)), nil
}

// Remove returns the command that deletes path.
func Remove(path string) (Command, error) {
	if err := security.ValidateRemotePath(path); err != nil {
		return Command{}, err
	}
	return Raw("rm " + security.ShellQuote(path)), nil
}
