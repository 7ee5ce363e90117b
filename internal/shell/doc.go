// Package shell turns structured command requests into the single string
// handed to the remote shell.
//
// A request is an argument vector or a literal string, an optional working
// directory, an environment mapping and a privilege-elevation policy. The
// produced forms are:
//
//	cmd
//	sh -c 'cd '"'"'<dir>'"'"' && exec <cmd>'
//	env K=V ... <cmd>
//	sudo --non-interactive <cmd>
//	sudo --prompt=__SUDO_PASSWORD__ <cmd>
//
// Values are quoted with POSIX single quotes. Inputs carrying shell
// metacharacters beyond what quoting covers are not made safe here; callers
// must not embed untrusted content.
package shell
