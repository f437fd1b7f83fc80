// videocursor/ffmpeg/security.go
package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SplitExtraArgs tokenizes the operator-supplied extra argument string.
// It never goes through a shell, so quoting rules are shlex's.
func SplitExtraArgs(extra string) ([]string, error) {
	args, err := shlex.Split(extra)
	if err != nil {
		return nil, fmt.Errorf("invalid extra args syntax: %w", err)
	}
	if err := validateArgs(args); err != nil {
		return nil, err
	}
	return args, nil
}

// validateArgs blocks shell metacharacters. exec.Command would not interpret
// them anyway, but there is no reason to let them reach ffmpeg either.
func validateArgs(args []string) error {
	for _, arg := range args {
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}
