package session

import (
	"fmt"
	"regexp"
)

// A session name becomes a directory under ~/.deskchat/sessions and part of
// the daemon socket path, so it is restricted to lowercase path-safe runes.
var validName = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName rejects names that cannot safely name a session directory.
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid session name %q: use 1-64 lowercase letters, digits, '-' or '_'", name)
	}
	return nil
}
