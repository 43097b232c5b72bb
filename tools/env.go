package tools

import (
	"os"
	"strings"

	"github.com/Mmx233/QFarm/config"
)

// Getenv reads QFARM_<name>, falling back to def when it is unset or empty
func Getenv(name string, def string) string {
	value := os.Getenv(config.EnvPrefix + name)
	if value == "" {
		return def
	}
	return value
}

// AccountCodeKey names the variable that overrides an account's login code,
// e.g. "main farm" -> CODE_MAIN_FARM.
func AccountCodeKey(account string) string {
	key := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, account)
	return "CODE_" + key
}
