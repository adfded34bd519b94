package tools

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"strings"
)

func SystemUri() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	username := "unknown"
	u, err := user.Current()
	if err == nil {
		username = u.Username
	}
	return fmt.Sprintf("%s@%s", username, hostname), nil
}

func DomainOfEmail(address string) (string, error) {
	i := strings.LastIndex(address, "@")
	if i < 0 || i == len(address)-1 {
		return "", errors.New("no domain was present in email address")
	}
	return address[i+1:], nil
}

// Truncate cuts s to at most n bytes without splitting a rune
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
