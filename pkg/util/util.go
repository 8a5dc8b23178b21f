// Package util holds small file and credential helpers shared by the
// scorebot packages.
package util

import (
	"crypto/rand"
	"io"
	"math/big"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// passwordAlphabet avoids whitespace and quotes: legacy datagram commands are
// split on spaces and server.cfg wraps rcon_password in double quotes.
const passwordAlphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func Exists(filePath string) bool {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return false
	}

	return true
}

// ExpandPath resolves a leading ~ and cleans the result. Empty stays empty.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	expanded, errExpand := homedir.Expand(path)
	if errExpand != nil {
		return "", errors.Wrapf(errExpand, "Failed to expand path %q", path)
	}

	return filepath.Clean(expanded), nil
}

// LogClose closes closer, logging rather than returning any failure.
func LogClose(logger *zap.Logger, closer io.Closer) {
	if errClose := closer.Close(); errClose != nil {
		logger.Error("Error trying to close", zap.Error(errClose))
	}
}

func IgnoreClose(closer io.Closer) {
	_ = closer.Close()
}

// RandomPassword returns an n character rcon password. Look-alike characters
// are left out since the password is often copied into server.cfg by hand.
func RandomPassword(n int) string {
	limit := big.NewInt(int64(len(passwordAlphabet)))
	password := make([]byte, n)

	for i := range password {
		index, errInt := rand.Int(rand.Reader, limit)
		if errInt != nil {
			panic(errInt)
		}

		password[i] = passwordAlphabet[index.Int64()]
	}

	return string(password)
}
