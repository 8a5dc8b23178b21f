// Package platform locates dedicated server processes and their default
// install paths.
package platform

import (
	"strings"

	"github.com/mitchellh/go-ps"
	"github.com/pkg/errors"
)

var ErrProcessNotFound = errors.New("server process not found")

// FindServerProcess returns the pid of the first running process whose
// executable matches one of names, case insensitively. An empty names uses
// BinaryNames.
func FindServerProcess(names ...string) (int, error) {
	if len(names) == 0 {
		names = BinaryNames
	}

	processes, errPs := ps.Processes()
	if errPs != nil {
		return 0, errors.Wrap(errPs, "Failed to read processes")
	}

	for _, process := range processes {
		for _, name := range names {
			if strings.EqualFold(process.Executable(), name) {
				return process.Pid(), nil
			}
		}
	}

	return 0, errors.Wrapf(ErrProcessNotFound, "%s", strings.Join(names, ", "))
}

// IsRunning reports whether pid still exists.
func IsRunning(pid int) (bool, error) {
	process, errFind := ps.FindProcess(pid)
	if errFind != nil {
		return false, errors.Wrap(errFind, "Failed to query process")
	}

	return process != nil, nil
}
