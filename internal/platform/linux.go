//go:build !windows

package platform

import (
	"github.com/leighmacdonald/scorebot/pkg/util"
)

var (
	// DefaultLogPath is where a steamcmd installed CS:GO server writes its
	// log when started with -condebug.
	DefaultLogPath = "~/csgo-ds/csgo/console.log" //nolint:gochecknoglobals
	BinaryNames    = []string{"srcds_linux", "hlds_linux"} //nolint:gochecknoglobals
)

func init() {
	// Linux installs have no registry to query, so the default is expanded
	// once here and may need configuring by hand.
	logPath, errExpand := util.ExpandPath(DefaultLogPath)
	if errExpand == nil {
		DefaultLogPath = logPath
	}
}
