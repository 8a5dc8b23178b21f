//go:build windows

package platform

var (
	DefaultLogPath = "C:/csgo-ds/csgo/console.log"   //nolint:gochecknoglobals
	BinaryNames    = []string{"srcds.exe", "hlds.exe"} //nolint:gochecknoglobals
)
