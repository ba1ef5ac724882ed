package consts

import (
	"fmt"
	"os"
	"runtime"
)

const (
	AppName = "Rematch-Coach"
)

// Match outcomes as reported by game telemetry.
const (
	OutcomeVictory = "victory"
	OutcomeDefeat  = "defeat"
	OutcomeDraw    = "draw"
)

type Info struct {
	AppName    string `json:"app_name"`
	AppVersion string `json:"app_version"`
	BuildTime  string `json:"build_time"`
	GitHash    string `json:"git_hash"`
	Pid        int    `json:"pid"`
	Platform   string `json:"platform"`
	GoVersion  string `json:"go_version"`
}

var (
	BuildTime  string
	AppVersion string
	GitHash    string
)

// GetAppInfo must stay a function: AppVersion and friends are injected with
// -ldflags at link time and would still be empty at package init.
func GetAppInfo() *Info {
	return &Info{
		AppName:    AppName,
		AppVersion: AppVersion,
		BuildTime:  BuildTime,
		GitHash:    GitHash,
		Pid:        os.Getpid(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		GoVersion:  runtime.Version(),
	}
}
