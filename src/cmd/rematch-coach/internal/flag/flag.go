package flag

import (
	"os"

	"github.com/alecthomas/kingpin"

	"github.com/rematch-coach/rematch-coach/src/configs"
	"github.com/rematch-coach/rematch-coach/src/consts"
)

var (
	app = kingpin.New(consts.AppName, "Match tracking and recording companion service.").
		Version(consts.AppVersion)

	Debug         = app.Flag("debug", "Enable debug mode.").Default("false").Bool()
	Conf          = app.Flag("config", "Load configuration from `FILE`.").Short('c').String()
	RPCBind       = app.Flag("rpc-bind", "RPC bind address.").Default(":8090").String()
	AppDataPath   = app.Flag("app-data", "Directory for databases and recordings.").Default(".appdata").String()
	RecordingMode = app.Flag("recording-mode", "Recording policy: auto, ask or never.").Default("auto").String()
)

func init() {
	app.HelpFlag.Short('h')
	kingpin.MustParse(app.Parse(os.Args[1:]))
}

// GenConfigFromFlags builds a config for runs without a config file.
func GenConfigFromFlags() *configs.Config {
	config := configs.NewConfig()
	config.Debug = *Debug
	config.RPC.Bind = *RPCBind
	config.AppDataPath = *AppDataPath
	config.Recording.Mode = configs.ParseRecordingMode(*RecordingMode)
	return config
}
