package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/inconshreveable/log15"
	"gopkg.in/urfave/cli.v1"
)

var (
	log = log15.New("module", "bcosnode/main")

	app = cli.NewApp()

	configFlags = []cli.Flag{
		ConfigFileFlag,
		DataDirFlag,
	}
	p2pFlags = []cli.Flag{
		ListenPortFlag,
		MaxPeersFlag,
		StaticNodesFlag,
	}
	logFlags = []cli.Flag{
		LogLvlFlag,
		LogDirFlag,
	}
)

const version = "0.1.0"

func init() {
	app.Name = filepath.Base(os.Args[0])
	app.Version = version
	app.Usage = "FISCO-BCOS compatible p2p node"

	app.Commands = []cli.Command{
		nodeIDCommand,
		initCommand,
	}
	sort.Sort(cli.CommandsByName(app.Commands))

	app.Flags = mergeFlags(configFlags, p2pFlags, logFlags)
	app.Action = startAction
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
