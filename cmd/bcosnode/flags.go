package main

import "gopkg.in/urfave/cli.v1"

var (
	ConfigFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "JSON configuration file",
		Value: "config.json",
	}
	DataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "directory of the peer store and logs, overrides DataDir of the config file",
	}

	// p2p overrides, mapping: P2P.<field>
	ListenPortFlag = cli.IntFlag{
		Name:  "port", //mapping:P2P.ListenPort
		Usage: "network listening port",
	}
	MaxPeersFlag = cli.IntFlag{
		Name:  "maxpeers", //mapping:P2P.MaxPeers
		Usage: "maximum number of sessions and pending connections",
	}
	StaticNodesFlag = cli.StringSliceFlag{
		Name:  "peer", //mapping:P2P.StaticNodes
		Usage: "static node as [nodeid@]host:port, can be repeated",
	}

	LogLvlFlag = cli.StringFlag{
		Name:  "loglevel",
		Usage: "log level: crit, error, warn, info, debug",
	}
	LogDirFlag = cli.StringFlag{
		Name:  "logdir",
		Usage: "write rotated log files here in addition to the terminal",
	}
)

func mergeFlags(flagsSet ...[]cli.Flag) []cli.Flag {
	var all []cli.Flag
	for _, flags := range flagsSet {
		all = append(all, flags...)
	}
	return all
}
