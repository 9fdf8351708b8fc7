package main

import (
	"fmt"
	"os"

	"gopkg.in/urfave/cli.v1"

	"github.com/bcosnet/go-bcosnet/config"
	"github.com/bcosnet/go-bcosnet/p2p"
)

var (
	nodeIDCommand = cli.Command{
		Name:      "nodeid",
		Usage:     "Print the node id derived from the node certificate",
		ArgsUsage: " ",
		Action:    nodeIDAction,
	}
	initCommand = cli.Command{
		Name:      "init",
		Usage:     "Write a config file with default values",
		ArgsUsage: "[path]",
		Action:    initAction,
	}
)

func nodeIDAction(ctx *cli.Context) error {
	_, pc, err := makeConfig(ctx)
	if err != nil {
		return err
	}

	creds, err := p2p.LoadCredentials(pc.CACert, pc.NodeCert, pc.NodeKey)
	if err != nil {
		return err
	}

	id, err := p2p.NodeIDFromCertificate(creds.Leaf)
	if err != nil {
		return err
	}

	fmt.Println(id.String())
	return nil
}

func initAction(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		path = ctx.GlobalString(ConfigFileFlag.Name)
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	cfg := config.Default()
	cfg.P2P.CACert = "conf/ca.crt"
	cfg.P2P.NodeCert = "conf/node.crt"
	cfg.P2P.NodeKey = "conf/node.key"

	return cfg.Save(path)
}
