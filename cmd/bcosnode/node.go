package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"

	"github.com/bcosnet/go-bcosnet/common"
	"github.com/bcosnet/go-bcosnet/config"
	"github.com/bcosnet/go-bcosnet/p2p"
	"github.com/bcosnet/go-bcosnet/p2p/vnode"
)

// makeConfig load the config file and apply command line overrides
func makeConfig(ctx *cli.Context) (*config.Config, *p2p.Config, error) {
	cfg, err := config.Load(ctx.GlobalString(ConfigFileFlag.Name))
	if err != nil {
		return nil, nil, err
	}

	if ctx.GlobalIsSet(DataDirFlag.Name) {
		cfg.DataDir = ctx.GlobalString(DataDirFlag.Name)
	}
	if ctx.GlobalIsSet(LogLvlFlag.Name) {
		cfg.LogLevel = ctx.GlobalString(LogLvlFlag.Name)
	}
	if ctx.GlobalIsSet(LogDirFlag.Name) {
		cfg.LogDir = ctx.GlobalString(LogDirFlag.Name)
	}

	pc, err := cfg.P2PConfig()
	if err != nil {
		return nil, nil, err
	}

	if ctx.GlobalIsSet(ListenPortFlag.Name) {
		pc.ListenPort = ctx.GlobalInt(ListenPortFlag.Name)
	}
	if ctx.GlobalIsSet(MaxPeersFlag.Name) {
		pc.MaxPeers = ctx.GlobalInt(MaxPeersFlag.Name)
	}
	for _, str := range ctx.GlobalStringSlice(StaticNodesFlag.Name) {
		n, err := vnode.ParseNode(str)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "parse peer %q", str)
		}
		pc.StaticNodes = append(pc.StaticNodes, n)
	}

	return cfg, pc, nil
}

func setupLog(cfg *config.Config) {
	handlers := []log15.Handler{common.TerminalHandler(cfg.LogLevel)}
	if cfg.LogDir != "" {
		handlers = append(handlers, common.LogHandler(cfg.LogDir, "", "bcosnode.log", cfg.LogLevel))
	}
	log15.Root().SetHandler(log15.MultiHandler(handlers...))
}

func startAction(ctx *cli.Context) error {
	cfg, pc, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	setupLog(cfg)

	svc, err := p2p.New(pc)
	if err != nil {
		return err
	}
	if err = svc.Start(); err != nil {
		return err
	}

	log.Info("node started", "id", svc.NodeID().String(), "listen", svc.Host().ListenEndpoint().String())

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)

	<-c
	log.Info("Got interrupt, shutting down...")

	done := make(chan struct{})
	go func() {
		svc.Stop()
		close(done)
	}()

	for i := 3; i > 0; i-- {
		select {
		case <-done:
			return nil
		case <-c:
			log.Warn("Already shutting down, interrupt more to quit.", "times", i-1)
		}
	}

	return errors.New("forced quit")
}
