// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/openledger/acctdb/admin"
	"github.com/openledger/acctdb/co"
	"github.com/openledger/acctdb/metrics"
	pb "gopkg.in/cheggaaa/pb.v1"
	cli "gopkg.in/urfave/cli.v1"
)

var (
	version   string
	gitCommit string
	gitTag    string
)

func fullVersion() string {
	versionMeta := "release"
	if gitTag == "" {
		versionMeta = "dev"
	}
	return fmt.Sprintf("%s-%s-%s", version, gitCommit, versionMeta)
}

func main() {
	app := cli.App{
		Version:   fullVersion(),
		Name:      "acctdb",
		Usage:     "Validator account state storage engine",
		Copyright: "2026 The acctdb developers",
		Flags: []cli.Flag{
			dataDirFlag,
			configFlag,
			cacheFlag,
			retentionFlag,
			adminAddrFlag,
			enableAdminFlag,
			metricsAddrFlag,
			enableMetricsFlag,
			verbosityFlag,
			jsonLogsFlag,
		},
		Action: defaultAction,
		Commands: []cli.Command{
			{
				Name:  "snapshot",
				Usage: "export or import full-state snapshots",
				Subcommands: []cli.Command{
					{
						Name:  "export",
						Usage: "write the rooted state to a snapshot file",
						Flags: []cli.Flag{
							dataDirFlag,
							snapshotFileFlag,
							verbosityFlag,
							jsonLogsFlag,
						},
						Action: exportAction,
					},
					{
						Name:  "import",
						Usage: "restore a fresh database from a snapshot file",
						Flags: []cli.Flag{
							dataDirFlag,
							snapshotFileFlag,
							verbosityFlag,
							jsonLogsFlag,
						},
						Action: importAction,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultAction(ctx *cli.Context) error {
	defer func() { log.Info("exited") }()

	logLevel := initLogger(ctx)

	if ctx.Bool(enableMetricsFlag.Name) {
		metrics.InitializePrometheusMetrics()
		url, closeFunc, err := startMetricsServer(ctx.String(metricsAddrFlag.Name))
		if err != nil {
			fatal(fmt.Sprintf("start metrics server: %v", err))
		}
		log.Info("metrics server started", "url", url)
		defer closeFunc()
	}

	db := openEngine(ctx)
	defer func() { log.Info("closing account database..."); db.Close() }()

	if ctx.Bool(enableAdminFlag.Name) {
		url, closeFunc, err := admin.StartServer(ctx.String(adminAddrFlag.Name), logLevel, func() interface{} {
			return db.Stats()
		})
		if err != nil {
			fatal(fmt.Sprintf("start admin server: %v", err))
		}
		log.Info("admin server started", "url", url)
		defer closeFunc()
	}

	log.Info("account database ready",
		"dataDir", ctx.String(dataDirFlag.Name),
		"rootSlot", db.RootSlot(),
		"accounts", db.Stats().Accounts,
	)

	<-handleExitSignal()
	return nil
}

func exportAction(ctx *cli.Context) error {
	initLogger(ctx)

	path := ctx.String(snapshotFileFlag.Name)
	if path == "" {
		fatal("snapshot file not specified, use -file")
	}

	db := openEngine(ctx)
	defer db.Close()

	f, err := os.Create(path)
	if err != nil {
		fatal(fmt.Sprintf("create snapshot file [%v]: %v", path, err))
	}
	defer f.Close()

	bar := pb.New64(0).
		Set64(0).
		SetMaxWidth(90).
		Start()
	defer func() { bar.NotPrint = true }()

	if err := db.BuildSnapshot(context.Background(), f, func(done, total uint64) {
		bar.Total = int64(total)
		bar.Set64(int64(done))
	}); err != nil {
		return err
	}
	bar.Finish()

	log.Info("snapshot exported", "file", path, "rootSlot", db.RootSlot())
	return nil
}

func importAction(ctx *cli.Context) error {
	initLogger(ctx)

	path := ctx.String(snapshotFileFlag.Name)
	if path == "" {
		fatal("snapshot file not specified, use -file")
	}

	f, err := os.Open(path)
	if err != nil {
		fatal(fmt.Sprintf("open snapshot file [%v]: %v", path, err))
	}
	defer f.Close()

	db := openEngine(ctx)
	defer db.Close()

	bar := pb.New64(0).
		SetMaxWidth(90).
		Start()
	defer func() { bar.NotPrint = true }()

	if err := db.LoadSnapshot(context.Background(), f, func(done, total uint64) {
		bar.Total = int64(total)
		bar.Set64(int64(done))
	}); err != nil {
		return err
	}
	bar.Finish()

	log.Info("snapshot imported", "file", path, "rootSlot", db.RootSlot(), "accounts", db.Stats().Accounts)
	return nil
}

func startMetricsServer(addr string) (string, func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}

	router := http.NewServeMux()
	router.Handle("/metrics", metrics.HTTPHandler())
	srv := &http.Server{Handler: router, ReadHeaderTimeout: time.Second, ReadTimeout: 5 * time.Second}
	var goes co.Goes
	goes.Go(func() {
		srv.Serve(listener)
	})
	return "http://" + listener.Addr().String() + "/metrics", func() {
		srv.Close()
		goes.Wait()
	}, nil
}
