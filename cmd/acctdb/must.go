// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"fmt"
	"os"

	"github.com/elastic/gosigar"
	"github.com/ethereum/go-ethereum/log"
	"github.com/openledger/acctdb/accountsdb"
	cli "gopkg.in/urfave/cli.v1"
	yaml "gopkg.in/yaml.v3"
)

// engineConfig is the YAML form of the engine options.
type engineConfig struct {
	CacheMB         int     `yaml:"cacheMB"`
	ShardCount      int     `yaml:"shardCount"`
	RetentionWindow int     `yaml:"retentionWindow"`
	CleanPassSize   int     `yaml:"cleanPassSize"`
	SegmentCapacity uint32  `yaml:"segmentCapacity"`
	ShrinkRatio     float64 `yaml:"shrinkRatio"`
	ReadCacheMB     int     `yaml:"readCacheMB"`
	KVCacheMB       int     `yaml:"kvCacheMB"`
}

func loadEngineOptions(ctx *cli.Context) *accountsdb.Options {
	cfg := engineConfig{
		CacheMB:         ctx.Int(cacheFlag.Name),
		RetentionWindow: ctx.Int(retentionFlag.Name),
	}
	if path := ctx.String(configFlag.Name); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			fatal(fmt.Sprintf("read config file [%v]: %v", path, err))
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			fatal(fmt.Sprintf("parse config file [%v]: %v", path, err))
		}
	}

	return &accountsdb.Options{
		CacheByteBudget: int64(normalizeCacheSize(cfg.CacheMB)) * 1024 * 1024,
		ShardCount:      cfg.ShardCount,
		RetentionWindow: cfg.RetentionWindow,
		CleanPassSize:   cfg.CleanPassSize,
		SegmentCapacity: cfg.SegmentCapacity,
		ShrinkRatio:     cfg.ShrinkRatio,
		ReadCacheBytes:  cfg.ReadCacheMB * 1024 * 1024,
		KVCacheSizeMB:   cfg.KVCacheMB,
	}
}

func normalizeCacheSize(sizeMB int) int {
	if sizeMB < 128 {
		sizeMB = 128
	}

	var mem gosigar.Mem
	if err := mem.Get(); err != nil {
		log.Warn("failed to get total mem:", "err", err)
	} else {
		// limit to 1/2 os physical ram
		limitMB := int(mem.Total / 1024 / 1024 / 2)
		if sizeMB > limitMB {
			sizeMB = limitMB
			log.Warn("cache size(MB) limited", "limit", limitMB)
		}
	}
	return sizeMB
}

func openEngine(ctx *cli.Context) *accountsdb.AccountsDB {
	dataDir := ctx.String(dataDirFlag.Name)
	if dataDir == "" {
		fatal("unable to infer default data dir, use -data-dir to specify one")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		fatal(fmt.Sprintf("create data dir [%v]: %v", dataDir, err))
	}

	db, err := accountsdb.Open(dataDir, loadEngineOptions(ctx))
	if err != nil {
		fatal(fmt.Sprintf("open account database [%v]: %v", dataDir, err))
	}
	return db
}
