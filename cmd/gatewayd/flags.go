package main

import (
	"github.com/ark-relay/gateway/internal/config"
	"github.com/urfave/cli/v2"
)

var flags = []cli.Flag{
	config.Datadir,
	config.LogLevel,
	config.DbType,
	config.DbUrl,
	config.LiveStoreType,
	config.RedisUrl,
	config.RedisNumOfRetries,
	config.SchedulerType,
	config.RelayURLs,
	config.RelayPrivKey,
	config.ArkDaemonAddr,
	config.ArkDaemonInsecure,
	config.LightningDaemonAddr,
	config.LightningDaemonInsecure,
	config.LightningTLSCertPath,
	config.LightningMacaroonHex,
	config.TapdDaemonAddr,
	config.TapdDaemonInsecure,
	config.AssetIDs,
	config.InventoryFeeCeiling,
	config.OtelCollectorEndpoint,
}
