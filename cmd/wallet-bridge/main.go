package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"moff.io/wallet-bridge/internal/bridge"
	"moff.io/wallet-bridge/internal/cache"
	"moff.io/wallet-bridge/internal/chains"
	"moff.io/wallet-bridge/internal/config"
	"moff.io/wallet-bridge/internal/decoder"
	"moff.io/wallet-bridge/internal/http"
	"moff.io/wallet-bridge/internal/relay"
	"moff.io/wallet-bridge/internal/signer"
	"moff.io/wallet-bridge/internal/starter"
	"moff.io/wallet-bridge/internal/wrapper"
	"moff.io/wallet-bridge/pkg/errors"
	"moff.io/wallet-bridge/pkg/log"
)

func main() {
	log.Infof("Starting wallet bridge")
	startApp()
}

func startApp() {
	defer func() {
		if i := recover(); i != nil {
			log.Fatal(errors.ErrorfAndReport("%v", i))
		}
	}()
	config.Read()
	log.SetLevel(config.Global.LogLevel)
	if config.Global.SentryDSN != "" {
		if err := errors.NewSentryReporter(config.Global.SentryDSN); err != nil {
			log.Error(errors.Wrap(err, "init sentry reporter"))
		}
	}
	if config.Global.LarkAlarmWebhook != "" {
		errors.NewLarkReporter(config.Global.LarkAlarmWebhook, time.Minute)
	}
	ctx := context.Background()
	if config.Global.RedisCredential.Address != "" {
		cache.Init(&config.Global.RedisCredential)
		defer cache.Close()
	}

	registry := chains.NewRegistry(config.Global.Chains)
	wallet, err := signer.NewLocal(config.Global.Wallet.PrivateKey,
		config.Global.Wallet.DefaultChainID, registry)
	if err != nil {
		log.Fatal(errors.Wrap(err, "init wallet signer"))
	}

	strategy, err := wrapper.NewFromConfig(config.Global.Execution,
		config.Global.Wallet.DefaultChainID, readerFor(wallet))
	if err != nil {
		log.Fatal(errors.Wrap(err, "init execution strategy"))
	}
	if account, ok := strategy.(*wrapper.SmartAccount); ok {
		account.BindSigner(wallet.Address())
	}

	abis := decoder.NewCachedSource(registry,
		config.Global.Decoder.MaxConcurrentLookups,
		time.Duration(config.Global.Decoder.ABICacheTTLMinutes)*time.Minute)
	pipeline := decoder.NewPipeline(abis)

	relayClient := relay.NewClient(config.Global.Relay)
	defer relayClient.Close()

	b := bridge.New(relayClient, wallet, strategy, registry, pipeline)
	server := http.NewServer(config.Global.HTTPListen, b)
	starter.Start(ctx, b, server)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infof("Shutting down wallet bridge")
	b.Stop()
}

func readerFor(wallet *signer.Local) wrapper.ReaderFunc {
	return func(chainID int64) (wrapper.ChainReader, error) {
		client, err := wallet.Client(chainID)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}
