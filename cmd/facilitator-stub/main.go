package main

import (
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/x402pay/payments/internal/stub"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	chainID := int64(getEnvInt("STUB_CHAIN_ID", 56))
	opts := stub.Options{
		Network: getEnv("STUB_NETWORK", "bsc"),
		ChainID: big.NewInt(chainID),
	}

	server := stub.New(opts, log)
	app := server.App()

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down facilitator stub")
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", getEnv("STUB_PORT", "8402"))
	log.Info("starting facilitator stub",
		zap.String("addr", addr),
		zap.String("network", opts.Network),
		zap.Int64("chain_id", chainID),
	)
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}
