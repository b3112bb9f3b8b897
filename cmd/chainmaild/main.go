package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chainmail-net/chainmail/internal/api"
	"github.com/chainmail-net/chainmail/internal/config"
	"github.com/chainmail-net/chainmail/internal/directory"
	"github.com/chainmail-net/chainmail/internal/logger"
	"github.com/chainmail-net/chainmail/internal/mail"
	smtpgw "github.com/chainmail-net/chainmail/internal/smtp"
	"github.com/chainmail-net/chainmail/internal/wallet"
	"github.com/chainmail-net/chainmail/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		slog.Error("chainmaild failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWithValidation()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	chain, err := loadChain(log)
	if err != nil {
		return err
	}

	keyWallet := wallet.NewKeyWallet()
	for _, name := range localAccounts() {
		account, err := keyWallet.CreateAccount(name, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("create local account %q: %w", name, err)
		}
		chain.PutAccount(&directory.AccountRecord{
			Name:             account.Name,
			OwnerKey:         account.OwnerKey,
			ActiveKey:        account.ActiveKey,
			RegistrationDate: account.RegistrationDate,
		})
		log.Info("local account ready",
			slog.String("name", account.Name),
			slog.String("address", account.Address.String()))
	}

	hub := websocket.NewHub(log)
	go hub.Run()

	client := mail.New(mail.Options{
		Wallet:         keyWallet,
		Chain:          chain,
		DefaultServers: cfg.DefaultMailServers,
		PowTarget:      cfg.PowTarget,
		Logger:         log,
	})
	client.NewMailNotifier = hub.NotifyNewMail
	client.NewTransactionNotifier = hub.NotifyTransaction

	if err := client.Open(cfg.DataDir); err != nil {
		return fmt.Errorf("open mail client: %w", err)
	}
	defer client.Close()

	router := api.NewRouter(&api.RouterConfig{
		Client: client,
		IsOpen: client.IsOpen,
		Hub:    hub,
		Config: cfg,
		Logger: log,
	})

	gateway := smtpgw.NewServer(smtpgw.NewBackend(&smtpgw.BackendConfig{
		Client: client,
		Chain:  chain,
		Domain: cfg.GatewayDomain,
		Logger: log,
	}), fmt.Sprintf(":%d", cfg.SMTPPort))

	errCh := make(chan error, 2)
	go func() {
		log.Info("API server listening", slog.Int("port", cfg.APIPort))
		if err := router.Start(fmt.Sprintf(":%d", cfg.APIPort)); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		log.Info("SMTP gateway listening", slog.Int("port", cfg.SMTPPort))
		if err := gateway.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("smtp gateway: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := router.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown", slog.String("error", err.Error()))
	}
	if err := gateway.Close(); err != nil {
		log.Warn("smtp shutdown", slog.String("error", err.Error()))
	}
	return nil
}

// loadChain reads the on-chain account directory snapshot, or starts
// with an empty one when none is configured.
func loadChain(log *slog.Logger) (*directory.StaticChainDB, error) {
	path := os.Getenv("CHAIN_DIRECTORY")
	if path == "" {
		log.Warn("CHAIN_DIRECTORY not set, starting with an empty account directory")
		return directory.NewStaticChainDB(), nil
	}
	chain, err := directory.LoadChainFile(path)
	if err != nil {
		return nil, err
	}
	return chain, nil
}

// localAccounts lists the wallet accounts to provision at startup.
func localAccounts() []string {
	names := make([]string, 0)
	for _, name := range strings.Split(os.Getenv("LOCAL_ACCOUNTS"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}
