package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/mdp/qrterminal/v3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/onchain-issuer/issuance-engine/config"
	"github.com/onchain-issuer/issuance-engine/internal/credential"
	"github.com/onchain-issuer/issuance-engine/pkg/auth"
	"github.com/onchain-issuer/issuance-engine/pkg/flow"
	"github.com/onchain-issuer/issuance-engine/pkg/identity"
	"github.com/onchain-issuer/issuance-engine/pkg/issuer"
	"github.com/onchain-issuer/issuance-engine/pkg/social"
	"github.com/onchain-issuer/issuance-engine/pkg/storage"
	"github.com/onchain-issuer/issuance-engine/pkg/wallet"
)

const configPathEnvVar = "ISSUANCE_ENGINE_CONFIG_PATH"

// retryPause keeps a failed step retryable without hammering the issuer node
const retryPause = 2 * time.Second

func main() {
	logrus.Info("Starting up...")

	if err := run(); err != nil {
		logrus.Fatalf("main: error: %s", err.Error())
	}
}

// startup and shutdown logic
func run() error {
	configPath := config.DefaultConfigPath
	if envConfigPath, present := os.LookupEnv(configPathEnvVar); present {
		logrus.Infof("loading config from env var path: %s", envConfigPath)
		configPath = envConfigPath
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logrus.Fatalf("could not instantiate config: %s", err.Error())
	}
	if cfg == nil {
		// --help or --version output already printed
		return nil
	}

	if logFile := configureLogger(cfg.Log.Level, cfg.Log.Location); logFile != nil {
		defer func(logFile *os.File) {
			if err = logFile.Close(); err != nil {
				logrus.WithError(err).Error("failed to close log file")
			}
		}(logFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewBoltDBWithFile(cfg.Storage.Path)
	if err != nil {
		return errors.Wrap(err, "opening storage")
	}
	defer func() {
		if err = store.Close(); err != nil {
			logrus.WithError(err).Error("failed to close storage")
		}
	}()

	identityCtx, err := identity.NewContext(store)
	if err != nil {
		return errors.Wrap(err, "hydrating identity context")
	}

	client, err := issuer.NewClient(cfg.Issuer.NodeHost, &http.Client{Timeout: cfg.Issuer.RequestTimeout})
	if err != nil {
		return errors.Wrap(err, "creating issuer client")
	}
	if err = waitForIssuerNode(ctx, client); err != nil {
		return errors.Wrap(err, "issuer node is not reachable")
	}

	poller, err := auth.NewPoller(client, auth.Options{
		Interval:    cfg.Issuer.PollInterval,
		MaxAttempts: cfg.Issuer.PollMaxAttempts,
	})
	if err != nil {
		return errors.Wrap(err, "creating auth poller")
	}

	provider, err := wallet.NewRPCProvider(cfg.Wallet.ProviderEndpoint, nil)
	if err != nil {
		return errors.Wrap(err, "creating wallet provider")
	}
	connector := wallet.NewConnector(provider)

	verifier, err := social.NewOAuthVerifier(social.OAuthOptions{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		AuthURL:      cfg.OAuth.AuthURL,
		TokenURL:     cfg.OAuth.TokenURL,
		RedirectURL:  cfg.OAuth.RedirectURL,
		ListenAddr:   cfg.OAuth.ListenAddr,
	})
	if err != nil {
		return errors.Wrap(err, "creating social verifier")
	}

	builder := credential.NewBuilder(credential.Options{
		SocialSchema:      cfg.Credential.SocialSchema,
		BalanceSchema:     cfg.Credential.BalanceSchema,
		DefaultExpiration: cfg.Credential.DefaultExpiration,
	})

	orchestrator, err := flow.NewOrchestrator(identityCtx, poller, client, connector, verifier, builder,
		flow.Options{Kind: credential.Kind(cfg.Credential.Kind)})
	if err != nil {
		return errors.Wrap(err, "creating orchestrator")
	}

	return runFlow(ctx, orchestrator, client, identityCtx)
}

// runFlow drives the orchestrator step by step until the credential offer is on screen.
// Transport and wallet failures leave the current step retryable; guard redirects are
// silent navigation.
func runFlow(ctx context.Context, orchestrator *flow.Orchestrator, client *issuer.Client, identityCtx *identity.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		var err error
		switch orchestrator.CurrentStep() {
		case flow.StepSelectIssuer:
			err = selectIssuer(ctx, orchestrator, client, identityCtx)
		case flow.StepAuthenticate:
			logrus.Info("step 1: scan the QR code with your identity wallet")
			err = orchestrator.Authenticate(ctx, renderQR)
		case flow.StepConnectWallet:
			logrus.Info("step 2: connect your wallet")
			err = orchestrator.ConnectWallet(ctx)
		case flow.StepLinkSocial:
			logrus.Info("step 3: link your social account")
			err = orchestrator.LinkSocial(ctx)
		case flow.StepReview:
			err = reviewAndSubmit(ctx, orchestrator)
		case flow.StepAcceptOffer:
			logrus.Info("step 5: scan the QR code with your identity wallet to accept the credential")
			var offer json.RawMessage
			if offer, err = orchestrator.FetchOffer(ctx); err == nil && offer != nil {
				renderQR(offer)
			}
		case flow.StepDone:
			logrus.Info("credential issued; scan the offer above to add it to your wallet")
			return nil
		}

		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			logrus.WithError(err).Error("step failed, retrying")
			pause(ctx)
		}
	}
}

func selectIssuer(ctx context.Context, orchestrator *flow.Orchestrator, client *issuer.Client, identityCtx *identity.Context) error {
	if selected := identityCtx.Issuer(); selected != "" {
		return orchestrator.SelectIssuer(selected)
	}
	issuers, err := client.ListIssuers(ctx)
	if err != nil {
		return err
	}
	if len(issuers) == 0 {
		return errors.New("issuer node reports no issuers")
	}
	logrus.Infof("issuing against %s", issuers[0])
	return orchestrator.SelectIssuer(issuers[0])
}

func reviewAndSubmit(ctx context.Context, orchestrator *flow.Orchestrator) error {
	logrus.Info("step 4: review and submit your credential request")
	draft, err := orchestrator.Draft(ctx)
	if err != nil || draft == nil {
		return err
	}
	prettyDraft, err := json.MarshalIndent(draft, "", "  ")
	if err != nil {
		return errors.Wrap(err, "rendering draft")
	}
	logrus.Infof("credential request:\n%s", prettyDraft)
	return orchestrator.Submit(ctx)
}

// waitForIssuerNode probes the issuer node until it answers, with bounded exponential backoff.
func waitForIssuerNode(ctx context.Context, client *issuer.Client) error {
	probe := func() error {
		_, err := client.ListIssuers(ctx)
		return err
	}
	return backoff.Retry(probe, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx))
}

func renderQR(payload json.RawMessage) {
	qrterminal.GenerateWithConfig(string(payload), qrterminal.Config{
		HalfBlocks: false,
		BlackChar:  qrterminal.WHITE,
		WhiteChar:  qrterminal.BLACK,
		Level:      qrterminal.M,
		Writer:     os.Stdout,
		QuietZone:  1,
	})
}

func pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(retryPause):
	}
}

// configureLogger configures the logger to log to the given location and returns a file
// pointer to a logs file that should be closed on shutdown
func configureLogger(level, location string) *os.File {
	if level != "" {
		logLevel, err := logrus.ParseLevel(level)
		if err != nil {
			logrus.WithError(err).Errorf("could not parse log level<%s>, setting to info", level)
			logrus.SetLevel(logrus.InfoLevel)
		} else {
			logrus.SetLevel(logLevel)
		}
	}

	now := time.Now()
	logrus.SetOutput(os.Stdout)
	if location != "" {
		logFile := location + "/" + config.ServiceName + "-" + now.Format(time.DateOnly) + "-" + strconv.FormatInt(now.Unix(), 10) + ".log"
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			logrus.WithError(err).Warn("failed to create logs file, using default stdout")
		} else {
			mw := io.MultiWriter(os.Stdout, file)
			logrus.SetOutput(mw)
		}
		return file
	}
	return nil
}
