package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nupi-ai/svchost/internal/binding"
	"github.com/nupi-ai/svchost/internal/config"
	configstore "github.com/nupi-ai/svchost/internal/config/store"
	"github.com/nupi-ai/svchost/internal/contract"
	"github.com/nupi-ai/svchost/internal/host"
	"github.com/nupi-ai/svchost/internal/listener"
	"github.com/nupi-ai/svchost/internal/listener/grpcrt"
	"github.com/nupi-ai/svchost/internal/procutil"
	"github.com/nupi-ai/svchost/internal/settings"
	"github.com/nupi-ai/svchost/internal/tlswarn"
)

const defaultListenAddress = "net.tcp://0.0.0.0:50051/Health"

type runFlags struct {
	configPath string
	useStore   bool
	model      string
	listen     string
	service    string
	token      string
	tlsCert    string
	tlsKey     string
}

func newRunCommand(global *globalFlags) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Host the health service until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := loggerFor(global)
			if err != nil {
				return err
			}
			defer logger.Sync()

			release, err := procutil.AcquirePIDFile(config.GetInstancePaths(global.instance).PIDFile)
			if err != nil {
				return err
			}
			defer release()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runHost(ctx, global, flags, logger)
		},
	}
	cmd.Flags().StringVar(&flags.configPath, "config", "", "TOML settings file (defaults to the instance svchost.toml when present)")
	cmd.Flags().BoolVar(&flags.useStore, "store", false, "load settings from the instance store instead of a TOML file")
	cmd.Flags().StringVar(&flags.model, "model", configstore.DefaultModel, "stored model name used with --store")
	cmd.Flags().StringVar(&flags.listen, "listen", defaultListenAddress, "endpoint address used when the settings declare none")
	cmd.Flags().StringVar(&flags.service, "service", "Health", "hosted service name")
	cmd.Flags().StringVar(&flags.token, "token", "", "require this bearer token on every call")
	cmd.Flags().StringVar(&flags.tlsCert, "tls-cert", "", "TLS certificate for transport security")
	cmd.Flags().StringVar(&flags.tlsKey, "tls-key", "", "TLS private key for transport security")
	return cmd
}

func runHost(ctx context.Context, global *globalFlags, flags *runFlags, logger *zap.Logger) error {
	m, err := loadModel(ctx, global.instance, flags)
	if err != nil {
		return err
	}

	healthServer := health.NewServer()
	impl, err := bindHealth(m, healthServer, flags.service, flags.listen)
	if err != nil {
		return err
	}

	opts := []grpcrt.Option{grpcrt.WithLogger(logger)}
	useTLS := flags.tlsCert != "" || flags.tlsKey != ""
	if useTLS {
		cert, err := tls.LoadX509KeyPair(flags.tlsCert, flags.tlsKey)
		if err != nil {
			return fmt.Errorf("load TLS key pair: %w", err)
		}
		opts = append(opts, grpcrt.WithTLSConfig(&tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}))
	}

	svc, err := host.New(impl, host.Options{
		Runtime:  grpcrt.New(opts...),
		Settings: m,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer svc.Dispose()

	faults := make(chan *host.FaultInfo, 1)
	svc.OnServerFaulted(func(f *host.FaultInfo) {
		select {
		case faults <- f:
		default:
		}
	})
	svc.OnServerClosed(func(e host.ClosedEvent) {
		logger.Info("svchost stopped", zap.String("service", e.Service))
	})

	svc.Open(bearerValidator(flags.token))
	if svc.State() != listener.StateOpened {
		select {
		case f := <-faults:
			return f
		default:
			return fmt.Errorf("host did not open (state %s)", svc.State())
		}
	}
	healthServer.SetServingStatus(impl.Name, healthpb.HealthCheckResponse_SERVING)

	// Opened fires while Open holds the host lock, so listener details are
	// read here instead of in the callback.
	fields := []zap.Field{zap.String("service", impl.Name), zap.Int("pid", os.Getpid())}
	if l, ok := svc.Listener().(*grpcrt.Listener); ok {
		fields = append(fields, zap.Strings("addresses", l.Addresses()))
		if addr := l.MetadataAddress(); addr != "" {
			fields = append(fields, zap.String("metadata", addr))
		}
		if !useTLS {
			tlswarn.Plaintext(logger, l.Addresses())
		}
	}
	logger.Info("svchost started", fields...)

	select {
	case <-ctx.Done():
		logger.Info("shutting down", zap.NamedError("reason", context.Cause(ctx)))
		healthServer.Shutdown()
		svc.Close()
		return nil
	case f := <-faults:
		return f
	}
}

func loadModel(ctx context.Context, instance string, flags *runFlags) (*settings.Model, error) {
	if flags.useStore {
		store, err := configstore.Open(configstore.Options{InstanceName: instance, ReadOnly: true})
		if err != nil {
			return nil, fmt.Errorf("open settings store: %w", err)
		}
		defer store.Close()
		return store.LoadModel(ctx, flags.model)
	}

	path := flags.configPath
	if path == "" {
		path = config.GetInstancePaths(instance).Config
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return settings.New(), nil
		}
	}
	return config.LoadFile(path)
}

// bindHealth attaches the health server to m as service name. Every declared
// endpoint of that service must carry the health contract; when none is
// declared one is added at listen.
func bindHealth(m *settings.Model, server healthpb.HealthServer, name, listen string) (contract.Implementation, error) {
	healthContract := contract.FromServiceDesc(&healthpb.Health_ServiceDesc)
	impl := contract.New(name, server, healthContract)

	if svc, ok := m.Service(name); ok && len(svc.Endpoints) > 0 {
		for _, ep := range svc.Endpoints {
			if ep.Contract != healthContract.Name {
				return contract.Implementation{}, fmt.Errorf("service %s: contract %s is not served by svchostd", name, ep.Contract)
			}
		}
		m.Implementation = &impl
		return impl, nil
	}

	u, err := (settings.EndpointDescriptor{Address: listen}).URL()
	if err != nil {
		return contract.Implementation{}, fmt.Errorf("listen address: %w", err)
	}
	kind := binding.ReliableOrderedTCP
	if u.Scheme == "http" || u.Scheme == "https" {
		kind = binding.SimpleHTTP
	}
	if err := m.AddService(impl, healthContract, listen, kind); err != nil {
		return contract.Implementation{}, err
	}
	return *m.Implementation, nil
}
