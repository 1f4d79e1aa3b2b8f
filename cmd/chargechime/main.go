package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"chargechime/internal/audio"
	"chargechime/internal/config"
	"chargechime/internal/control"
	"chargechime/internal/controller"
	"chargechime/internal/diag"
	"chargechime/internal/muteagent"
	"chargechime/internal/power"
	"chargechime/internal/service"
	"chargechime/internal/sessions"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "chargechime: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return serviceCmd(nil)
	}
	switch args[0] {
	case "service":
		return serviceCmd(args[1:])
	case muteagent.Marker:
		return agentCmd(args[1:])
	case "play":
		return playCmd(args[1:], stdout)
	case "status":
		return statusCmd(args[1:], stdout)
	case diag.Subcommand:
		return diagnoseCmd(args[1:], stdout)
	case "token":
		return tokenCmd(args[1:], stdout)
	case "version", "--version", "-version":
		fmt.Fprintf(stdout, "chargechime %s (%s) %s\n", version, commit, date)
		return nil
	case "help", "-h", "--help":
		usage(stdout)
		return nil
	}
	if strings.HasPrefix(args[0], "-") {
		return serviceCmd(args)
	}
	usage(stdout)
	return fmt.Errorf("unknown command %q", args[0])
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "chargechime [command] [args]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  service        Run the service (default)")
	fmt.Fprintln(w, "  play           Ask the running service to play the notification")
	fmt.Fprintln(w, "  status         Show session agents and playback state")
	fmt.Fprintln(w, "  diagnose       Print power, session and audio state")
	fmt.Fprintln(w, "  token          Issue a control token")
	fmt.Fprintln(w, "  version        Print version")
}

func serviceCmd(args []string) error {
	fs := pflag.NewFlagSet("service", pflag.ContinueOnError)
	cfgPath := fs.String("config", "", "configuration file (default $"+config.EnvPath+")")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return err
	}

	isService, err := service.IsWindowsService()
	if err != nil {
		return fmt.Errorf("detect service manager: %w", err)
	}
	if isService {
		return service.RunWindowsService(config.Path(*cfgPath))
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return service.RunForeground(context.Background(), config.Path(*cfgPath), logger)
}

// agentCmd is the session-side mute helper. It is started by the service, not
// by users, and logs nothing.
func agentCmd(args []string) error {
	params, err := muteagent.ParseArgs(args)
	if err != nil {
		return err
	}
	in, out, err := params.Open()
	if err != nil {
		return err
	}
	a := &muteagent.Agent{
		ControllerPID: params.ControllerPID,
		In:            in,
		Out:           out,
		Muter:         audio.NewSessionMuter(),
	}
	return a.Run()
}

type clientFlags struct {
	cfgPath *string
	addr    *string
	token   *string
	timeout *time.Duration
}

func addClientFlags(fs *pflag.FlagSet) clientFlags {
	return clientFlags{
		cfgPath: fs.String("config", "", "configuration file (default $"+config.EnvPath+")"),
		addr:    fs.String("addr", "", "control address (default from config)"),
		token:   fs.String("token", "", "control token (default: issued from the configured secret)"),
		timeout: fs.Duration("timeout", 10*time.Second, "request timeout"),
	}
}

func (f clientFlags) client() (*control.Client, error) {
	addr, token := *f.addr, *f.token
	if addr == "" || token == "" {
		cfg, err := config.Load(config.Path(*f.cfgPath))
		if err != nil {
			return nil, err
		}
		if addr == "" {
			addr = cfg.Control.Addr
		}
		if token == "" {
			if cfg.Control.TokenSecret == "" {
				return nil, errors.New("no --token given and no control.token_secret configured")
			}
			token, err = control.NewTokenManager(cfg.Control.TokenSecret).Issue("cli", time.Minute)
			if err != nil {
				return nil, err
			}
		}
	}
	if addr == "" {
		return nil, errors.New("control surface disabled: no address configured")
	}
	return &control.Client{Addr: addr, Token: token}, nil
}

func playCmd(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("play", pflag.ContinueOnError)
	cf := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := cf.client()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), *cf.timeout)
	defer cancel()
	if _, err := client.Command(ctx, controller.CommandPlay); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "playback requested")
	return nil
}

func statusCmd(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
	cf := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := cf.client()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), *cf.timeout)
	defer cancel()
	st, err := client.Status(ctx)
	if err != nil {
		return err
	}
	printStatus(stdout, st)
	return nil
}

func printStatus(w io.Writer, st control.Message) {
	fmt.Fprintf(w, "playing: %t\nadjustment: %s\n", st.Playing, st.Adjustment)
	if len(st.Sessions) == 0 {
		fmt.Fprintln(w, "sessions: none")
		return
	}
	fmt.Fprintln(w, "sessions:")
	for _, s := range st.Sessions {
		state := "alive"
		if !s.Alive {
			state = "gone"
		}
		fmt.Fprintf(w, "  %d agent=%d %s\n", s.ID, s.AgentPID, state)
	}
}

func diagnoseCmd(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet(diag.Subcommand, pflag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	writeDiagnostics(ctx, stdout, power.NewSource(), sessions.NewSource(), audio.NewEndpoint(), audio.ListSessions)
	return nil
}

type endpointReader interface {
	MasterVolume() (float32, error)
	Mute() (bool, error)
}

func writeDiagnostics(ctx context.Context, w io.Writer, pw power.Source, src sessions.Source, ep endpointReader, list func() ([]audio.LocalSession, error)) {
	if st, err := pw.Status(); err != nil {
		fmt.Fprintf(w, "power: error: %v\n", err)
	} else {
		fmt.Fprintf(w, "power: %s charging=%t\n", st, st.Charging())
	}

	if ids, err := src.Active(ctx); err != nil {
		fmt.Fprintf(w, "interactive sessions: error: %v\n", err)
	} else {
		fmt.Fprintf(w, "interactive sessions: %v\n", ids)
	}

	vol, volErr := ep.MasterVolume()
	muted, muteErr := ep.Mute()
	if err := errors.Join(volErr, muteErr); err != nil {
		fmt.Fprintf(w, "master endpoint: error: %v\n", err)
	} else {
		fmt.Fprintf(w, "master endpoint: volume=%.0f%% muted=%t\n", vol*100, muted)
	}

	local, err := list()
	if err != nil {
		fmt.Fprintf(w, "audio sessions: error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "audio sessions: %d\n", len(local))
	for _, s := range local {
		fmt.Fprintf(w, "  %s\n", s)
	}
}

func tokenCmd(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	cfgPath := fs.String("config", "", "configuration file (default $"+config.EnvPath+")")
	subject := fs.String("subject", "cli", "token subject")
	ttl := fs.Duration("ttl", 0, "token lifetime (default control.token_ttl)")
	printQR := fs.Bool("qr", false, "print the control URL as a QR code")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(config.Path(*cfgPath))
	if err != nil {
		return err
	}
	if cfg.Control.TokenSecret == "" {
		return errors.New("control.token_secret is not configured")
	}
	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = cfg.Control.TokenTTL
	}
	token, err := control.NewTokenManager(cfg.Control.TokenSecret).Issue(*subject, lifetime)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, token)
	if *printQR {
		if cfg.Control.Addr == "" {
			return errors.New("control.addr is not configured")
		}
		u := control.URL(cfg.Control.Addr, token)
		fmt.Fprintln(stdout, u)
		control.RenderQR(stdout, u)
		fmt.Fprintln(stdout)
	}
	return nil
}
