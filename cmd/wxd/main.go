package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/fx"

	"github.com/matheus3301/wxweb/internal/config"
	"github.com/matheus3301/wxweb/internal/contact"
	"github.com/matheus3301/wxweb/internal/daemon"
	"github.com/matheus3301/wxweb/internal/message"
	"github.com/matheus3301/wxweb/internal/reply"
	"github.com/matheus3301/wxweb/internal/session"
)

func main() {
	sessionFlag := pflag.StringP("session", "s", "", "session name (overrides config default)")
	configFlag := pflag.StringP("config", "c", session.ConfigPath(), "config file")
	hotReload := pflag.Bool("hot-reload", false, "resume the saved session and save it on exit")
	echo := pflag.Bool("echo", false, "reply to every text from a friend with the same text")
	pflag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Resolve(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if pflag.CommandLine.Changed("hot-reload") {
		cfg.HotReload = *hotReload
	}

	p := daemon.Params{SessionName: sessionName, Config: cfg}
	if *echo {
		p.Handlers = registerEcho
	}

	fx.New(daemon.Module(p)).Run()
}

func registerEcho(r *reply.Registry) {
	r.Register(func(_ context.Context, env *message.Envelope) (string, error) {
		return env.Text, nil
	}, []contact.Kind{contact.KindFriend}, message.Text)
}
