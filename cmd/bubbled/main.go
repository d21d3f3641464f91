package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/bubbled/internal/daemon"
	"github.com/matheus3301/bubbled/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if _, err := os.Stat(profile.ConfigPath(name)); err != nil {
		fmt.Fprintf(os.Stderr, "error: profile %q is not configured; run: bubblectl --profile %s init --url <server> --password <password>\n", name, name)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{ProfileName: name}),
	)

	app.Run()
}
