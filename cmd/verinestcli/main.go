// Command verinestcli is the operational control plane for a running
// verinestd, the same role cmd/lncli/main.go plays for lnd: a thin
// urfave/cli wrapper that builds one client per invocation from global
// flags and dispatches to a single command. lncli dials a macaroon-
// authenticated gRPC connection; verinestcli instead carries a bearer
// token against the REST boundary httpapi exposes, since this domain
// has no macaroon/TLS material of its own.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[verinestcli] %v\n", err)
	os.Exit(1)
}

func newClient(ctx *cli.Context) *apiClient {
	return &apiClient{
		baseURL: ctx.GlobalString("apiserver"),
		token:   ctx.GlobalString("token"),
	}
}

func main() {
	app := cli.NewApp()
	app.Name = "verinestcli"
	app.Version = "0.1"
	app.Usage = "control plane for a running verinestd"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "apiserver",
			Value: "http://localhost:8000",
			Usage: "base URL (scheme://host:port) of the verinestd REST API",
		},
		cli.StringFlag{
			Name:  "token",
			Usage: "bearer token to authenticate as",
		},
	}
	app.Commands = []cli.Command{
		healthCommand,
		walletBalanceCommand,
		createJobCommand,
		assignWorkerCommand,
		payOrderCommand,
		createChatCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
