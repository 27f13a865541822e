package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/urfave/cli"
)

var healthCommand = cli.Command{
	Name:  "health",
	Usage: "check whether the daemon's REST API is reachable",
	Action: func(ctx *cli.Context) error {
		c := newClient(ctx)
		var out map[string]string
		if err := c.get("/healthz", &out); err != nil {
			return err
		}
		fmt.Println(out["status"])
		return nil
	},
}

var walletBalanceCommand = cli.Command{
	Name:      "walletbalance",
	Usage:     "show the wallet balance for an owner id",
	ArgsUsage: "owner-id",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.NewExitError("expected exactly one argument: owner-id", 1)
		}
		c := newClient(ctx)
		var out json.RawMessage
		if err := c.get("/api/v1/wallets/"+ctx.Args().First(), &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var createJobCommand = cli.Command{
	Name:      "createjob",
	Usage:     "post a new job",
	ArgsUsage: "employer-id category title description budget platform-fee",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 6 {
			return cli.NewExitError("expected: employer-id category title description budget platform-fee", 1)
		}
		args := ctx.Args()
		budget, err := strconv.ParseInt(args.Get(4), 10, 64)
		if err != nil {
			return cli.NewExitError("budget must be an integer", 1)
		}
		platformFee, err := strconv.ParseInt(args.Get(5), 10, 64)
		if err != nil {
			return cli.NewExitError("platform-fee must be an integer", 1)
		}
		body := map[string]interface{}{
			"employer_id":  args.Get(0),
			"category":     args.Get(1),
			"title":        args.Get(2),
			"description":  args.Get(3),
			"budget":       budget,
			"platform_fee": platformFee,
		}
		c := newClient(ctx)
		var out json.RawMessage
		if err := c.post("/api/v1/jobs", body, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var assignWorkerCommand = cli.Command{
	Name:      "assignworker",
	Usage:     "assign a worker to a job, funding escrow from the employer's wallet",
	ArgsUsage: "job-id worker-id employer-wallet-id",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 3 {
			return cli.NewExitError("expected: job-id worker-id employer-wallet-id", 1)
		}
		args := ctx.Args()
		body := map[string]interface{}{
			"worker_id":          args.Get(1),
			"employer_wallet_id": args.Get(2),
		}
		c := newClient(ctx)
		var out json.RawMessage
		if err := c.post("/api/v1/jobs/"+args.Get(0)+"/assign", body, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var payOrderCommand = cli.Command{
	Name:      "payorder",
	Usage:     "pay a pending order from the buyer's wallet",
	ArgsUsage: "order-id",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.NewExitError("expected exactly one argument: order-id", 1)
		}
		c := newClient(ctx)
		var out json.RawMessage
		if err := c.post("/api/v1/orders/"+ctx.Args().First()+"/pay", nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var createChatCommand = cli.Command{
	Name:      "createchat",
	Usage:     "open or fetch the chat between the caller and another user",
	ArgsUsage: "other-user-id",
	Action: func(ctx *cli.Context) error {
		if ctx.NArg() != 1 {
			return cli.NewExitError("expected exactly one argument: other-user-id", 1)
		}
		body := map[string]interface{}{"other_user_id": ctx.Args().First()}
		c := newClient(ctx)
		var out json.RawMessage
		if err := c.post("/api/v1/chats", body, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

func printJSON(raw json.RawMessage) error {
	pretty, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}
