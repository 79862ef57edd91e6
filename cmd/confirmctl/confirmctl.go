// Copyright (c) 2015 Mute Communications Ltd.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// confirmctl inspects the local state of an ad confirmations client.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mutecomm/confirmations/client"
	"github.com/mutecomm/confirmations/client/statestore"
	"github.com/mutecomm/confirmations/log"
	_ "github.com/mutecomm/go-sqlcipher"
	"github.com/urfave/cli"
)

func openClient(c *cli.Context) (*client.Client, error) {
	store, err := statestore.NewFromFile(c.GlobalString("statedb"))
	if err != nil {
		return nil, err
	}
	cl := client.New(store, nil)
	if err := cl.Initialize(); err != nil {
		return nil, err
	}
	return cl, nil
}

func status(c *cli.Context) error {
	cl, err := openClient(c)
	if err != nil {
		return err
	}
	fmt.Printf("unblinded tokens:         %d\n", cl.UnblindedTokenCount())
	fmt.Printf("unblinded payment tokens: %d\n", cl.UnblindedPaymentTokenCount())
	fmt.Printf("queued confirmations:     %d\n", cl.FailedConfirmationCount())
	fmt.Printf("next token redemption:    %s\n",
		cl.NextTokenRedemptionDate().Format(time.RFC3339))
	return nil
}

func transactions(c *cli.Context) error {
	cl, err := openClient(c)
	if err != nil {
		return err
	}
	history := cl.GetTransactionHistory(time.Unix(0, 0), time.Now())
	for _, transaction := range history {
		fmt.Printf("%s\t%s\t%f\n",
			transaction.Timestamp.Format(time.RFC3339),
			transaction.Type,
			transaction.EstimatedRedemptionValue)
	}
	fmt.Printf("%d transaction(s)\n", len(history))
	return nil
}

func rewards(c *cli.Context) error {
	cl, err := openClient(c)
	if err != nil {
		return err
	}
	fmt.Printf("estimated pending rewards: %s\n", cl.EstimatedPendingRewards())
	fmt.Printf("ads received this month:   %d\n", cl.GetAdNotificationsReceivedThisMonth())
	fmt.Printf("next payment date:         %s\n",
		cl.NextPaymentDate(time.Now()).Format("2006-01-02"))
	return nil
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Usage = "tool that inspects local ad confirmations state."
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "statedb",
			Value: "confirmations.db",
			Usage: "state database file",
		},
		cli.StringFlag{
			Name:  "loglevel",
			Value: "info",
			Usage: "logging level {trace, debug, info, warn, error, critical}",
		},
		cli.StringFlag{
			Name:  "logdir",
			Usage: "directory to log output",
		},
		cli.BoolFlag{
			Name:  "logconsole",
			Usage: "enable logging to console",
		},
	}
	app.Before = func(c *cli.Context) error {
		return log.Init(c.String("loglevel"), "ctl  ", c.String("logdir"),
			c.Bool("logconsole"))
	}
	app.Commands = []cli.Command{
		{
			Name:   "status",
			Usage:  "Show token counts and redemption schedule",
			Action: func(c *cli.Context) error { return status(c) },
		},
		{
			Name:   "transactions",
			Usage:  "Dump the transaction history",
			Action: func(c *cli.Context) error { return transactions(c) },
		},
		{
			Name:   "rewards",
			Usage:  "Show the estimated pending rewards",
			Action: func(c *cli.Context) error { return rewards(c) },
		},
	}
	return app
}

func confirmctlMain() error {
	defer log.Flush()
	return newApp().Run(os.Args)
}

func main() {
	if err := confirmctlMain(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: error: %s\n", os.Args[0], err)
		os.Exit(1)
	}
}
