// Command recon reconciles bank transactions against receipts, payments and
// charters.
//
//	recon match --account chk [--write]
//	recon match-payments [--write]
//	recon audit-balance --account chk --opening 1250.00
//	recon dedupe --scope bank_transactions [--write]
//	recon import --file batch.json [--write]
//	recon serve --port 8085
//
// Exit status is 0 on success, 1 when the run left integrity errors or
// balance variances, 2 on bad usage and 3 when the run could not complete.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/eshaffer321/ledger-reconcile/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.NewApp().Run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
