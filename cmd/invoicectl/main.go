package main

import "github.com/ledgerline/invoicing/cmd/invoicectl/cli"

func main() {
	cli.Execute()
}
