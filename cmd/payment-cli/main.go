package main

import "github.com/mubaid99/payments/cmd/payment-cli/cmd"

func main() {
	cmd.Execute()
}
