package main

import "github.com/mistic96/payment-broker/cmd"

func main() {
	cmd.Execute()
}
