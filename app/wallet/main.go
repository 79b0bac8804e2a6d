package main

import "github.com/ardanlabs/dlt/app/wallet/cmd"

func main() {
	cmd.Execute()
}
