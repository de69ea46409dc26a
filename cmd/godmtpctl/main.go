// Admin CLI for the GoDMTP daemon.
package main

import "github.com/dantte-lp/godmtp/cmd/godmtpctl/commands"

func main() {
	commands.Execute()
}
