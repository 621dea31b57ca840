package main

import "github.com/jrepp/trace-launcher/cmd/trace-launcher/cmd"

func main() {
	cmd.Execute()
}
