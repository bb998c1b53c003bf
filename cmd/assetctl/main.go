package main

import "github.com/AtRiskMedia/assetsign/internal/presentation/cli"

func main() {
	cli.Execute()
}
