package main

import (
	"os"

	"github.com/YCLstock/finnews-bot/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
