package main

import (
	"github.com/nandemo-ya/testcontainers-go-pinot/internal/cli"
)

func main() {
	cli.Execute()
}
