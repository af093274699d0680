package main

import (
	"github.com/leshachaplin/trackpost/app"
	"github.com/leshachaplin/trackpost/internal/config"
)

func main() {
	app.New(config.Load).Start()
}
