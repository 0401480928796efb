package main

import (
	"github.com/rekapu/go-rekapu/server"
)

func main() {
	server.Init()
}
