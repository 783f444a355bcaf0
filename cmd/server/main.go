package main

import "pbc/internal/app/server"

func main() {
	server.Run()
}
