package main

import "github.com/afoley587/coding-challenges-2025/grpc-user-service/cmd"

func main() {
	cmd.Execute()
}
