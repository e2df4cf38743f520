package main

import "github.com/vietddude/racefetch/internal/cli"

func main() {
	cli.Execute()
}
