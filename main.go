package main

import "github.com/sunbk201/httpmod/cmd"

func main() {
	cmd.Execute()
}
