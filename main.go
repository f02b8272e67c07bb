package main

import "github.com/ValentinKolb/rtget/cmd"

func main() {
	cmd.Execute()
}
