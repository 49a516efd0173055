package main

import "github.com/AgilWave/examina-proctor/cmd"

func main() {
	cmd.Execute()
}
